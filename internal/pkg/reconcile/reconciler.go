package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/keyshop-app/keyshop/app/models"
	"github.com/keyshop-app/keyshop/app/repository"
	"github.com/keyshop-app/keyshop/internal/pkg/notify"
	"github.com/keyshop-app/keyshop/internal/pkg/provisioning"
)

// missingGrace is how long a credential must stay continuously missing from
// its panel before the local row is dropped. A single missing observation
// never deletes anything; the panel gets a full grace window to come back.
const missingGrace = 24 * time.Hour

// hostConcurrency bounds how many panels are queried at once.
const hostConcurrency = 4

// Stats summarizes one reconciliation pass.
type Stats struct {
	Checked int
	Marked  int
	Cleared int
	Deleted int
	Unknown int
	Errors  int
}

func (s *Stats) add(other Stats) {
	s.Checked += other.Checked
	s.Marked += other.Marked
	s.Cleared += other.Cleared
	s.Deleted += other.Deleted
	s.Unknown += other.Unknown
	s.Errors += other.Errors
}

// Reconciler compares the local credential ledger against the remote panels
// and converges the two with hysteresis in the destructive direction.
type Reconciler struct {
	creds    repository.CredentialRepository
	catalog  repository.CatalogRepository
	prov     provisioning.Client
	notifier notify.Notifier

	// now is swapped out in tests.
	now func() time.Time
}

// New creates a reconciler.
func New(creds repository.CredentialRepository, catalog repository.CatalogRepository, prov provisioning.Client, notifier notify.Notifier) *Reconciler {
	return &Reconciler{
		creds:    creds,
		catalog:  catalog,
		prov:     prov,
		notifier: notifier,
		now:      time.Now,
	}
}

// ReconcileAll runs one reconciliation pass over every host, panels queried
// concurrently with a bounded fan-out.
func (r *Reconciler) ReconcileAll(ctx context.Context) (Stats, error) {
	hosts, err := r.catalog.ListHosts()
	if err != nil {
		return Stats{}, fmt.Errorf("reconcile: list hosts: %w", err)
	}
	all, err := r.creds.ListAll()
	if err != nil {
		return Stats{}, fmt.Errorf("reconcile: list credentials: %w", err)
	}

	byHost := make(map[string][]models.Credential)
	for _, c := range all {
		byHost[c.HostName] = append(byHost[c.HostName], c)
	}

	var (
		mu    sync.Mutex
		total Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hostConcurrency)
	for i := range hosts {
		host := hosts[i]
		g.Go(func() error {
			stats := r.reconcileHost(gctx, &host, byHost[host.Name])
			mu.Lock()
			total.add(stats)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}

	log.Infof("[Reconcile] pass done: checked=%d marked=%d cleared=%d deleted=%d unknown=%d errors=%d",
		total.Checked, total.Marked, total.Cleared, total.Deleted, total.Unknown, total.Errors)
	if total.Deleted > 0 {
		r.alert(ctx, fmt.Sprintf("reconciliation removed %d credentials missing from their panels for over %s", total.Deleted, missingGrace))
	}
	return total, nil
}

// ReconcileOwner runs a pass restricted to one user's credentials; the
// on-demand path behind the admin trigger.
func (r *Reconciler) ReconcileOwner(ctx context.Context, ownerID int64) (Stats, error) {
	creds, err := r.creds.ListByUser(ownerID)
	if err != nil {
		return Stats{}, fmt.Errorf("reconcile owner %d: %w", ownerID, err)
	}

	byHost := make(map[string][]models.Credential)
	for _, c := range creds {
		byHost[c.HostName] = append(byHost[c.HostName], c)
	}

	var total Stats
	for name, group := range byHost {
		host, err := r.catalog.GetHost(name)
		if err != nil {
			log.Warnf("[Reconcile] owner %d: host %s unknown: %v", ownerID, name, err)
			total.Errors += len(group)
			continue
		}
		total.add(r.reconcileHost(ctx, host, group))
	}
	return total, nil
}

func (r *Reconciler) reconcileHost(ctx context.Context, host *models.Host, creds []models.Credential) Stats {
	var stats Stats
	now := r.now()

	for i := range creds {
		cred := &creds[i]
		if ctx.Err() != nil {
			return stats
		}
		stats.Checked++

		presence, err := r.prov.Exists(ctx, host, cred.Identity)
		if err != nil || presence == provisioning.PresenceUnknown {
			// No reliable information; never advance toward deletion on it.
			stats.Unknown++
			if err != nil {
				log.Warnf("[Reconcile] %s on %s: presence check failed: %v", cred.Identity, host.Name, err)
			}
			continue
		}

		switch presence {
		case provisioning.PresencePresent:
			if cred.MissingSince != nil {
				if err := r.creds.SetMissingSince(cred.ID, nil); err != nil {
					stats.Errors++
					continue
				}
				stats.Cleared++
			}
		case provisioning.PresenceAbsent:
			if cred.MissingSince == nil {
				at := now
				if err := r.creds.SetMissingSince(cred.ID, &at); err != nil {
					stats.Errors++
					continue
				}
				stats.Marked++
				continue
			}
			if now.Sub(*cred.MissingSince) < missingGrace {
				continue
			}

			// Re-check immediately before dropping the row, so a credential
			// recreated during the grace window survives.
			again, err := r.prov.Exists(ctx, host, cred.Identity)
			if err != nil || again == provisioning.PresenceUnknown {
				stats.Unknown++
				continue
			}
			if again == provisioning.PresencePresent {
				if err := r.creds.SetMissingSince(cred.ID, nil); err != nil {
					stats.Errors++
					continue
				}
				stats.Cleared++
				continue
			}
			if err := r.creds.Delete(cred.ID); err != nil {
				log.Errorf("[Reconcile] %s: delete failed: %v", cred.Identity, err)
				stats.Errors++
				continue
			}
			stats.Deleted++
			log.Infof("[Reconcile] dropped %s: missing from %s since %s", cred.Identity, host.Name, cred.MissingSince.Format(time.RFC3339))
		}
	}
	return stats
}

// SweepExpired removes credentials whose paid time ran out: the remote
// panel entry goes first, the local row only after the panel confirmed.
func (r *Reconciler) SweepExpired(ctx context.Context) (int, error) {
	expired, err := r.creds.ListExpiredBefore(r.now())
	if err != nil {
		return 0, fmt.Errorf("sweep: list expired: %w", err)
	}

	removed := 0
	for i := range expired {
		cred := &expired[i]
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		host, err := r.catalog.GetHost(cred.HostName)
		if err != nil {
			log.Warnf("[Sweep] %s: host %s unknown: %v", cred.Identity, cred.HostName, err)
			continue
		}
		if _, err := r.prov.Delete(ctx, host, cred.Identity); err != nil {
			// Keeping the row means the next sweep retries the panel.
			log.Warnf("[Sweep] %s: panel delete failed, keeping row: %v", cred.Identity, err)
			continue
		}
		if err := r.creds.Delete(cred.ID); err != nil {
			log.Errorf("[Sweep] %s: row delete failed: %v", cred.Identity, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Infof("[Sweep] removed %d expired credentials", removed)
	}
	return removed, nil
}

func (r *Reconciler) alert(ctx context.Context, text string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.NotifyOperators(ctx, text); err != nil {
		log.Warnf("[Reconcile] operator alert failed: %v", err)
	}
}
