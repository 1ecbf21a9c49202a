package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/keyshop-app/keyshop/internal/pkg/fulfillment"
	"github.com/keyshop-app/keyshop/internal/pkg/ledger"
	"github.com/keyshop-app/keyshop/internal/pkg/metrics/counter"
	"github.com/keyshop-app/keyshop/internal/pkg/reconcile"
	"github.com/keyshop-app/keyshop/internal/pkg/settings"
)

const fulfillmentJobTimeout = 2 * time.Minute

// FulfillmentRunner delivers a completed payment.
type FulfillmentRunner interface {
	Run(ctx context.Context, meta *ledger.Metadata) (*fulfillment.Result, error)
}

// Reconciler compares stored credentials against the panels. It covers
// both the worker-driven per-owner pass and the manager's periodic sweeps.
type Reconciler interface {
	ReconcileOwner(ctx context.Context, ownerID int64) (reconcile.Stats, error)
	ReconcileAll(ctx context.Context) (reconcile.Stats, error)
	SweepExpired(ctx context.Context) (int, error)
}

// SettingsSource hands out the current settings snapshot.
type SettingsSource interface {
	Snapshot() (*settings.Snapshot, error)
}

// Deps holds the services the workers dispatch into.
type Deps struct {
	Fulfill    FulfillmentRunner
	Reconciler Reconciler
	Settings   SettingsSource
}

var (
	depsMu sync.RWMutex
	deps   Deps
)

// Configure installs the worker dependencies. Must be called before the
// queue starts; jobs dequeued without a configured runner fail and retry.
func Configure(d Deps) {
	depsMu.Lock()
	defer depsMu.Unlock()
	deps = d
}

func currentDeps() Deps {
	depsMu.RLock()
	defer depsMu.RUnlock()
	return deps
}

// EnqueueFulfillment queues delivery of a completed payment.
func (q *Queue) EnqueueFulfillment(meta *ledger.Metadata) (*Job, error) {
	encoded, err := meta.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata for payment %s: %w", meta.PaymentID, err)
	}
	payload := FulfillmentJobPayload{PaymentID: meta.PaymentID, Metadata: encoded}
	return q.EnqueueJob(JobTypeFulfillment, payload.ToMap())
}

// EnqueueReconcileOwner queues a reconciliation pass for one user.
func (q *Queue) EnqueueReconcileOwner(ownerID int64) (*Job, error) {
	payload := ReconcileOwnerJobPayload{OwnerID: ownerID}
	return q.EnqueueJob(JobTypeReconcileOwner, payload.ToMap())
}

// processFulfillmentJob delivers a paid order
func (q *Queue) processFulfillmentJob(ctx context.Context, job *Job) error {
	d := currentDeps()
	if d.Fulfill == nil {
		return fmt.Errorf("fulfillment runner not configured")
	}

	payload, err := FulfillmentJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid fulfillment payload: %w", err)
	}

	meta, err := ledger.DecodeMetadata(payload.Metadata, payload.PaymentID)
	if err != nil {
		return fmt.Errorf("invalid metadata for payment %s: %w", payload.PaymentID, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, fulfillmentJobTimeout)
	defer cancel()

	res, err := d.Fulfill.Run(runCtx, meta)
	if err != nil {
		return fmt.Errorf("fulfillment for payment %s: %w", payload.PaymentID, err)
	}
	if res.Duplicate {
		log.Infof("[JobQueue] Payment %s already delivered, nothing to do", payload.PaymentID)
		return nil
	}

	if res.Fulfilled && meta.PlanID != 0 {
		if cerr := counter.AddPlanSale(meta.PlanID); cerr != nil {
			log.Warnf("[JobQueue] Sales counter for plan %d: %v", meta.PlanID, cerr)
		}
	}
	return nil
}

// processReconcileOwnerJob runs a per-user reconciliation pass
func (q *Queue) processReconcileOwnerJob(ctx context.Context, job *Job) error {
	d := currentDeps()
	if d.Reconciler == nil {
		return fmt.Errorf("reconciler not configured")
	}

	payload, err := ReconcileOwnerJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid reconcile payload: %w", err)
	}

	stats, err := d.Reconciler.ReconcileOwner(ctx, payload.OwnerID)
	if err != nil {
		return fmt.Errorf("reconcile owner %d: %w", payload.OwnerID, err)
	}
	log.Infof("[JobQueue] Reconciled owner %d: checked=%d marked=%d cleared=%d deleted=%d",
		payload.OwnerID, stats.Checked, stats.Marked, stats.Cleared, stats.Deleted)
	return nil
}
