package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyshop-app/keyshop/app/models"
	"github.com/keyshop-app/keyshop/internal/pkg/provisioning"
)

type memCreds struct {
	mu   sync.Mutex
	rows map[uint]*models.Credential
}

func newMemCreds(rows ...*models.Credential) *memCreds {
	m := &memCreds{rows: map[uint]*models.Credential{}}
	for _, r := range rows {
		m.rows[r.ID] = r
	}
	return m
}

func (m *memCreds) Create(c *models.Credential) error { m.rows[c.ID] = c; return nil }
func (m *memCreds) GetByID(id uint) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return c, nil
}
func (m *memCreds) ListByUser(userID int64) ([]models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Credential
	for _, c := range m.rows {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}
func (m *memCreds) ListAll() ([]models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Credential
	for _, c := range m.rows {
		out = append(out, *c)
	}
	return out, nil
}
func (m *memCreds) ListExpiredBefore(cutoff time.Time) ([]models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Credential
	for _, c := range m.rows {
		if c.ExpiresAt.Before(cutoff) {
			out = append(out, *c)
		}
	}
	return out, nil
}
func (m *memCreds) Update(c *models.Credential) error { m.rows[c.ID] = c; return nil }
func (m *memCreds) SetMissingSince(id uint, at *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return errors.New("not found")
	}
	c.MissingSince = at
	return nil
}
func (m *memCreds) Delete(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

type memCatalog struct {
	hosts []models.Host
}

func (m *memCatalog) GetHost(name string) (*models.Host, error) {
	for i := range m.hosts {
		if m.hosts[i].Name == name {
			return &m.hosts[i], nil
		}
	}
	return nil, errors.New("host not found")
}
func (m *memCatalog) ListHosts() ([]models.Host, error)      { return m.hosts, nil }
func (m *memCatalog) GetPlan(id uint) (*models.Plan, error)  { return nil, errors.New("no plans") }
func (m *memCatalog) ListActivePlans(h string) ([]models.Plan, error) {
	return nil, nil
}

// scriptedPanel answers existence checks from a per-identity script and
// records deletions.
type scriptedPanel struct {
	mu       sync.Mutex
	presence map[string]provisioning.Presence
	existErr map[string]error
	checks   map[string]int
	deleted  []string
}

func newScriptedPanel() *scriptedPanel {
	return &scriptedPanel{
		presence: map[string]provisioning.Presence{},
		existErr: map[string]error{},
		checks:   map[string]int{},
	}
}

func (p *scriptedPanel) CreateOrExtend(ctx context.Context, host *models.Host, params provisioning.CreateParams) (*provisioning.Result, error) {
	return nil, errors.New("not used")
}
func (p *scriptedPanel) Exists(ctx context.Context, host *models.Host, identity string) (provisioning.Presence, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks[identity]++
	if err := p.existErr[identity]; err != nil {
		return provisioning.PresenceUnknown, err
	}
	return p.presence[identity], nil
}
func (p *scriptedPanel) Delete(ctx context.Context, host *models.Host, identity string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, identity)
	return true, nil
}

func testHost() models.Host {
	return models.Host{Name: "de-1", PanelURL: "https://panel.example"}
}

func activeCred(id uint, identity string) *models.Credential {
	return &models.Credential{
		ID:        id,
		UserID:    100,
		HostName:  "de-1",
		Identity:  identity,
		ExpiresAt: time.Now().AddDate(0, 1, 0),
	}
}

func newTestReconciler(creds *memCreds, panel provisioning.Client, now time.Time) *Reconciler {
	r := New(creds, &memCatalog{hosts: []models.Host{testHost()}}, panel, nil)
	r.now = func() time.Time { return now }
	return r
}

func TestFirstMissingObservationOnlyMarks(t *testing.T) {
	cred := activeCred(1, "u100-a@de-1.key")
	creds := newMemCreds(cred)
	panel := newScriptedPanel()
	panel.presence[cred.Identity] = provisioning.PresenceAbsent

	r := newTestReconciler(creds, panel, time.Now())
	stats, err := r.ReconcileAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Marked)
	assert.Equal(t, 0, stats.Deleted)
	row, err := creds.GetByID(1)
	require.NoError(t, err)
	assert.NotNil(t, row.MissingSince)
}

func TestMissingBeyondGraceDeletesAfterRecheck(t *testing.T) {
	now := time.Now()
	missing := now.Add(-25 * time.Hour)
	cred := activeCred(1, "u100-a@de-1.key")
	cred.MissingSince = &missing
	creds := newMemCreds(cred)
	panel := newScriptedPanel()
	panel.presence[cred.Identity] = provisioning.PresenceAbsent

	r := newTestReconciler(creds, panel, now)
	stats, err := r.ReconcileAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Deleted)
	_, err = creds.GetByID(1)
	assert.Error(t, err, "row is gone")
	assert.Equal(t, 2, panel.checks[cred.Identity], "delete happens only after a second existence check")
}

func TestMissingWithinGraceIsKept(t *testing.T) {
	now := time.Now()
	missing := now.Add(-2 * time.Hour)
	cred := activeCred(1, "u100-a@de-1.key")
	cred.MissingSince = &missing
	creds := newMemCreds(cred)
	panel := newScriptedPanel()
	panel.presence[cred.Identity] = provisioning.PresenceAbsent

	r := newTestReconciler(creds, panel, now)
	stats, err := r.ReconcileAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Deleted)
	row, err := creds.GetByID(1)
	require.NoError(t, err)
	assert.Equal(t, missing.Unix(), row.MissingSince.Unix(), "existing mark is not refreshed")
}

func TestReappearedCredentialClearsMark(t *testing.T) {
	now := time.Now()
	missing := now.Add(-30 * time.Hour)
	cred := activeCred(1, "u100-a@de-1.key")
	cred.MissingSince = &missing
	creds := newMemCreds(cred)
	panel := newScriptedPanel()
	panel.presence[cred.Identity] = provisioning.PresencePresent

	r := newTestReconciler(creds, panel, now)
	stats, err := r.ReconcileAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Cleared)
	row, err := creds.GetByID(1)
	require.NoError(t, err)
	assert.Nil(t, row.MissingSince)
}

func TestUnknownPresenceNeverAdvances(t *testing.T) {
	now := time.Now()
	missing := now.Add(-48 * time.Hour)
	cred := activeCred(1, "u100-a@de-1.key")
	cred.MissingSince = &missing
	creds := newMemCreds(cred)
	panel := newScriptedPanel()
	panel.existErr[cred.Identity] = errors.New("dial tcp: i/o timeout")

	r := newTestReconciler(creds, panel, now)
	stats, err := r.ReconcileAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Unknown)
	assert.Equal(t, 0, stats.Deleted)
	row, err := creds.GetByID(1)
	require.NoError(t, err)
	assert.NotNil(t, row.MissingSince, "mark stays while the panel is unreachable")
}

func TestRecheckSavesRecreatedCredential(t *testing.T) {
	now := time.Now()
	missing := now.Add(-25 * time.Hour)
	cred := activeCred(1, "u100-a@de-1.key")
	cred.MissingSince = &missing
	creds := newMemCreds(cred)

	// First check says absent, the re-check right before deletion says
	// present: the credential was recreated during the grace window.
	r := newTestReconciler(creds, &flippingPanel{}, now)
	stats, err := r.ReconcileAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Deleted)
	row, err := creds.GetByID(1)
	require.NoError(t, err)
	assert.Nil(t, row.MissingSince, "re-check clears the stale mark")
}

// flippingPanel reports absent on the first check and present afterwards.
type flippingPanel struct {
	calls int
}

func (p *flippingPanel) CreateOrExtend(ctx context.Context, host *models.Host, params provisioning.CreateParams) (*provisioning.Result, error) {
	return nil, errors.New("not used")
}
func (p *flippingPanel) Exists(ctx context.Context, host *models.Host, identity string) (provisioning.Presence, error) {
	p.calls++
	if p.calls == 1 {
		return provisioning.PresenceAbsent, nil
	}
	return provisioning.PresencePresent, nil
}
func (p *flippingPanel) Delete(ctx context.Context, host *models.Host, identity string) (bool, error) {
	return false, nil
}

func TestSweepExpiredDeletesPanelFirst(t *testing.T) {
	now := time.Now()
	expired := activeCred(1, "u100-old@de-1.key")
	expired.ExpiresAt = now.Add(-time.Hour)
	alive := activeCred(2, "u100-new@de-1.key")
	creds := newMemCreds(expired, alive)
	panel := newScriptedPanel()

	r := newTestReconciler(creds, panel, now)
	removed, err := r.SweepExpired(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"u100-old@de-1.key"}, panel.deleted)
	_, err = creds.GetByID(1)
	assert.Error(t, err)
	_, err = creds.GetByID(2)
	assert.NoError(t, err, "unexpired credential untouched")
}

func TestReconcileOwnerScopesToOneUser(t *testing.T) {
	mine := activeCred(1, "u100-a@de-1.key")
	other := activeCred(2, "u200-b@de-1.key")
	other.UserID = 200
	creds := newMemCreds(mine, other)
	panel := newScriptedPanel()
	panel.presence[mine.Identity] = provisioning.PresenceAbsent
	panel.presence[other.Identity] = provisioning.PresenceAbsent

	r := newTestReconciler(creds, panel, time.Now())
	stats, err := r.ReconcileOwner(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Checked)
	row, err := creds.GetByID(2)
	require.NoError(t, err)
	assert.Nil(t, row.MissingSince, "other users' credentials untouched")
}
