package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/keyshop-app/keyshop/internal/pkg/metrics/counter"
)

const (
	defaultReconcileInterval = 6 * time.Hour
	defaultSweepInterval     = 1 * time.Hour
	backgroundRunTimeout     = 10 * time.Minute
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue              *Queue
	reconcileTicker    *time.Ticker
	sweepTicker        *time.Ticker
	counterFlushTicker *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			queue:  NewQueue(2),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	// Reconcile interval is operator-tunable; the sweep runs hourly so
	// expired keys are cut off close to their expiry time.
	m.reconcileTicker = time.NewTicker(m.reconcileInterval())
	m.wg.Add(1)
	go m.reconcileWorker()

	m.sweepTicker = time.NewTicker(defaultSweepInterval)
	m.wg.Add(1)
	go m.sweepWorker()

	// Start counter flush worker (Redis -> DB) every 30 seconds
	m.counterFlushTicker = time.NewTicker(30 * time.Second)
	m.wg.Add(1)
	go m.counterFlushWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.reconcileTicker != nil {
		m.reconcileTicker.Stop()
	}
	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// reconcileWorker runs the full panel reconciliation pass periodically
func (m *Manager) reconcileWorker() {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started reconcile worker (interval: %s)", m.reconcileInterval())

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Reconcile worker stopping")
			return
		case <-m.reconcileTicker.C:
			if err := m.runReconcileOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Reconcile error: %v", err)
			}
		}
	}
}

// sweepWorker removes expired credentials periodically
func (m *Manager) sweepWorker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Sweep worker stopping")
			return
		case <-m.sweepTicker.C:
			if err := m.runSweepOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Expired sweep error: %v", err)
			}
		}
	}
}

// counterFlushWorker periodically flushes pending sales counters from Redis to DB
func (m *Manager) counterFlushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Counter flush worker stopping")
			return
		case <-m.counterFlushTicker.C:
			if err := counter.FlushAll(); err != nil {
				log.Errorf("[JobQueue Manager] Counter flush error: %v", err)
			}
		}
	}
}

func (m *Manager) runReconcileOnce() error {
	d := currentDeps()
	if d.Reconciler == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), backgroundRunTimeout)
	defer cancel()
	stats, err := d.Reconciler.ReconcileAll(ctx)
	if err != nil {
		return err
	}
	log.Infof("[JobQueue Manager] Reconcile done: checked=%d marked=%d cleared=%d deleted=%d unknown=%d errors=%d",
		stats.Checked, stats.Marked, stats.Cleared, stats.Deleted, stats.Unknown, stats.Errors)
	return nil
}

func (m *Manager) runSweepOnce() error {
	d := currentDeps()
	if d.Reconciler == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), backgroundRunTimeout)
	defer cancel()
	removed, err := d.Reconciler.SweepExpired(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		log.Infof("[JobQueue Manager] Expired sweep removed %d credentials", removed)
	}
	return nil
}

// RunReconcileOnce exposes a manual trigger for a single reconcile pass (admin use).
func (m *Manager) RunReconcileOnce() error {
	return m.runReconcileOnce()
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) reconcileInterval() time.Duration {
	d := currentDeps()
	if d.Settings == nil {
		return defaultReconcileInterval
	}
	snap, err := d.Settings.Snapshot()
	if err != nil || snap.ReconcileInterval <= 0 {
		return defaultReconcileInterval
	}
	return snap.ReconcileInterval
}
