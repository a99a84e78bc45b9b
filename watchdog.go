package noncepool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/google/uuid"
)

// WatchdogConfig holds the reclamation loop parameters.
type WatchdogConfig struct {
	// ScanInterval is how often the registry is swept.
	ScanInterval time.Duration
	// ReclaimTimeout is the lease age past which an unreleased lease is
	// reclaimed.
	ReclaimTimeout time.Duration
}

// DefaultWatchdogConfig returns the default reclamation parameters.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		ScanInterval:   DefaultScanInterval,
		ReclaimTimeout: DefaultReclaimTimeout,
	}
}

type watchEntry struct {
	acquiredAt time.Time
	released   *atomic.Bool
	reclaim    func()
}

// LeaseWatchdog periodically scans outstanding leases and reclaims those
// whose reclaim timeout has elapsed without an explicit release. It is a
// safety net, not the primary release path: correct holders release
// explicitly or via Close, and the watchdog bounds the damage of a crashed
// task or a lost future.
type LeaseWatchdog struct {
	cfg WatchdogConfig

	mu      sync.Mutex
	entries map[uuid.UUID]*watchEntry

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLeaseWatchdog creates the watchdog and starts its background loop.
// Non-positive config values are corrected to defaults.
func NewLeaseWatchdog(cfg WatchdogConfig) *LeaseWatchdog {
	def := DefaultWatchdogConfig()
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if cfg.ReclaimTimeout <= 0 {
		cfg.ReclaimTimeout = def.ReclaimTimeout
	}

	w := &LeaseWatchdog{
		cfg:      cfg,
		entries:  make(map[uuid.UUID]*watchEntry),
		stopChan: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// RegisterLease adds a lease to the registry. released is shared with the
// lease so an explicit release observed between scans suppresses
// reclamation.
func (w *LeaseWatchdog) RegisterLease(id uuid.UUID, acquiredAt time.Time, released *atomic.Bool, reclaim func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[id] = &watchEntry{
		acquiredAt: acquiredAt,
		released:   released,
		reclaim:    reclaim,
	}
}

// Deregister removes a lease from the registry. Absent ids are ignored, so
// the release callback can deregister unconditionally.
func (w *LeaseWatchdog) Deregister(id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, id)
}

// ActiveLeaseCount reports the number of registered leases, for
// diagnostics.
func (w *LeaseWatchdog) ActiveLeaseCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Stop halts the background loop at its next wake point.
func (w *LeaseWatchdog) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
}

func (w *LeaseWatchdog) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep collects overdue entries under the lock, then runs the reclamation
// callbacks outside it so a slow callback never stalls registration.
func (w *LeaseWatchdog) sweep() {
	now := time.Now()

	w.mu.Lock()
	var overdue []*watchEntry
	for id, entry := range w.entries {
		if entry.released.Load() {
			// Released but never deregistered; drop the stale entry.
			delete(w.entries, id)
			continue
		}
		if now.Sub(entry.acquiredAt) >= w.cfg.ReclaimTimeout {
			overdue = append(overdue, entry)
			delete(w.entries, id)
		}
	}
	w.mu.Unlock()

	for _, entry := range overdue {
		age := now.Sub(entry.acquiredAt)
		logger.WithFields(logger.Fields{
			"lease_age":       age.String(),
			"reclaim_timeout": w.cfg.ReclaimTimeout.String(),
		}).Warn("lease watchdog: reclaiming abandoned lease")
		w.runReclaim(entry.reclaim)
	}
}

// runReclaim isolates a panicking reclamation callback from the loop.
func (w *LeaseWatchdog) runReclaim(reclaim func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logger.Fields{
				"panic": r,
			}).Error("lease watchdog: reclamation callback panicked")
		}
	}()
	reclaim()
}
