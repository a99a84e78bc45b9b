// Package noncepool manages a bounded pool of pre-funded durable nonce
// accounts for an automated trading pipeline. Transaction builders acquire a
// NonceLease, embed its durable blockhash and advance-nonce instruction into
// a transaction, broadcast through the RPC pool, and release the lease.
//
// The pool guarantees zero permit leakage across every release path:
// explicit release, scope-exit Close, panics inside release hooks, cancelled
// acquisitions, and watchdog reclamation of abandoned leases.
package noncepool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/KriptoChewbacca/BEJ-sub001/rpcpool"
)

// NonceStateSource fetches fresh durable nonce state. *rpcpool.Pool
// satisfies it; tests substitute fakes.
type NonceStateSource interface {
	GetNonceAccount(ctx context.Context, account solana.PublicKey) (*rpcpool.NonceAccountState, error)
}

// NonceManager leases out a fixed set of durable nonce accounts behind a
// counting semaphore. Acquisition suspends the calling goroutine while
// waiting for a permit and while fetching fresh nonce state; both waits are
// cancellation-safe and leak nothing when abandoned.
type NonceManager struct {
	cfg    PoolConfig
	source NonceStateSource

	sem *semaphore.Weighted

	mu   sync.Mutex
	free []solana.PublicKey

	watchdog *LeaseWatchdog
	metrics  *PoolMetrics
	store    LeaseStore
	hooks    leaseHooks

	outstanding atomic.Int64
	acquired    atomic.Uint64
	released    atomic.Uint64
	reclaimed   atomic.Uint64
}

// NonceManagerOption configures optional collaborators.
type NonceManagerOption func(*NonceManager)

// WithLeaseStore journals lease lifecycle events to the given store.
func WithLeaseStore(store LeaseStore) NonceManagerOption {
	return func(m *NonceManager) { m.store = store }
}

// WithMetricsRegistry registers pool metrics on the given registry. Share
// one registry instance across every component in the process.
func WithMetricsRegistry(reg prometheus.Registerer) NonceManagerOption {
	return func(m *NonceManager) { m.metrics = NewPoolMetrics(reg) }
}

// WithLeaseAcquiredHook sets the acquisition hook.
func WithLeaseAcquiredHook(hook LeaseAcquiredHook) NonceManagerOption {
	return func(m *NonceManager) { m.hooks.acquired = hook }
}

// WithLeaseReleasedHook sets the release hook.
func WithLeaseReleasedHook(hook LeaseReleasedHook) NonceManagerOption {
	return func(m *NonceManager) { m.hooks.released = hook }
}

// WithLeaseReclaimedHook sets the reclamation hook.
func WithLeaseReclaimedHook(hook LeaseReclaimedHook) NonceManagerOption {
	return func(m *NonceManager) { m.hooks.reclaimed = hook }
}

// NewNonceManager creates a pool over cfg.Accounts. The source is required;
// zero durations in cfg are corrected to defaults. The watchdog starts
// immediately.
func NewNonceManager(cfg PoolConfig, source NonceStateSource, opts ...NonceManagerOption) (*NonceManager, error) {
	if source == nil {
		return nil, ErrSourceNil
	}
	if len(cfg.Accounts) == 0 {
		return nil, ErrNoAccounts
	}

	def := DefaultPoolConfig()
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if cfg.ReclaimTimeout <= 0 {
		cfg.ReclaimTimeout = def.ReclaimTimeout
	}
	if cfg.SlotValidityWindow == 0 {
		cfg.SlotValidityWindow = def.SlotValidityWindow
	}

	m := &NonceManager{
		cfg:    cfg,
		source: source,
		sem:    semaphore.NewWeighted(int64(len(cfg.Accounts))),
		free:   append([]solana.PublicKey(nil), cfg.Accounts...),
		watchdog: NewLeaseWatchdog(WatchdogConfig{
			ScanInterval:   cfg.ScanInterval,
			ReclaimTimeout: cfg.ReclaimTimeout,
		}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewPoolMetrics(prometheus.NewRegistry())
	}

	logger.WithFields(logger.Fields{
		"pool_size":       len(cfg.Accounts),
		"lease_ttl":       cfg.LeaseTTL.String(),
		"reclaim_timeout": cfg.ReclaimTimeout.String(),
	}).Info("nonce pool initialized")
	return m, nil
}

// AcquireOption customizes a single acquisition.
type AcquireOption func(*acquireParams)

type acquireParams struct {
	attachment []byte
}

// WithAttachment attaches an opaque payload to the lease. The pool carries
// it untouched; downstream consumers define its meaning.
func WithAttachment(payload []byte) AcquireOption {
	return func(p *acquireParams) { p.attachment = payload }
}

// AcquireNonce waits for a permit, picks an available nonce account,
// fetches its current durable blockhash through the RPC pool and hands out
// a lease.
//
// Returns ErrNonceExhausted when the pool holds no accounts; exhaustion is
// surfaced, never degraded to a non-durable fallback. Cancelling the
// context at any suspension point returns the permit and the account to the
// pool.
func (m *NonceManager) AcquireNonce(ctx context.Context, opts ...AcquireOption) (*NonceLease, error) {
	if len(m.cfg.Accounts) == 0 {
		return nil, ErrNonceExhausted
	}

	var params acquireParams
	for _, opt := range opts {
		opt(&params)
	}

	start := time.Now()
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for nonce permit: %w", err)
	}

	account := m.popAccount()

	state, err := m.source.GetNonceAccount(ctx, account)
	if err != nil {
		// Undo in reverse order so the permit never outruns the account.
		m.pushAccount(account)
		m.sem.Release(1)
		return nil, fmt.Errorf("fetching nonce state for %s: %w", account, err)
	}

	id := uuid.New()
	acquiredAt := time.Now()
	released := &atomic.Bool{}

	lease := &NonceLease{
		id:            id,
		account:       account,
		authority:     state.Authority,
		blockhash:     state.Blockhash,
		lastValidSlot: state.Slot + m.cfg.SlotValidityWindow,
		acquiredAt:    acquiredAt,
		ttl:           m.cfg.LeaseTTL,
		attachment:    params.attachment,
		released:      released,
	}
	lease.release = m.releaseCallback(lease)

	m.watchdog.RegisterLease(id, acquiredAt, released, lease.reclaim)

	m.outstanding.Add(1)
	m.acquired.Add(1)
	m.metrics.LeasesAcquired.Inc()
	m.metrics.PermitsInUse.Set(float64(m.outstanding.Load()))
	m.metrics.AcquireLatency.Observe(time.Since(start).Seconds())

	m.journal(&LeaseRecord{
		ID:         id,
		Account:    account,
		Event:      LeaseEventAcquired,
		AcquiredAt: acquiredAt,
	})

	logger.WithFields(logger.Fields{
		"nonce_account":   account.String(),
		"blockhash":       state.Blockhash.String(),
		"last_valid_slot": lease.lastValidSlot,
		"lease_id":        id.String(),
	}).Debug("nonce lease acquired")

	if m.hooks.acquired != nil {
		m.hooks.acquired(lease)
	}
	return lease, nil
}

// releaseCallback builds the exactly-once release path for one lease.
// Permit accounting runs first so a panicking hook cannot corrupt it; the
// lease's failure boundary catches anything the hooks throw after that.
func (m *NonceManager) releaseCallback(lease *NonceLease) releaseFunc {
	return func(reason ReleaseReason) {
		m.watchdog.Deregister(lease.id)
		m.pushAccount(lease.account)
		m.sem.Release(1)
		m.outstanding.Add(-1)
		m.metrics.PermitsInUse.Set(float64(m.outstanding.Load()))

		held := time.Since(lease.acquiredAt)
		event := LeaseEventReleased
		if reason == ReleaseReclaimed {
			event = LeaseEventReclaimed
			m.reclaimed.Add(1)
			m.metrics.LeasesReclaimed.Inc()
		} else {
			m.released.Add(1)
			m.metrics.LeasesReleased.Inc()
		}

		m.journal(&LeaseRecord{
			ID:         lease.id,
			Account:    lease.account,
			Event:      event,
			AcquiredAt: lease.acquiredAt,
		})

		logger.WithFields(logger.Fields{
			"nonce_account": lease.account.String(),
			"reason":        reason.String(),
			"held_for":      held.String(),
			"lease_id":      lease.id.String(),
		}).Debug("nonce lease released")

		if reason == ReleaseReclaimed && m.hooks.reclaimed != nil {
			m.hooks.reclaimed(lease.account, held)
		}
		if m.hooks.released != nil {
			m.hooks.released(lease.account, reason, held)
		}
	}
}

// journal writes a lease record best-effort; a failing store never blocks
// the hot path.
func (m *NonceManager) journal(record *LeaseRecord) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.store.Save(ctx, record); err != nil {
		logger.WithFields(logger.Fields{
			"lease_id": record.ID.String(),
			"event":    string(record.Event),
			"error":    err,
		}).Warn("nonce pool: lease journal write failed")
	}
}

func (m *NonceManager) popAccount() solana.PublicKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	// A held permit guarantees a free account: every release pushes before
	// returning its permit.
	account := m.free[len(m.free)-1]
	m.free = m.free[:len(m.free)-1]
	return account
}

func (m *NonceManager) pushAccount(account solana.PublicKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free = append(m.free, account)
}

// reserveAccount takes a specific account out of circulation, consuming a
// permit. Used by authority rotation; fails fast when the account is
// currently leased.
func (m *NonceManager) reserveAccount(account solana.PublicKey) error {
	if !m.sem.TryAcquire(1) {
		return ErrAccountBusy
	}
	m.mu.Lock()
	for i, a := range m.free {
		if a.Equals(account) {
			m.free = append(m.free[:i], m.free[i+1:]...)
			m.mu.Unlock()
			return nil
		}
	}
	m.mu.Unlock()
	// A permit was available but this particular account is out on lease.
	m.sem.Release(1)
	return ErrAccountBusy
}

// unreserveAccount returns a reserved account to circulation.
func (m *NonceManager) unreserveAccount(account solana.PublicKey) {
	m.pushAccount(account)
	m.sem.Release(1)
}

// PermitsInUse returns the number of leases currently outstanding. After
// every acquire/release cycle completes, including panics and
// cancellations, this returns to its pre-cycle value.
func (m *NonceManager) PermitsInUse() int64 {
	return m.outstanding.Load()
}

// GetStats returns a snapshot of pool counters for tests and telemetry.
func (m *NonceManager) GetStats() PoolStats {
	return PoolStats{
		PoolSize:        len(m.cfg.Accounts),
		PermitsInUse:    m.outstanding.Load(),
		Acquired:        m.acquired.Load(),
		Released:        m.released.Load(),
		Reclaimed:       m.reclaimed.Load(),
		WatchdogEntries: m.watchdog.ActiveLeaseCount(),
	}
}

// Watchdog exposes the pool's watchdog for diagnostics.
func (m *NonceManager) Watchdog() *LeaseWatchdog {
	return m.watchdog
}

// Close stops the watchdog. Outstanding leases can still release; only
// reclamation of future abandonments stops.
func (m *NonceManager) Close() {
	m.watchdog.Stop()
}
