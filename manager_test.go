package noncepool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KriptoChewbacca/BEJ-sub001/rpcpool"
	"github.com/KriptoChewbacca/BEJ-sub001/testutil"
)

// fakeNonceSource serves canned nonce state and can be told to fail or
// stall.
type fakeNonceSource struct {
	mu    sync.Mutex
	slot  uint64
	err   error
	delay time.Duration
	calls int
}

func (f *fakeNonceSource) GetNonceAccount(ctx context.Context, account solana.PublicKey) (*rpcpool.NonceAccountState, error) {
	f.mu.Lock()
	f.calls++
	slot, err, delay := f.slot, f.err, f.delay
	f.slot++
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &rpcpool.NonceAccountState{
		Address:              account,
		Authority:            testutil.TestAuthority,
		Blockhash:            testutil.TestBlockhash1,
		LamportsPerSignature: 5000,
		Slot:                 slot,
	}, nil
}

func (f *fakeNonceSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func testPoolConfig(accounts ...solana.PublicKey) PoolConfig {
	cfg := DefaultPoolConfig()
	cfg.Accounts = accounts
	cfg.Authority = testutil.TestAuthority
	cfg.ScanInterval = 10 * time.Millisecond
	cfg.ReclaimTimeout = time.Minute
	return cfg
}

func newTestManager(t *testing.T, accounts ...solana.PublicKey) (*NonceManager, *fakeNonceSource) {
	t.Helper()
	source := &fakeNonceSource{slot: 1000}
	m, err := NewNonceManager(testPoolConfig(accounts...), source)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, source
}

func TestNewNonceManagerValidation(t *testing.T) {
	_, err := NewNonceManager(testPoolConfig(testutil.TestNonceAccount1), nil)
	assert.ErrorIs(t, err, ErrSourceNil)

	_, err = NewNonceManager(testPoolConfig(), &fakeNonceSource{})
	assert.ErrorIs(t, err, ErrNoAccounts)
}

func TestAcquireNonceLeaseFields(t *testing.T) {
	m, _ := newTestManager(t, testutil.TestNonceAccount1)

	lease, err := m.AcquireNonce(context.Background())
	require.NoError(t, err)
	defer lease.Close()

	assert.Equal(t, testutil.TestNonceAccount1, lease.NoncePubkey())
	assert.Equal(t, testutil.TestAuthority, lease.Authority())
	assert.Equal(t, testutil.TestBlockhash1, lease.NonceBlockhash())
	assert.Equal(t, uint64(1000+DefaultSlotValidityWindow), lease.LastValidSlot())
	assert.Equal(t, int64(1), m.PermitsInUse())
}

func TestAcquireReleaseRestoresPermits(t *testing.T) {
	m, _ := newTestManager(t, testutil.TestNonceAccount1, testutil.TestNonceAccount2)

	lease, err := m.AcquireNonce(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), m.PermitsInUse())

	require.NoError(t, lease.Release(context.Background()))
	assert.Equal(t, int64(0), m.PermitsInUse())

	stats := m.GetStats()
	assert.Equal(t, uint64(1), stats.Acquired)
	assert.Equal(t, uint64(1), stats.Released)
	assert.Equal(t, 0, stats.WatchdogEntries)
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	m, _ := newTestManager(t, testutil.TestNonceAccount1)

	first, err := m.AcquireNonce(context.Background())
	require.NoError(t, err)

	done := make(chan *NonceLease, 1)
	go func() {
		lease, err := m.AcquireNonce(context.Background())
		if err != nil {
			done <- nil
			return
		}
		done <- lease
	}()

	select {
	case <-done:
		t.Fatal("second acquire completed while the only permit was held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Release(context.Background()))

	select {
	case second := <-done:
		require.NotNil(t, second)
		assert.Equal(t, testutil.TestNonceAccount1, second.NoncePubkey())
		second.Close()
	case <-time.After(time.Second):
		t.Fatal("second acquire did not complete after release")
	}
}

func TestAcquireCancelledWhileWaitingLeaksNothing(t *testing.T) {
	m, _ := newTestManager(t, testutil.TestNonceAccount1)

	lease, err := m.AcquireNonce(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.AcquireNonce(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, lease.Release(context.Background()))
	assert.Equal(t, int64(0), m.PermitsInUse())

	// The permit is fully usable again.
	again, err := m.AcquireNonce(context.Background())
	require.NoError(t, err)
	again.Close()
}

func TestAcquireCancelledDuringFetchLeaksNothing(t *testing.T) {
	source := &fakeNonceSource{slot: 1000, delay: time.Second}
	m, err := NewNonceManager(testPoolConfig(testutil.TestNonceAccount1), source)
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.AcquireNonce(ctx)
	require.Error(t, err)

	assert.Equal(t, int64(0), m.PermitsInUse())

	source.mu.Lock()
	source.delay = 0
	source.mu.Unlock()

	lease, err := m.AcquireNonce(context.Background())
	require.NoError(t, err)
	lease.Close()
}

func TestAcquireFetchFailureReturnsAccount(t *testing.T) {
	m, source := newTestManager(t, testutil.TestNonceAccount1)
	source.setErr(errors.New("account fetch failed"))

	_, err := m.AcquireNonce(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(0), m.PermitsInUse())

	source.setErr(nil)
	lease, err := m.AcquireNonce(context.Background())
	require.NoError(t, err)
	lease.Close()
}

func TestAcquireNonceExhaustedPool(t *testing.T) {
	source := &fakeNonceSource{}
	m := &NonceManager{cfg: PoolConfig{}, source: source}
	_, err := m.AcquireNonce(context.Background())
	assert.ErrorIs(t, err, ErrNonceExhausted)
}

func TestConcurrentAcquireReleaseNoLeak(t *testing.T) {
	accounts := []solana.PublicKey{
		testutil.TestNonceAccount1,
		testutil.TestNonceAccount2,
		testutil.TestNonceAccount3,
	}
	m, _ := newTestManager(t, accounts...)

	const workers = 100
	deadline := time.After(10 * time.Second)
	done := make(chan struct{})

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				lease, err := m.AcquireNonce(context.Background())
				if err != nil {
					t.Errorf("acquire %d: %v", i, err)
					return
				}
				time.Sleep(time.Millisecond)
				switch i % 3 {
				case 0:
					_ = lease.Release(context.Background())
				case 1:
					lease.Close()
				default:
					// Both paths together still releases exactly once.
					_ = lease.Release(context.Background())
					lease.Close()
				}
			}(i)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-deadline:
		t.Fatal("concurrent acquire/release did not finish in time")
	}

	assert.Equal(t, int64(0), m.PermitsInUse())
	stats := m.GetStats()
	assert.Equal(t, uint64(workers), stats.Acquired)
	assert.Equal(t, uint64(workers), stats.Released)
	assert.Equal(t, uint64(0), stats.Reclaimed)
	assert.Equal(t, 0, stats.WatchdogEntries)

	// Every account made it back to the free list.
	assert.Len(t, m.free, len(accounts))
}

func TestWatchdogReclaimRestoresPermit(t *testing.T) {
	cfg := testPoolConfig(testutil.TestNonceAccount1)
	cfg.ScanInterval = 10 * time.Millisecond
	cfg.ReclaimTimeout = 30 * time.Millisecond

	var reclaimedAccount solana.PublicKey
	var mu sync.Mutex
	m, err := NewNonceManager(cfg, &fakeNonceSource{slot: 1},
		WithLeaseReclaimedHook(func(account solana.PublicKey, age time.Duration) {
			mu.Lock()
			reclaimedAccount = account
			mu.Unlock()
		}),
	)
	require.NoError(t, err)
	defer m.Close()

	lease, err := m.AcquireNonce(context.Background())
	require.NoError(t, err)

	// Abandon the lease; the watchdog takes it back.
	require.Eventually(t, func() bool {
		return m.PermitsInUse() == 0
	}, time.Second, 5*time.Millisecond)

	assert.True(t, lease.Released())
	assert.Equal(t, uint64(1), m.GetStats().Reclaimed)
	mu.Lock()
	assert.Equal(t, testutil.TestNonceAccount1, reclaimedAccount)
	mu.Unlock()

	// Late release on the reclaimed lease is a no-op.
	require.NoError(t, lease.Release(context.Background()))
	assert.Equal(t, int64(0), m.PermitsInUse())
}

func TestManagerHooksAndStore(t *testing.T) {
	store := NewInMemoryLeaseStore()
	var acquired, released atomic.Int32

	cfg := testPoolConfig(testutil.TestNonceAccount1)
	m, err := NewNonceManager(cfg, &fakeNonceSource{slot: 1},
		WithLeaseStore(store),
		WithLeaseAcquiredHook(func(*NonceLease) { acquired.Add(1) }),
		WithLeaseReleasedHook(func(_ solana.PublicKey, reason ReleaseReason, _ time.Duration) {
			assert.Equal(t, ReleaseExplicit, reason)
			released.Add(1)
		}),
	)
	require.NoError(t, err)
	defer m.Close()

	lease, err := m.AcquireNonce(context.Background())
	require.NoError(t, err)

	record, err := store.Get(context.Background(), lease.ID())
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, LeaseEventAcquired, record.Event)

	require.NoError(t, lease.Release(context.Background()))

	record, err = store.Get(context.Background(), lease.ID())
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, LeaseEventReleased, record.Event)

	assert.Equal(t, int32(1), acquired.Load())
	assert.Equal(t, int32(1), released.Load())
}

func TestAcquireAttachment(t *testing.T) {
	m, _ := newTestManager(t, testutil.TestNonceAccount1)

	payload := []byte(`{"strategy":"arb-7"}`)
	lease, err := m.AcquireNonce(context.Background(), WithAttachment(payload))
	require.NoError(t, err)
	defer lease.Close()

	assert.Equal(t, payload, lease.Attachment())
}

func TestPanickingHookDoesNotLeakPermit(t *testing.T) {
	cfg := testPoolConfig(testutil.TestNonceAccount1)
	m, err := NewNonceManager(cfg, &fakeNonceSource{slot: 1},
		WithLeaseReleasedHook(func(solana.PublicKey, ReleaseReason, time.Duration) {
			panic("hook blew up")
		}),
	)
	require.NoError(t, err)
	defer m.Close()

	lease, err := m.AcquireNonce(context.Background())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		_ = lease.Release(context.Background())
	})
	assert.Equal(t, int64(0), m.PermitsInUse())

	// Permit accounting survived the panic; the account is reusable.
	again, err := m.AcquireNonce(context.Background())
	require.NoError(t, err)
	again.Close()
}
