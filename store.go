package noncepool

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// LeaseEvent is the kind of lease lifecycle record journaled to a
// LeaseStore.
type LeaseEvent string

const (
	// LeaseEventAcquired records a lease being handed out.
	LeaseEventAcquired LeaseEvent = "acquired"
	// LeaseEventReleased records a lease returned by its holder.
	LeaseEventReleased LeaseEvent = "released"
	// LeaseEventReclaimed records a lease force-reclaimed by the watchdog.
	LeaseEventReclaimed LeaseEvent = "reclaimed"
)

// LeaseRecord is one journaled lease lifecycle entry.
type LeaseRecord struct {
	// ID is the lease identity.
	ID uuid.UUID
	// Account is the leased nonce account address.
	Account solana.PublicKey
	// Event is the latest lifecycle event for this lease.
	Event LeaseEvent
	// AcquiredAt is when the lease was handed out.
	AcquiredAt time.Time
	// UpdatedAt is when this record was last written.
	UpdatedAt time.Time
}

// LeaseStore journals lease lifecycle events so a restarted process can
// reconcile which nonce accounts may still carry in-flight transactions.
// Journaling is best-effort: a store failure is logged and never blocks the
// acquire/release hot path.
//
// Implementations MUST be safe for concurrent use; the NonceManager calls
// them from many goroutines.
type LeaseStore interface {
	// Save creates or updates the record for a lease.
	Save(ctx context.Context, record *LeaseRecord) error

	// Get returns the record for a lease, or nil, nil when none exists.
	Get(ctx context.Context, id uuid.UUID) (*LeaseRecord, error)

	// ListOutstanding returns records whose latest event is acquired.
	// Used during recovery to find leases that never completed.
	ListOutstanding(ctx context.Context) ([]*LeaseRecord, error)

	// Delete removes a record.
	Delete(ctx context.Context, id uuid.UUID) error
}

// InMemoryLeaseStore is the default LeaseStore, suitable for tests and for
// processes that accept losing the journal on restart.
type InMemoryLeaseStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*LeaseRecord
}

// NewInMemoryLeaseStore creates an empty in-memory journal.
func NewInMemoryLeaseStore() *InMemoryLeaseStore {
	return &InMemoryLeaseStore{records: make(map[uuid.UUID]*LeaseRecord)}
}

// Save creates or updates the record for a lease.
func (s *InMemoryLeaseStore) Save(_ context.Context, record *LeaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	cp.UpdatedAt = time.Now()
	s.records[record.ID] = &cp
	return nil
}

// Get returns the record for a lease, or nil, nil when none exists.
func (s *InMemoryLeaseStore) Get(_ context.Context, id uuid.UUID) (*LeaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

// ListOutstanding returns records whose latest event is acquired.
func (s *InMemoryLeaseStore) ListOutstanding(_ context.Context) ([]*LeaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*LeaseRecord
	for _, record := range s.records {
		if record.Event == LeaseEventAcquired {
			cp := *record
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Delete removes a record.
func (s *InMemoryLeaseStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}
