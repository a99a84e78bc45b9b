// Package circuitbreaker implements per-endpoint failure isolation for the
// RPC routing layer. A breaker guards a single remote endpoint: repeated
// failures open it, an open timeout lets a probe through, and consecutive
// probe successes close it again.
//
// Recovery is check-on-call: the Open to HalfOpen transition is observed
// lazily from CanExecute, RecordSuccess and RecordFailure rather than by a
// timer. If nobody calls, an open breaker stays open; under real traffic
// calls are frequent enough that recovery is timely.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	StateClosed   State = iota // normal operation, calls pass through
	StateOpen                  // endpoint excluded, calls fail fast
	StateHalfOpen              // probing whether the endpoint recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker from the closed state.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in half-open
	// state required to close the breaker.
	SuccessThreshold int

	// OpenTimeout is how long the breaker stays open before a call may be
	// observed in the half-open state.
	OpenTimeout time.Duration

	// OnStateChange, if set, is invoked on every state transition.
	OnStateChange func(from, to State)
}

// DefaultConfig returns thresholds suitable for public RPC endpoints.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// CircuitBreaker tracks failures for one endpoint.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg Config

	state    State
	failures int
	probes   int // consecutive half-open successes

	openedAt time.Time
}

// New creates a breaker, correcting non-positive config values to defaults.
func New(cfg Config) *CircuitBreaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// advance promotes Open to HalfOpen once the open timeout has elapsed.
// Must be called with the lock held.
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cfg.OpenTimeout {
		cb.transition(StateHalfOpen)
		cb.probes = 0
	}
}

// CanExecute reports whether a call to the guarded endpoint should proceed.
// In half-open state calls are allowed so the endpoint can be probed.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state != StateOpen
}

// State returns the current state, observing a pending Open to HalfOpen
// promotion.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

// RecordSuccess notes a successful call against the endpoint.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()

	cb.failures = 0

	switch cb.state {
	case StateHalfOpen:
		cb.probes++
		if cb.probes >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed)
			cb.probes = 0
		}
	case StateClosed:
		cb.probes = 0
	}
}

// RecordFailure notes a failed call against the endpoint. Reaching the
// failure threshold opens the breaker; any half-open failure reopens it and
// restarts the open timeout.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()

	cb.probes = 0
	cb.failures++

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.open()
		}
	case StateHalfOpen:
		cb.open()
	case StateOpen:
		// Failure while already open keeps the original trip time.
	}
}

// Reset forces the breaker back to closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probes = 0
	cb.transition(StateClosed)
}

// open must be called with the lock held.
func (cb *CircuitBreaker) open() {
	cb.openedAt = time.Now()
	cb.transition(StateOpen)
}

// transition must be called with the lock held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		// Detached so a slow observer never blocks call recording.
		go cb.cfg.OnStateChange(from, to)
	}
}

// Stats is a point-in-time snapshot of breaker counters.
type Stats struct {
	State               State
	ConsecutiveFailures int
	HalfOpenSuccesses   int
	OpenedAt            time.Time
}

// Stats returns the current counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return Stats{
		State:               cb.state,
		ConsecutiveFailures: cb.failures,
		HalfOpenSuccesses:   cb.probes,
		OpenedAt:            cb.openedAt,
	}
}
