package noncepool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/gagliardetto/solana-go"
)

// RotationState is the lifecycle phase of an authority rotation.
type RotationState int

const (
	// RotationPending is collecting approvals.
	RotationPending RotationState = iota
	// RotationTimelocked has met its approval threshold and waits out the
	// timelock.
	RotationTimelocked
	// RotationExecuted is terminal; the new authority is in effect.
	RotationExecuted
	// RotationRolledBack is terminal; the rotation was abandoned.
	RotationRolledBack
)

func (s RotationState) String() string {
	switch s {
	case RotationPending:
		return "pending"
	case RotationTimelocked:
		return "timelocked"
	case RotationExecuted:
		return "executed"
	case RotationRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// RotationConfig governs one authority rotation.
type RotationConfig struct {
	// ApprovalThreshold is the number of distinct approvers required
	// before the timelock starts. Zero means 1.
	ApprovalThreshold int
	// Timelock is the mandatory delay between threshold approval and
	// execution.
	Timelock time.Duration
}

// AuthorityRotation rotates the nonce authority of one pool account
// through a threshold-approved, timelocked state machine. It sits off the
// acquire/release hot path; Execute reserves the account through the pool
// so no lease can be live while the authority changes.
type AuthorityRotation struct {
	manager *NonceManager
	account solana.PublicKey
	next    solana.PublicKey
	cfg     RotationConfig

	mu         sync.Mutex
	state      RotationState
	approvals  map[solana.PublicKey]struct{}
	unlockedAt time.Time
}

// BeginAuthorityRotation starts a rotation of account's nonce authority to
// next. The account must belong to the pool.
func (m *NonceManager) BeginAuthorityRotation(account, next solana.PublicKey, cfg RotationConfig) (*AuthorityRotation, error) {
	found := false
	for _, a := range m.cfg.Accounts {
		if a.Equals(account) {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrUnknownAccount
	}
	if cfg.ApprovalThreshold <= 0 {
		cfg.ApprovalThreshold = 1
	}

	logger.WithFields(logger.Fields{
		"nonce_account":  account.String(),
		"next_authority": next.String(),
		"threshold":      cfg.ApprovalThreshold,
		"timelock":       cfg.Timelock.String(),
	}).Info("authority rotation started")

	return &AuthorityRotation{
		manager:   m,
		account:   account,
		next:      next,
		cfg:       cfg,
		state:     RotationPending,
		approvals: make(map[solana.PublicKey]struct{}),
	}, nil
}

// State returns the current rotation phase.
func (r *AuthorityRotation) State() RotationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Approvals returns the count of distinct approvers collected so far.
func (r *AuthorityRotation) Approvals() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.approvals)
}

// Approve records one approver. A repeat approver fails with
// ErrDuplicateApproval. Reaching the threshold moves the rotation to
// timelocked and starts the timelock clock.
func (r *AuthorityRotation) Approve(approver solana.PublicKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RotationPending {
		return fmt.Errorf("rotation is %s: %w", r.state, ErrRotationFinished)
	}
	if _, seen := r.approvals[approver]; seen {
		return ErrDuplicateApproval
	}
	r.approvals[approver] = struct{}{}

	if len(r.approvals) >= r.cfg.ApprovalThreshold {
		r.state = RotationTimelocked
		r.unlockedAt = time.Now().Add(r.cfg.Timelock)
		logger.WithFields(logger.Fields{
			"nonce_account": r.account.String(),
			"approvals":     len(r.approvals),
			"unlocked_at":   r.unlockedAt.Format(time.RFC3339),
		}).Info("authority rotation timelocked")
	}
	return nil
}

// Execute performs the rotation once the timelock has elapsed. The account
// is reserved through the pool for the duration, so Execute fails with
// ErrAccountBusy while a lease on it is outstanding. signAndSend receives
// the authorize instruction and is responsible for signing with the
// current authority and broadcasting.
func (r *AuthorityRotation) Execute(ctx context.Context, signAndSend func(context.Context, solana.Instruction) error) error {
	r.mu.Lock()
	switch r.state {
	case RotationExecuted, RotationRolledBack:
		r.mu.Unlock()
		return fmt.Errorf("rotation is %s: %w", r.state, ErrRotationFinished)
	case RotationPending:
		r.mu.Unlock()
		return fmt.Errorf("approvals %d of %d: %w", len(r.approvals), r.cfg.ApprovalThreshold, ErrRotationNotReady)
	}
	if remaining := time.Until(r.unlockedAt); remaining > 0 {
		r.mu.Unlock()
		return fmt.Errorf("timelock has %s remaining: %w", remaining.Round(time.Millisecond), ErrRotationNotReady)
	}
	r.mu.Unlock()

	if err := r.manager.reserveAccount(r.account); err != nil {
		return fmt.Errorf("reserving %s for rotation: %w", r.account, err)
	}
	defer r.manager.unreserveAccount(r.account)

	inst := NewAuthorizeNonceInstruction(r.account, r.manager.cfg.Authority, r.next)
	if err := signAndSend(ctx, inst); err != nil {
		return fmt.Errorf("executing authority rotation for %s: %w", r.account, err)
	}

	r.mu.Lock()
	r.state = RotationExecuted
	r.mu.Unlock()

	logger.WithFields(logger.Fields{
		"nonce_account":  r.account.String(),
		"next_authority": r.next.String(),
	}).Info("authority rotation executed")
	return nil
}

// Rollback abandons a rotation that has not executed.
func (r *AuthorityRotation) Rollback() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case RotationExecuted, RotationRolledBack:
		return fmt.Errorf("rotation is %s: %w", r.state, ErrRotationFinished)
	}
	r.state = RotationRolledBack
	logger.WithFields(logger.Fields{
		"nonce_account": r.account.String(),
	}).Info("authority rotation rolled back")
	return nil
}
