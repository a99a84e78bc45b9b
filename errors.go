package noncepool

import "fmt"

// Pool and lease errors. All errors crossing the acquire/release boundary
// are typed so callers can branch with errors.Is instead of string matching.
var (
	// ErrNonceExhausted is returned by AcquireNonce when the pool holds no
	// nonce accounts. Exhaustion is surfaced, never silently degraded to a
	// non-durable path.
	ErrNonceExhausted = fmt.Errorf("nonce pool exhausted: no nonce accounts available")

	// ErrNonceExpired marks a lease past its TTL. Advisory: release still
	// succeeds on an expired lease.
	ErrNonceExpired = fmt.Errorf("nonce lease expired")

	// ErrSourceNil is returned when a NonceManager is constructed without a
	// nonce state source.
	ErrSourceNil = fmt.Errorf("nonce state source cannot be nil")

	// ErrNoAccounts is returned when a NonceManager is constructed with an
	// empty account set.
	ErrNoAccounts = fmt.Errorf("nonce pool needs at least one nonce account")

	// ErrAccountBusy is returned when an operation needs exclusive use of a
	// specific nonce account that is currently leased.
	ErrAccountBusy = fmt.Errorf("nonce account is currently leased")

	// ErrUnknownAccount is returned when an operation references an account
	// outside the pool's fixed identity set.
	ErrUnknownAccount = fmt.Errorf("nonce account is not part of this pool")

	// ErrAdvanceNonceNotFirst is returned by the durable transaction
	// validator when the advance-nonce instruction is not the first
	// instruction.
	ErrAdvanceNonceNotFirst = fmt.Errorf("advance nonce instruction must be the first instruction")

	// ErrDuplicateAdvanceNonce is returned when a transaction carries more
	// than one advance-nonce instruction.
	ErrDuplicateAdvanceNonce = fmt.Errorf("transaction contains more than one advance nonce instruction")

	// ErrNilTransaction is returned when a nil transaction is validated.
	ErrNilTransaction = fmt.Errorf("transaction cannot be nil")
)

// Authority rotation errors.
var (
	// ErrRotationFinished is returned when a rotation in a terminal state is
	// mutated.
	ErrRotationFinished = fmt.Errorf("authority rotation already finished")

	// ErrRotationNotReady is returned by Execute before the timelock has
	// elapsed or before the approval threshold is met.
	ErrRotationNotReady = fmt.Errorf("authority rotation not ready to execute")

	// ErrDuplicateApproval is returned when an approver approves twice.
	ErrDuplicateApproval = fmt.Errorf("approver already approved this rotation")
)
