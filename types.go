package noncepool

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Default pool parameters.
const (
	// DefaultLeaseTTL bounds how long a holder may sit on a lease before it
	// becomes eligible for watchdog reclamation and validator rejection.
	DefaultLeaseTTL = 45 * time.Second

	// DefaultScanInterval is how often the watchdog sweeps the registry.
	DefaultScanInterval = 5 * time.Second

	// DefaultReclaimTimeout is the lease age at which the watchdog force
	// reclaims an unreleased lease.
	DefaultReclaimTimeout = 90 * time.Second

	// DefaultSlotValidityWindow approximates how many slots a fetched nonce
	// state is treated as usable for the lease's last-valid-slot field.
	DefaultSlotValidityWindow = 150
)

// PoolConfig holds the nonce pool parameters. The values are loaded by an
// external config layer; zero values are corrected to defaults by
// NewNonceManager.
type PoolConfig struct {
	// Accounts is the fixed set of pre-funded durable nonce account
	// addresses the pool leases out.
	Accounts []solana.PublicKey

	// Authority is the nonce authority that signs advance-nonce
	// instructions for every account in the pool.
	Authority solana.PublicKey

	// LeaseTTL is the soft lifetime of a lease.
	LeaseTTL time.Duration

	// ScanInterval and ReclaimTimeout configure the watchdog.
	ScanInterval   time.Duration
	ReclaimTimeout time.Duration

	// SlotValidityWindow is added to the fetch slot to produce each lease's
	// last-valid slot.
	SlotValidityWindow uint64
}

// DefaultPoolConfig returns the default pool parameters without any
// accounts; callers fill in Accounts and Authority.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		LeaseTTL:           DefaultLeaseTTL,
		ScanInterval:       DefaultScanInterval,
		ReclaimTimeout:     DefaultReclaimTimeout,
		SlotValidityWindow: DefaultSlotValidityWindow,
	}
}

// PoolStats is a point-in-time snapshot of pool counters for tests and
// telemetry.
type PoolStats struct {
	PoolSize        int
	PermitsInUse    int64
	Acquired        uint64
	Released        uint64
	Reclaimed       uint64
	WatchdogEntries int
}
