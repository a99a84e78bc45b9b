package noncepool

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// LeaseAcquiredHook is called after a lease has been handed out, with the
// lease itself. The hook must not retain the lease past its own return.
type LeaseAcquiredHook func(lease *NonceLease)

// LeaseReleasedHook is called after a lease's release callback has run,
// whatever the release path was. held is how long the lease was out.
type LeaseReleasedHook func(account solana.PublicKey, reason ReleaseReason, held time.Duration)

// LeaseReclaimedHook is called when the watchdog reclaims an abandoned
// lease. age is the lease age at reclamation time.
type LeaseReclaimedHook func(account solana.PublicKey, age time.Duration)

// leaseHooks bundles the optional lifecycle callbacks. Hooks run inside the
// lease's release failure boundary, so a panicking hook is logged rather
// than propagated.
type leaseHooks struct {
	acquired  LeaseAcquiredHook
	released  LeaseReleasedHook
	reclaimed LeaseReclaimedHook
}
