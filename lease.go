package noncepool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// ReleaseReason says which path released a lease.
type ReleaseReason int

const (
	ReleaseExplicit  ReleaseReason = iota // Release called by the holder
	ReleaseDropped                        // Close ran on a still-held lease
	ReleaseReclaimed                      // watchdog reclaimed an abandoned lease
)

func (r ReleaseReason) String() string {
	switch r {
	case ReleaseExplicit:
		return "explicit"
	case ReleaseDropped:
		return "dropped"
	case ReleaseReclaimed:
		return "reclaimed"
	default:
		return "unknown"
	}
}

// releaseFunc is installed by the NonceManager; it returns the permit,
// deregisters the watchdog entry and updates counters.
type releaseFunc func(reason ReleaseReason)

// NonceLease grants exclusive, time-bounded use of one durable nonce
// account. The holder embeds the lease's blockhash as the transaction's
// durable nonce and releases the lease after broadcast.
//
// The release callback fires exactly once no matter how the lease ends:
// explicit Release, Close in a defer, or watchdog reclamation. Expiry does
// not release a lease by itself; it only makes the lease eligible for
// reclamation and for rejection by downstream validators.
type NonceLease struct {
	id            uuid.UUID
	account       solana.PublicKey
	authority     solana.PublicKey
	blockhash     solana.Hash
	lastValidSlot uint64
	acquiredAt    time.Time
	ttl           time.Duration
	attachment    []byte

	// released is shared with the watchdog registry entry so reclamation
	// and explicit release race safely on one flag.
	released *atomic.Bool
	release  releaseFunc
}

// ID returns the lease identity used by the watchdog registry.
func (l *NonceLease) ID() uuid.UUID { return l.id }

// NoncePubkey returns the leased nonce account address.
func (l *NonceLease) NoncePubkey() solana.PublicKey { return l.account }

// Authority returns the nonce authority for the leased account.
func (l *NonceLease) Authority() solana.PublicKey { return l.authority }

// NonceBlockhash returns the durable blockhash snapshot taken at
// acquisition. It goes into the transaction's recent-blockhash field.
func (l *NonceLease) NonceBlockhash() solana.Hash { return l.blockhash }

// LastValidSlot returns the slot bound attached to the snapshot.
func (l *NonceLease) LastValidSlot() uint64 { return l.lastValidSlot }

// AcquiredAt returns when the lease was handed out.
func (l *NonceLease) AcquiredAt() time.Time { return l.acquiredAt }

// Attachment returns the opaque payload set at acquisition, if any. The
// pool never interprets it.
func (l *NonceLease) Attachment() []byte { return l.attachment }

// IsExpired reports whether the TTL has elapsed since acquisition.
func (l *NonceLease) IsExpired() bool {
	return time.Since(l.acquiredAt) >= l.ttl
}

// TimeRemaining returns the time left before expiry, and false once the
// lease is expired.
func (l *NonceLease) TimeRemaining() (time.Duration, bool) {
	elapsed := time.Since(l.acquiredAt)
	if elapsed >= l.ttl {
		return 0, false
	}
	return l.ttl - elapsed, true
}

// Released reports whether the release callback has already fired.
func (l *NonceLease) Released() bool { return l.released.Load() }

// Release returns the lease to the pool. It is the owning release path:
// idempotent, and it succeeds even past the TTL. The context is accepted
// for signature stability with release hooks that may grow network cleanup;
// the permit return itself never blocks on it.
func (l *NonceLease) Release(_ context.Context) error {
	l.fire(ReleaseExplicit)
	return nil
}

// Close releases the lease if it is still held. It is safe in a defer and
// safe to combine with Release in either order; the callback still fires
// exactly once.
func (l *NonceLease) Close() {
	if l.fire(ReleaseDropped) {
		logger.WithFields(logger.Fields{
			"nonce_account": l.account.String(),
			"held_for":      time.Since(l.acquiredAt).String(),
		}).Debug("nonce lease released on close")
	}
}

// reclaim is the watchdog's release path.
func (l *NonceLease) reclaim() {
	l.fire(ReleaseReclaimed)
}

// fire runs the release callback at most once across all release paths.
// The callback executes inside a failure boundary: a panicking release hook
// is logged and swallowed so it cannot crash the holder's scope or corrupt
// the permit count.
func (l *NonceLease) fire(reason ReleaseReason) bool {
	if !l.released.CompareAndSwap(false, true) {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logger.Fields{
				"nonce_account": l.account.String(),
				"reason":        reason.String(),
				"panic":         r,
			}).Error("nonce lease release callback panicked")
		}
	}()

	l.release(reason)
	return true
}
