package noncepool

import (
	"context"
	"encoding/binary"

	"github.com/KyberNetwork/logger"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// advanceNonceIndex is the system program's instruction discriminator for
// AdvanceNonceAccount, encoded little-endian in the first four data bytes.
const advanceNonceIndex uint32 = 4

// NonceInfo is the durable nonce material a transaction builder embeds:
// use Blockhash as the transaction's recent blockhash and prepend the
// advance-nonce instruction for Account signed by Authority.
type NonceInfo struct {
	Account   solana.PublicKey
	Authority solana.PublicKey
	Blockhash solana.Hash
}

// NewAdvanceNonceInstruction builds the advance-nonce instruction for the
// given nonce account and authority. It must be the first instruction of a
// durable transaction.
func NewAdvanceNonceInstruction(nonceAccount, authority solana.PublicKey) solana.Instruction {
	return system.NewAdvanceNonceAccountInstruction(
		nonceAccount,
		solana.SysVarRecentBlockHashesPubkey,
		authority,
	).Build()
}

// NewAuthorizeNonceInstruction builds the instruction that hands a nonce
// account's authority from current to next. current must sign.
func NewAuthorizeNonceInstruction(nonceAccount, current, next solana.PublicKey) solana.Instruction {
	return system.NewAuthorizeNonceAccountInstruction(
		next,
		nonceAccount,
		current,
	).Build()
}

// ExecutionContext carries an optional nonce lease through the transaction
// build pipeline. A nil receiver or a context without a lease means the
// transaction uses a plain recent blockhash.
type ExecutionContext struct {
	lease *NonceLease
}

// NewExecutionContext wraps a lease for handoff to a builder. lease may be
// nil for non-durable flows.
func NewExecutionContext(lease *NonceLease) *ExecutionContext {
	return &ExecutionContext{lease: lease}
}

// IsDurable reports whether the context carries a nonce lease.
func (e *ExecutionContext) IsDurable() bool {
	return e != nil && e.lease != nil
}

// NonceInfo returns the embedded lease's nonce material, or a zero value
// and false when the context is non-durable.
func (e *ExecutionContext) NonceInfo() (NonceInfo, bool) {
	if !e.IsDurable() {
		return NonceInfo{}, false
	}
	return NonceInfo{
		Account:   e.lease.NoncePubkey(),
		Authority: e.lease.Authority(),
		Blockhash: e.lease.NonceBlockhash(),
	}, true
}

// ExtractLease removes the lease from the context and hands ownership to
// the caller. Subsequent calls return nil; release responsibility moves
// with the lease exactly once.
func (e *ExecutionContext) ExtractLease() *NonceLease {
	if e == nil {
		return nil
	}
	lease := e.lease
	e.lease = nil
	return lease
}

// Close releases a still-embedded lease. Safe to defer alongside
// ExtractLease: whichever runs second finds nothing to do.
func (e *ExecutionContext) Close() {
	if lease := e.ExtractLease(); lease != nil {
		lease.Close()
	}
}

// BuildOutput pairs a fully built transaction with the lease that backs
// it, so the broadcast layer can release the nonce on both the success and
// failure paths.
type BuildOutput struct {
	tx      *solana.Transaction
	lease   *NonceLease
	signers []solana.PublicKey
}

// NewBuildOutput wraps a built transaction. lease may be nil for plain
// blockhash transactions. Required signers are read from the compiled
// message header.
func NewBuildOutput(tx *solana.Transaction, lease *NonceLease) (*BuildOutput, error) {
	if tx == nil {
		return nil, ErrNilTransaction
	}
	n := int(tx.Message.Header.NumRequiredSignatures)
	if n > len(tx.Message.AccountKeys) {
		n = len(tx.Message.AccountKeys)
	}
	signers := make([]solana.PublicKey, n)
	copy(signers, tx.Message.AccountKeys[:n])
	return &BuildOutput{tx: tx, lease: lease, signers: signers}, nil
}

// Tx returns the wrapped transaction.
func (b *BuildOutput) Tx() *solana.Transaction { return b.tx }

// RequiredSigners returns the public keys that must sign, in message
// order. The fee payer is first.
func (b *BuildOutput) RequiredSigners() []solana.PublicKey {
	out := make([]solana.PublicKey, len(b.signers))
	copy(out, b.signers)
	return out
}

// HoldsLease reports whether a nonce lease is still attached.
func (b *BuildOutput) HoldsLease() bool { return b.lease != nil }

// Lease returns the attached lease without transferring ownership, or nil.
func (b *BuildOutput) Lease() *NonceLease { return b.lease }

// ReleaseNonce releases the attached lease after a broadcast attempt.
// Idempotent; call it on success and failure paths alike.
func (b *BuildOutput) ReleaseNonce(ctx context.Context) error {
	if b.lease == nil {
		return nil
	}
	lease := b.lease
	b.lease = nil
	return lease.Release(ctx)
}

// IntoTx detaches and returns the transaction along with its lease,
// transferring release responsibility to the caller.
func (b *BuildOutput) IntoTx() (*solana.Transaction, *NonceLease) {
	tx, lease := b.tx, b.lease
	b.tx, b.lease = nil, nil
	return tx, lease
}

// Close releases a still-attached lease. A drop with the lease attached is
// logged; it usually means a broadcast path forgot ReleaseNonce.
func (b *BuildOutput) Close() {
	if b.lease == nil {
		return
	}
	logger.WithFields(logger.Fields{
		"nonce_account": b.lease.NoncePubkey().String(),
	}).Warn("build output dropped with nonce lease still attached")
	lease := b.lease
	b.lease = nil
	lease.Close()
}

// isAdvanceNonce reports whether a compiled instruction is the system
// program's AdvanceNonceAccount.
func isAdvanceNonce(msg *solana.Message, inst solana.CompiledInstruction) bool {
	program, err := msg.Program(inst.ProgramIDIndex)
	if err != nil || !program.Equals(solana.SystemProgramID) {
		return false
	}
	if len(inst.Data) < 4 {
		return false
	}
	return binary.LittleEndian.Uint32(inst.Data[:4]) == advanceNonceIndex
}

// ValidateDurableTx checks the structural invariants of a durable nonce
// transaction: the advance-nonce instruction exists, appears first, and
// appears exactly once.
func ValidateDurableTx(tx *solana.Transaction) error {
	if tx == nil {
		return ErrNilTransaction
	}
	msg := &tx.Message
	if len(msg.Instructions) == 0 || !isAdvanceNonce(msg, msg.Instructions[0]) {
		return ErrAdvanceNonceNotFirst
	}
	for _, inst := range msg.Instructions[1:] {
		if isAdvanceNonce(msg, inst) {
			return ErrDuplicateAdvanceNonce
		}
	}
	return nil
}

// SimulationInstructions returns the instruction list with any leading
// advance-nonce instruction stripped. Simulation must not consume the
// durable nonce; simulating the advance would invalidate the held
// blockhash for the real broadcast.
func SimulationInstructions(instructions []solana.Instruction) []solana.Instruction {
	if len(instructions) == 0 {
		return instructions
	}
	first := instructions[0]
	if first.ProgramID().Equals(solana.SystemProgramID) {
		data, err := first.Data()
		if err == nil && len(data) >= 4 &&
			binary.LittleEndian.Uint32(data[:4]) == advanceNonceIndex {
			return instructions[1:]
		}
	}
	return instructions
}
