package testutil

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// ============================================================
// Transaction Builders
// ============================================================

func advanceNonce(nonceAccount, authority solana.PublicKey) solana.Instruction {
	return system.NewAdvanceNonceAccountInstruction(
		nonceAccount,
		solana.SysVarRecentBlockHashesPubkey,
		authority,
	).Build()
}

func transfer(lamports uint64) solana.Instruction {
	return system.NewTransferInstruction(lamports, TestPayer, TestRecipient).Build()
}

func mustTx(instructions []solana.Instruction, blockhash solana.Hash) *solana.Transaction {
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(TestPayer))
	if err != nil {
		panic(err)
	}
	return tx
}

// NewDurableTx creates a well-formed durable transaction: advance-nonce
// first, one transfer after it, the durable blockhash as recent blockhash.
func NewDurableTx(nonceAccount, authority solana.PublicKey, blockhash solana.Hash) *solana.Transaction {
	return mustTx([]solana.Instruction{
		advanceNonce(nonceAccount, authority),
		transfer(1_000),
	}, blockhash)
}

// NewPlainTx creates a plain recent-blockhash transfer with no nonce
// instructions.
func NewPlainTx(blockhash solana.Hash) *solana.Transaction {
	return mustTx([]solana.Instruction{
		transfer(1_000),
	}, blockhash)
}

// NewMisorderedDurableTx creates a durable transaction with the
// advance-nonce instruction in second position instead of first.
func NewMisorderedDurableTx(nonceAccount, authority solana.PublicKey, blockhash solana.Hash) *solana.Transaction {
	return mustTx([]solana.Instruction{
		transfer(1_000),
		advanceNonce(nonceAccount, authority),
	}, blockhash)
}

// NewDoubleAdvanceTx creates a transaction carrying two advance-nonce
// instructions.
func NewDoubleAdvanceTx(nonceAccount, authority solana.PublicKey, blockhash solana.Hash) *solana.Transaction {
	return mustTx([]solana.Instruction{
		advanceNonce(nonceAccount, authority),
		transfer(1_000),
		advanceNonce(nonceAccount, authority),
	}, blockhash)
}

// DurableInstructions returns the instruction slice of a durable
// transaction before compilation, for simulation-stripping tests.
func DurableInstructions(nonceAccount, authority solana.PublicKey) []solana.Instruction {
	return []solana.Instruction{
		advanceNonce(nonceAccount, authority),
		transfer(1_000),
	}
}

// PlainInstructions returns a plain instruction slice with no advance.
func PlainInstructions() []solana.Instruction {
	return []solana.Instruction{transfer(1_000)}
}
