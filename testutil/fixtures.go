package testutil

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// ============================================================
// Test Accounts
// ============================================================

var (
	// TestNonceAccount1 is a common nonce account address
	TestNonceAccount1 = pubkey(0x11)
	// TestNonceAccount2 is a second nonce account address
	TestNonceAccount2 = pubkey(0x22)
	// TestNonceAccount3 is an additional nonce account address
	TestNonceAccount3 = pubkey(0x33)

	// TestAuthority is the nonce authority used across tests
	TestAuthority = pubkey(0xaa)
	// TestNewAuthority is the target of authority rotation tests
	TestNewAuthority = pubkey(0xab)
	// TestPayer is a common fee payer
	TestPayer = pubkey(0xf1)
	// TestRecipient is a common transfer recipient
	TestRecipient = pubkey(0xf2)
)

// ============================================================
// Test Blockhashes
// ============================================================

var (
	// TestBlockhash1 is a durable blockhash for lease tests
	TestBlockhash1 = hash(0xb1)
	// TestBlockhash2 is a second durable blockhash
	TestBlockhash2 = hash(0xb2)
)

func pubkey(fill byte) solana.PublicKey {
	var pk solana.PublicKey
	for i := range pk {
		pk[i] = fill
	}
	return pk
}

func hash(fill byte) solana.Hash {
	return solana.Hash(pubkey(fill))
}

// ============================================================
// Nonce Account Data
// ============================================================

// NonceAccountData builds the raw 80-byte account data of an initialized
// durable nonce account: version, state, authority, blockhash and
// lamports-per-signature, all little-endian where sized.
func NonceAccountData(authority solana.PublicKey, blockhash solana.Hash, lamportsPerSig uint64) []byte {
	data := make([]byte, 80)
	binary.LittleEndian.PutUint32(data[0:4], 0)  // version
	binary.LittleEndian.PutUint32(data[4:8], 1)  // state: initialized
	copy(data[8:40], authority[:])
	copy(data[40:72], blockhash[:])
	binary.LittleEndian.PutUint64(data[72:80], lamportsPerSig)
	return data
}

// UninitializedNonceAccountData builds 80 bytes of nonce account data with
// the state field left at zero.
func UninitializedNonceAccountData() []byte {
	return make([]byte, 80)
}
