// Package testutil provides testing utilities for the nonce pool.
//
// This package contains test fixtures and transaction builders that are
// commonly used across tests in the noncepool and rpcpool packages.
//
// # Important Note on Import Cycles
//
// Fake nonce sources and fake RPC clients are kept in each package's own
// test files to avoid import cycles. This package only contains utilities
// that don't depend on noncepool or rpcpool types.
//
// # Test Fixtures
//
// Common test values are provided:
//   - TestNonceAccount1..3: Common nonce account addresses
//   - TestAuthority, TestNewAuthority, TestPayer, TestRecipient: Common signers
//   - TestBlockhash1, TestBlockhash2: Durable blockhashes
//   - NonceAccountData: Raw 80-byte nonce account data for decoder tests
//
// # Transaction Builders
//
// Helper functions for creating test transactions:
//   - NewDurableTx: Durable transaction with advance-nonce first
//   - NewPlainTx: Plain recent-blockhash transfer
//   - NewMisorderedDurableTx: Advance-nonce not in first position
//   - NewDoubleAdvanceTx: Two advance-nonce instructions
package testutil
