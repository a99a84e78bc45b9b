package rpcpool

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// nonceAccountDataLen is the serialized size of an initialized durable nonce
// account: version u32, state u32, authority 32 bytes, durable nonce 32
// bytes, lamports-per-signature u64.
const nonceAccountDataLen = 80

// nonceStateInitialized is the on-chain state tag for a usable nonce account.
const nonceStateInitialized = 1

// NonceAccountState is the decoded on-chain state of a durable nonce account
// plus the slot the read was served at.
type NonceAccountState struct {
	Address              solana.PublicKey
	Authority            solana.PublicKey
	Blockhash            solana.Hash
	LamportsPerSignature uint64
	Slot                 uint64
}

// decodeNonceAccount parses the raw account data of a durable nonce account.
func decodeNonceAccount(address solana.PublicKey, data []byte) (*NonceAccountState, error) {
	if len(data) < nonceAccountDataLen {
		return nil, fmt.Errorf("nonce account %s: data too short: %d bytes", address, len(data))
	}

	dec := bin.NewBinDecoder(data)

	version, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("nonce account %s: read version: %w", address, err)
	}
	state, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("nonce account %s: read state: %w", address, err)
	}
	if state != nonceStateInitialized {
		return nil, fmt.Errorf("nonce account %s: not initialized (version %d, state %d)", address, version, state)
	}

	authorityBytes, err := dec.ReadNBytes(32)
	if err != nil {
		return nil, fmt.Errorf("nonce account %s: read authority: %w", address, err)
	}
	nonceBytes, err := dec.ReadNBytes(32)
	if err != nil {
		return nil, fmt.Errorf("nonce account %s: read durable nonce: %w", address, err)
	}
	lamportsPerSig, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("nonce account %s: read fee calculator: %w", address, err)
	}

	out := &NonceAccountState{
		Address:              address,
		LamportsPerSignature: lamportsPerSig,
	}
	copy(out.Authority[:], authorityBytes)
	copy(out.Blockhash[:], nonceBytes)
	return out, nil
}
