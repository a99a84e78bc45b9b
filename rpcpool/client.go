package rpcpool

import (
	"context"
	"fmt"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Client is the per-endpoint ledger RPC surface the pool routes over.
// *rpc.Client satisfies it; tests substitute fakes through
// WithClientFactory.
type Client interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error)
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// newRPCClient is the default client factory.
func newRPCClient(url string) Client {
	return rpc.New(url)
}

// do runs one logical operation against the pool: admission control, scored
// endpoint selection, per-attempt timeout, exactly-once result recording and
// Fibonacci-backoff retries for transient failures.
func (p *Pool) do(ctx context.Context, op string, fn func(ctx context.Context, c Client) error) error {
	if err := p.admit(); err != nil {
		return err
	}
	defer p.done()

	boff := NewFibonacciBackoff(p.cfg.RetryFloor, p.cfg.RetryCeiling, p.cfg.MaxRetrySteps)
	var lastErr error

	for {
		ep, selErr := p.selectEndpoint()
		if selErr != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last attempt: %v)", selErr, lastErr)
			}
			return selErr
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		start := time.Now()
		callErr := fn(attemptCtx, ep.client)
		cancel()
		latency := time.Since(start)

		if callErr == nil {
			p.recordResult(ep, latency, true, KindOther)
			return nil
		}

		kind := Classify(callErr)
		p.recordResult(ep, latency, false, kind)
		lastErr = &Error{Kind: kind, Endpoint: ep.health.URL(), Err: callErr}

		logger.WithFields(logger.Fields{
			"op":         op,
			"endpoint":   ep.health.URL(),
			"kind":       kind.String(),
			"latency_ms": latency.Milliseconds(),
			"error":      callErr,
		}).Debug("rpc pool: attempt failed")

		if !kind.Retryable() {
			return lastErr
		}

		delay, ok := boff.Next()
		if !ok {
			return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// LatestBlockhash is the result of a routed blockhash read.
type LatestBlockhash struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
	Slot                 uint64
}

// GetLatestBlockhash fetches the cluster's latest blockhash through the pool.
func (p *Pool) GetLatestBlockhash(ctx context.Context) (*LatestBlockhash, error) {
	var out *LatestBlockhash
	err := p.do(ctx, "getLatestBlockhash", func(ctx context.Context, c Client) error {
		res, err := c.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return fmt.Errorf("empty getLatestBlockhash response")
		}
		out = &LatestBlockhash{
			Blockhash:            res.Value.Blockhash,
			LastValidBlockHeight: res.Value.LastValidBlockHeight,
			Slot:                 res.Context.Slot,
		}
		return nil
	})
	return out, err
}

// GetSlot returns the current confirmed slot.
func (p *Pool) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := p.do(ctx, "getSlot", func(ctx context.Context, c Client) error {
		s, err := c.GetSlot(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		slot = s
		return nil
	})
	return slot, err
}

// GetAccountInfo reads one account through the pool.
func (p *Pool) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.Account, uint64, error) {
	var (
		acc  *rpc.Account
		slot uint64
	)
	err := p.do(ctx, "getAccountInfo", func(ctx context.Context, c Client) error {
		res, err := c.GetAccountInfo(ctx, account)
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, account)
		}
		acc = res.Value
		slot = res.Context.Slot
		return nil
	})
	return acc, slot, err
}

// GetMultipleAccounts reads a batch of accounts in one routed request.
func (p *Pool) GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) ([]*rpc.Account, error) {
	var out []*rpc.Account
	err := p.do(ctx, "getMultipleAccounts", func(ctx context.Context, c Client) error {
		res, err := c.GetMultipleAccounts(ctx, accounts...)
		if err != nil {
			return err
		}
		if res == nil {
			return fmt.Errorf("empty getMultipleAccounts response")
		}
		out = res.Value
		return nil
	})
	return out, err
}

// GetNonceAccount reads and decodes a durable nonce account, returning its
// current authority, durable blockhash and the slot of the read.
func (p *Pool) GetNonceAccount(ctx context.Context, account solana.PublicKey) (*NonceAccountState, error) {
	acc, slot, err := p.GetAccountInfo(ctx, account)
	if err != nil {
		return nil, err
	}

	data := acc.Data.GetBinary()
	state, err := decodeNonceAccount(account, data)
	if err != nil {
		return nil, err
	}
	state.Slot = slot
	return state, nil
}

// SendTransaction broadcasts a signed transaction through the pool.
func (p *Pool) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	err := p.do(ctx, "sendTransaction", func(ctx context.Context, c Client) error {
		s, err := c.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			return err
		}
		sig = s
		return nil
	})
	return sig, err
}
