package rpcpool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Pool-level errors.
var (
	// ErrNoEndpoints is returned when the pool holds no endpoints at all.
	ErrNoEndpoints = fmt.Errorf("rpc pool has no endpoints configured")
	// ErrAllEndpointsUnavailable is returned when every endpoint is excluded
	// by its circuit breaker, cooldown or predictive model.
	ErrAllEndpointsUnavailable = fmt.Errorf("all rpc endpoints are unavailable")
	// ErrPoolSaturated is returned when the in-flight ceiling is reached.
	// Requests are shed immediately rather than queued.
	ErrPoolSaturated = fmt.Errorf("rpc pool saturated: in-flight request ceiling reached")
	// ErrRateLimited is returned when the pool-level rate limiter rejects a
	// request before any endpoint is contacted.
	ErrRateLimited = fmt.Errorf("rpc pool rate limit exceeded")
	// ErrEndpointExists is returned by AddEndpoint for a duplicate URL.
	ErrEndpointExists = fmt.Errorf("endpoint already registered")
	// ErrEndpointNotFound is returned when an endpoint URL is unknown.
	ErrEndpointNotFound = fmt.Errorf("endpoint not registered")
	// ErrAccountNotFound is returned when a requested account does not exist.
	ErrAccountNotFound = fmt.Errorf("account not found")
)

// Kind classifies an RPC failure to decide between retrying with backoff and
// failing fast.
type Kind int

const (
	KindOther       Kind = iota // unclassified, retried conservatively
	KindRateLimited             // endpoint throttled us, retry elsewhere after backoff
	KindTimeout                 // deadline exceeded, retry elsewhere
	KindFatal                   // malformed request or unsupported method, never retried
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindFatal:
		return "fatal"
	default:
		return "other"
	}
}

// Retryable reports whether a failure of this kind warrants another attempt.
func (k Kind) Retryable() bool {
	return k != KindFatal
}

// Error is a classified RPC failure tied to the endpoint that produced it.
type Error struct {
	Kind     Kind
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc %s error from %s: %v", e.Kind, e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps an error from an endpoint call to a Kind. Classification is
// heuristic: the remote surface mixes HTTP status codes, JSON-RPC error
// payloads and transport failures.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "rate limit"):
		return KindRateLimited
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "method not found"),
		strings.Contains(msg, "invalid request"),
		strings.Contains(msg, "invalid params"),
		strings.Contains(msg, "parse error"),
		strings.Contains(msg, "unsupported"):
		return KindFatal
	default:
		return KindOther
	}
}
