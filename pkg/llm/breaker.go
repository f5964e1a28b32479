package llm

import (
	"context"

	"github.com/ocx/gridguardian/internal/circuitbreaker"
)

// BreakerClient wraps a Client with a circuit breaker so repeated oracle
// failures trip open and fail fast instead of retrying a down endpoint on
// every call. Guardian verdicts already fail closed on any oracle error,
// so an open breaker just reaches that same fail-closed path sooner.
type BreakerClient struct {
	inner Client
	cb    *circuitbreaker.CircuitBreaker
}

// NewBreakerClient wraps inner with cb.
func NewBreakerClient(inner Client, cb *circuitbreaker.CircuitBreaker) *BreakerClient {
	return &BreakerClient{inner: inner, cb: cb}
}

func (b *BreakerClient) Model() string { return b.inner.Model() }

func (b *BreakerClient) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	result, err := b.cb.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return b.inner.Complete(ctx, prompt, temperature)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}
