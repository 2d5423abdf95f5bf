package market

import (
	"context"
	"time"

	"nifty-scalper/internal/models"
	"nifty-scalper/pkg/utils"
)

// RetryingProvider wraps a GreeksProvider with exponential-backoff retries.
// Transient upstream failures are absorbed here so the cache only sees a
// failure once the budget is exhausted.
type RetryingProvider struct {
	inner GreeksProvider
	cfg   utils.RetryConfig
}

// NewRetryingProvider wraps provider with the given retry budget.
func NewRetryingProvider(inner GreeksProvider, cfg utils.RetryConfig) *RetryingProvider {
	return &RetryingProvider{inner: inner, cfg: cfg}
}

// FetchGreeks retries the inner fetch on failure.
func (r *RetryingProvider) FetchGreeks(ctx context.Context, symbol string) (*models.GreeksSnapshot, error) {
	return utils.RetryWithResult(ctx, r.cfg, func() (*models.GreeksSnapshot, error) {
		return r.inner.FetchGreeks(ctx, symbol)
	})
}

// FetchChain retries the inner fetch on failure.
func (r *RetryingProvider) FetchChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChainSnapshot, error) {
	return utils.RetryWithResult(ctx, r.cfg, func() (*models.OptionChainSnapshot, error) {
		return r.inner.FetchChain(ctx, underlying, expiry)
	})
}

// FetchSpot retries the inner fetch on failure.
func (r *RetryingProvider) FetchSpot(ctx context.Context, underlying string) (float64, error) {
	return utils.RetryWithResult(ctx, r.cfg, func() (float64, error) {
		return r.inner.FetchSpot(ctx, underlying)
	})
}
