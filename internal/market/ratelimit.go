package market

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"nifty-scalper/internal/models"
)

// RateLimitedProvider wraps a GreeksProvider with a token-bucket limiter so
// upstream API quotas are respected across all callers.
type RateLimitedProvider struct {
	inner   GreeksProvider
	limiter *rate.Limiter
}

// NewRateLimitedProvider wraps provider so it performs at most rps requests
// per second with the given burst.
func NewRateLimitedProvider(inner GreeksProvider, rps float64, burst int) *RateLimitedProvider {
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// FetchGreeks waits for limiter capacity, then delegates.
func (r *RateLimitedProvider) FetchGreeks(ctx context.Context, symbol string) (*models.GreeksSnapshot, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.FetchGreeks(ctx, symbol)
}

// FetchChain waits for limiter capacity, then delegates.
func (r *RateLimitedProvider) FetchChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChainSnapshot, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.FetchChain(ctx, underlying, expiry)
}

// FetchSpot waits for limiter capacity, then delegates.
func (r *RateLimitedProvider) FetchSpot(ctx context.Context, underlying string) (float64, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return r.inner.FetchSpot(ctx, underlying)
}
