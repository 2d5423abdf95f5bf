package greeks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-scalper/internal/config"
	"nifty-scalper/internal/market"
	"nifty-scalper/internal/models"
)

type fakeProvider struct {
	calls int
	fail  bool
	delta float64
}

func (f *fakeProvider) FetchGreeks(ctx context.Context, symbol string) (*models.GreeksSnapshot, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("upstream down")
	}
	return &models.GreeksSnapshot{
		Symbol:    symbol,
		Timestamp: time.Now(),
		Delta:     f.delta,
		Gamma:     0.004,
		Theta:     -0.04,
		Vega:      0.02,
		IV:        25,
		LTP:       100,
		Bid:       99.8,
		Ask:       100.2,
		Volume:    500,
		OI:        10000,
	}, nil
}

func (f *fakeProvider) FetchChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChainSnapshot, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("upstream down")
	}
	return &models.OptionChainSnapshot{
		Underlying: underlying,
		ExpiryDate: expiry,
		Timestamp:  time.Now(),
		Strikes:    map[string]models.StrikeQuote{},
	}, nil
}

func (f *fakeProvider) FetchSpot(ctx context.Context, underlying string) (float64, error) {
	return 24000, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		TTL:             10 * time.Second,
		MinFetchGap:     1 * time.Second,
		RefreshInterval: 5 * time.Second,
		ChainTTL:        30 * time.Second,
		FreshnessMax:    5 * time.Second,
		SweepInterval:   60 * time.Second,
	}
}

func newTestCache(provider market.GreeksProvider, clock market.Clock) *Cache {
	return NewCache(provider, clock, testCacheConfig(), zerolog.Nop())
}

func TestCacheServesFreshFromCache(t *testing.T) {
	provider := &fakeProvider{delta: 0.5}
	clock := &fakeClock{now: time.Now()}
	cache := newTestCache(provider, clock)

	ctx := context.Background()
	snap, err := cache.Get(ctx, "NIFTY24000CE")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1, provider.calls)

	// Within TTL: second read must not hit the provider.
	clock.Advance(3 * time.Second)
	_, err = cache.Get(ctx, "NIFTY24000CE")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls)

	stats := cache.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCacheRefetchesAfterTTL(t *testing.T) {
	provider := &fakeProvider{delta: 0.5}
	clock := &fakeClock{now: time.Now()}
	cache := newTestCache(provider, clock)

	ctx := context.Background()
	_, err := cache.Get(ctx, "NIFTY24000CE")
	require.NoError(t, err)

	clock.Advance(11 * time.Second)
	_, err = cache.Get(ctx, "NIFTY24000CE")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestCacheMinFetchGap(t *testing.T) {
	provider := &fakeProvider{delta: 0.5}
	clock := &fakeClock{now: time.Now()}
	cache := newTestCache(provider, clock)

	ctx := context.Background()
	_, err := cache.Get(ctx, "NIFTY24000CE")
	require.NoError(t, err)

	// TTL expired in spirit (force refresh path), but fetch gap not yet
	// elapsed: the cached snapshot comes back without a provider call.
	snap, err := cache.GetFresh(ctx, "NIFTY24000CE")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 2, provider.calls, "GetFresh bypasses TTL but still fetches")

	clock.Advance(500 * time.Millisecond)
	cacheCalls := provider.calls
	_, err = cache.Get(ctx, "NIFTY24000CE")
	require.NoError(t, err)
	assert.Equal(t, cacheCalls, provider.calls)
}

func TestCacheServesStaleOnProviderFailure(t *testing.T) {
	provider := &fakeProvider{delta: 0.5}
	clock := &fakeClock{now: time.Now()}
	cache := newTestCache(provider, clock)

	ctx := context.Background()
	first, err := cache.Get(ctx, "NIFTY24000CE")
	require.NoError(t, err)

	provider.fail = true
	clock.Advance(15 * time.Second)

	snap, err := cache.Get(ctx, "NIFTY24000CE")
	require.NoError(t, err, "stale snapshot should be served on failure")
	assert.Equal(t, first.Delta, snap.Delta)
	assert.True(t, int64(1) <= cache.GetStats().StaleServed)
}

func TestCacheFailsWithoutAnySnapshot(t *testing.T) {
	provider := &fakeProvider{fail: true}
	clock := &fakeClock{now: time.Now()}
	cache := newTestCache(provider, clock)

	_, err := cache.Get(context.Background(), "NIFTY24000CE")
	require.Error(t, err)
}

func TestCacheRollingPair(t *testing.T) {
	provider := &fakeProvider{delta: 0.5}
	clock := &fakeClock{now: time.Now()}
	cache := newTestCache(provider, clock)

	ctx := context.Background()
	_, err := cache.Get(ctx, "NIFTY24000CE")
	require.NoError(t, err)

	provider.delta = 0.55
	clock.Advance(11 * time.Second)
	_, err = cache.Get(ctx, "NIFTY24000CE")
	require.NoError(t, err)

	current, previous := cache.Rolling("NIFTY24000CE")
	require.NotNil(t, current)
	require.NotNil(t, previous)
	assert.Equal(t, 0.55, current.Delta)
	assert.Equal(t, 0.5, previous.Delta)
}

func TestCacheSweepEvictsOldEntries(t *testing.T) {
	provider := &fakeProvider{delta: 0.5}
	clock := &fakeClock{now: time.Now()}
	cache := newTestCache(provider, clock)

	ctx := context.Background()
	_, err := cache.Get(ctx, "NIFTY24000CE")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	cache.sweepStale()

	current, _ := cache.Rolling("NIFTY24000CE")
	assert.Nil(t, current)
}

func TestValidateHealth(t *testing.T) {
	cfg := config.StrikeConfig{
		SpreadMaxPct: 1.0,
		VolumeMin:    50,
		OIMin:        100,
	}
	snap := &models.GreeksSnapshot{
		Delta:  0.5,
		Gamma:  0.004,
		Theta:  -0.04,
		Vega:   0.02,
		LTP:    100,
		Bid:    99.8,
		Ask:    100.2,
		Volume: 500,
		OI:     10000,
	}
	health := ValidateHealth(snap, cfg)
	assert.True(t, health.Pass())

	snap.Gamma = 0.0001
	health = ValidateHealth(snap, cfg)
	assert.False(t, health.GammaOK)
	assert.False(t, health.Pass())
}

func TestQualityScore(t *testing.T) {
	good := &models.GreeksSnapshot{
		Delta:  0.5,
		Gamma:  0.004,
		Theta:  -10,
		Vega:   5,
		Volume: 2000,
		OI:     20000,
	}
	assert.Equal(t, 100.0, QualityScore(good))
	assert.Equal(t, 0.0, QualityScore(nil))

	poor := &models.GreeksSnapshot{Delta: 0.05, Gamma: 0.0001}
	score := QualityScore(poor)
	assert.Less(t, score, 30.0)
}

func TestRollingIVTrend(t *testing.T) {
	provider := &fakeProvider{delta: 0.5}
	clock := &fakeClock{now: time.Now()}
	cache := newTestCache(provider, clock)

	_, ok := cache.RollingIVTrend("NIFTY24000CE")
	assert.False(t, ok)
}
