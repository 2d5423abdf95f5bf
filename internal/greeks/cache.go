// Package greeks provides a tiered cache over the Greeks provider with
// rolling current/previous snapshots for delta tracking.
package greeks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nifty-scalper/internal/config"
	scalperrors "nifty-scalper/internal/errors"
	"nifty-scalper/internal/logging"
	"nifty-scalper/internal/market"
	"nifty-scalper/internal/models"
	"nifty-scalper/internal/observ"
)

// Cache caches Greeks snapshots and option chains with TTL expiry. Fetches
// for the same symbol are spaced by a minimum gap; tracked symbols are
// refreshed in the background so reads stay on the fast path.
type Cache struct {
	provider market.GreeksProvider
	clock    market.Clock
	cfg      config.CacheConfig
	logger   zerolog.Logger

	mu       sync.RWMutex
	current  map[string]*models.GreeksSnapshot
	previous map[string]*models.GreeksSnapshot
	chains   map[string]*models.OptionChainSnapshot
	lastCall map[string]time.Time
	tracked  map[string]struct{}
	spots    map[string]spotEntry

	stats Stats

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Stats holds cache counters.
type Stats struct {
	Hits        int64
	Misses      int64
	StaleServed int64
	Fetches     int64
	Errors      int64
}

// NewCache creates a cache over the given provider.
func NewCache(provider market.GreeksProvider, clock market.Clock, cfg config.CacheConfig, logger zerolog.Logger) *Cache {
	if clock == nil {
		clock = market.SystemClock()
	}
	return &Cache{
		provider: provider,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With().Str("component", "greeks_cache").Logger(),
		current:  make(map[string]*models.GreeksSnapshot),
		previous: make(map[string]*models.GreeksSnapshot),
		chains:   make(map[string]*models.OptionChainSnapshot),
		lastCall: make(map[string]time.Time),
		tracked:  make(map[string]struct{}),
		spots:    make(map[string]spotEntry),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Track adds a symbol to the background refresh set.
func (c *Cache) Track(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tracked[symbol]; !ok {
		c.tracked[symbol] = struct{}{}
		c.logger.Info().Str("symbol", symbol).Msg("Tracking symbol")
	}
}

// Untrack removes a symbol from the background refresh set.
func (c *Cache) Untrack(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tracked[symbol]; ok {
		delete(c.tracked, symbol)
		c.logger.Info().Str("symbol", symbol).Msg("Stopped tracking symbol")
	}
}

// Start launches the background refresh and stale sweep loops. They run until
// Stop is called or ctx is cancelled.
func (c *Cache) Start(ctx context.Context) {
	go c.refreshLoop(ctx)
}

// Stop terminates the background loops.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
}

func (c *Cache) refreshLoop(ctx context.Context) {
	defer close(c.done)
	refresh := time.NewTicker(c.cfg.RefreshInterval)
	defer refresh.Stop()
	sweep := time.NewTicker(c.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-refresh.C:
			c.refreshTracked(ctx)
		case <-sweep.C:
			c.sweepStale()
		}
	}
}

func (c *Cache) refreshTracked(ctx context.Context) {
	c.mu.RLock()
	symbols := make([]string, 0, len(c.tracked))
	for s := range c.tracked {
		symbols = append(symbols, s)
	}
	c.mu.RUnlock()

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.fetch(ctx, symbol, false); err != nil {
			c.logger.Debug().Err(err).Str("symbol", symbol).Msg("Background refresh failed")
		}
	}
}

// Get returns the Greeks snapshot for symbol, serving from cache when fresh.
// On provider failure the last known snapshot is returned, even if stale.
func (c *Cache) Get(ctx context.Context, symbol string) (*models.GreeksSnapshot, error) {
	return c.get(ctx, symbol, false)
}

// GetFresh bypasses both the TTL check and the per-symbol fetch gap,
// always hitting the provider.
func (c *Cache) GetFresh(ctx context.Context, symbol string) (*models.GreeksSnapshot, error) {
	return c.get(ctx, symbol, true)
}

func (c *Cache) get(ctx context.Context, symbol string, forceRefresh bool) (*models.GreeksSnapshot, error) {
	if !forceRefresh {
		c.mu.RLock()
		cached, ok := c.current[symbol]
		c.mu.RUnlock()
		if ok && !cached.IsStale(c.clock.Now(), c.cfg.TTL) {
			c.recordHit()
			observ.IncCacheOutcome("hit")
			return cached, nil
		}
	}
	c.recordMiss()
	observ.IncCacheOutcome("miss")
	return c.fetch(ctx, symbol, forceRefresh)
}

// fetch calls the provider, honoring the per-symbol minimum gap. A call
// inside the gap returns the cached snapshot instead of hitting the API.
func (c *Cache) fetch(ctx context.Context, symbol string, force bool) (*models.GreeksSnapshot, error) {
	now := c.clock.Now()

	c.mu.Lock()
	last, called := c.lastCall[symbol]
	if !force && called && now.Sub(last) < c.cfg.MinFetchGap {
		cached := c.current[symbol]
		c.mu.Unlock()
		if cached == nil {
			return nil, fmt.Errorf("fetch gap for %s: %w", symbol, scalperrors.ErrDataUnavailable)
		}
		return cached, nil
	}
	c.lastCall[symbol] = now
	c.stats.Fetches++
	c.mu.Unlock()

	start := c.clock.Now()
	snapshot, err := c.provider.FetchGreeks(ctx, symbol)
	observ.IncProviderCall("greeks", err)
	logging.LogProviderCall(c.logger, "fetch_greeks", symbol, c.clock.Now().Sub(start), err)
	if err != nil {
		c.mu.Lock()
		c.stats.Errors++
		cached := c.current[symbol]
		if cached != nil {
			c.stats.StaleServed++
		}
		c.mu.Unlock()
		if cached != nil {
			observ.IncCacheOutcome("stale")
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Fetch failed, serving stale snapshot")
			return cached, nil
		}
		return nil, scalperrors.NewProviderError("fetch_greeks", symbol, err)
	}
	c.mu.Lock()
	if cur, ok := c.current[symbol]; ok {
		c.previous[symbol] = cur
	}
	c.current[symbol] = snapshot
	c.mu.Unlock()

	return snapshot, nil
}

// Rolling returns the current and previous snapshots for a symbol. Either
// may be nil when not yet populated.
func (c *Cache) Rolling(symbol string) (current, previous *models.GreeksSnapshot) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current[symbol], c.previous[symbol]
}

// GetChain returns the option chain for the underlying/expiry pair, serving
// from cache when fresh.
func (c *Cache) GetChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChainSnapshot, error) {
	key := chainKey(underlying, expiry)

	c.mu.RLock()
	cached, ok := c.chains[key]
	c.mu.RUnlock()
	if ok && !cached.IsStale(c.clock.Now(), c.cfg.ChainTTL) {
		c.recordHit()
		observ.IncCacheOutcome("hit")
		return cached, nil
	}
	c.recordMiss()
	observ.IncCacheOutcome("miss")

	chain, err := c.provider.FetchChain(ctx, underlying, expiry)
	observ.IncProviderCall("chain", err)
	if err != nil {
		c.mu.Lock()
		c.stats.Errors++
		c.mu.Unlock()
		if cached != nil {
			observ.IncCacheOutcome("stale")
			return cached, nil
		}
		return nil, scalperrors.NewProviderError("fetch_chain", underlying, err)
	}

	c.mu.Lock()
	c.chains[key] = chain
	c.mu.Unlock()
	return chain, nil
}

func chainKey(underlying string, expiry time.Time) string {
	return underlying + ":" + expiry.Format("2006-01-02")
}

type spotEntry struct {
	price     float64
	fetchedAt time.Time
}

// Spot returns the underlying spot price, cached for the snapshot TTL. On
// provider failure the last known value is served.
func (c *Cache) Spot(ctx context.Context, underlying string) (float64, error) {
	now := c.clock.Now()

	c.mu.RLock()
	cached, ok := c.spots[underlying]
	c.mu.RUnlock()
	if ok && now.Sub(cached.fetchedAt) <= c.cfg.TTL {
		return cached.price, nil
	}

	price, err := c.provider.FetchSpot(ctx, underlying)
	observ.IncProviderCall("spot", err)
	if err != nil {
		if ok {
			c.logger.Warn().Err(err).Str("underlying", underlying).Msg("Spot fetch failed, serving stale value")
			return cached.price, nil
		}
		return 0, scalperrors.NewProviderError("fetch_spot", underlying, err)
	}

	c.mu.Lock()
	c.spots[underlying] = spotEntry{price: price, fetchedAt: now}
	c.mu.Unlock()
	return price, nil
}

// sweepStale evicts snapshots well past their TTL so untracked symbols do
// not accumulate.
func (c *Cache) sweepStale() {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var greeks, chains int
	for symbol, snap := range c.current {
		if snap.IsStale(now, 6*c.cfg.TTL) {
			delete(c.current, symbol)
			delete(c.previous, symbol)
			delete(c.lastCall, symbol)
			greeks++
		}
	}
	for key, chain := range c.chains {
		if chain.IsStale(now, 4*c.cfg.ChainTTL) {
			delete(c.chains, key)
			chains++
		}
	}
	if greeks > 0 || chains > 0 {
		c.logger.Debug().Int("greeks", greeks).Int("chains", chains).Msg("Swept stale cache entries")
	}
}

// IsUsable reports whether the cached snapshot for symbol is fresh enough to
// base a trading decision on.
func (c *Cache) IsUsable(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.current[symbol]
	if !ok {
		return false
	}
	return !snap.IsStale(c.clock.Now(), c.cfg.FreshnessMax) && snap.HasQuote()
}

// GetStats returns a copy of the cache counters.
func (c *Cache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}
