package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nifty-scalper/internal/config"
	"nifty-scalper/internal/market"
	"nifty-scalper/internal/models"
	"nifty-scalper/internal/risk"
	"nifty-scalper/internal/session"
)

// BacktestOptions tunes a simulated run.
type BacktestOptions struct {
	// Ticks is the number of simulated seconds to run. Zero means a full
	// session from Start to square-off.
	Ticks int
	// Start is the simulated session start. Zero means the most recent
	// weekday at the configured session open.
	Start time.Time
	Spot  float64
	Seed  int64
}

// BacktestResult summarises a simulated run.
type BacktestResult struct {
	Ticks     int
	Start     time.Time
	End       time.Time
	Stats     models.TradeStats
	Risk      risk.Metrics
	FinalBias models.BiasState
}

// RunBacktest replays a synthetic market through the full pipeline under a
// deterministic clock. Same decision code as live, only the collaborators
// differ.
func RunBacktest(cfg *config.Config, opts BacktestOptions, logger zerolog.Logger) (*BacktestResult, error) {
	start := opts.Start
	if start.IsZero() {
		start = defaultSessionStart(cfg)
	}

	simNow := start
	clock := market.ClockFunc(func() time.Time { return simNow })

	sim := market.NewSimProvider(market.SimConfig{
		Seed:       opts.Seed,
		Spot:       opts.Spot,
		StrikeStep: cfg.Trading.StrikeStep,
		LotSize:    cfg.Trading.LotSize,
		Clock:      clock,
	})

	p, err := New(cfg, Deps{
		Provider: sim,
		Source:   sim,
		Executor: sim,
		Clock:    clock,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	ticks := opts.Ticks
	if ticks <= 0 {
		// Run until the square-off window plus a tick to flatten.
		ticks = int(p.window.TimeToSquareOff(start)/cfg.Trading.TickInterval) + 1
	}

	ctx := context.Background()
	if err := p.expiries.Refresh(ctx, cfg.Trading.Underlying); err != nil {
		return nil, fmt.Errorf("expiry refresh: %w", err)
	}
	p.lastExpirySync = simNow

	logger.Info().
		Time("start", start).
		Int("ticks", ticks).
		Int64("seed", opts.Seed).
		Msg("Backtest started")

	for i := 0; i < ticks; i++ {
		sim.Step()
		p.Tick(ctx, simNow)
		simNow = simNow.Add(cfg.Trading.TickInterval)
	}

	// Flatten whatever the square-off window did not reach.
	p.squareOff(ctx)

	result := &BacktestResult{
		Ticks:     ticks,
		Start:     start,
		End:       simNow,
		Stats:     p.Stats(),
		Risk:      p.RiskMetrics(),
		FinalBias: p.biases.Bias(),
	}

	logger.Info().
		Int("trades", result.Stats.Total).
		Float64("win_rate", result.Stats.WinRate).
		Float64("total_pnl", result.Stats.TotalPnL).
		Msg("Backtest finished")

	return result, nil
}

// defaultSessionStart returns the most recent weekday at session open, so a
// zero-option backtest always lands inside trading hours.
func defaultSessionStart(cfg *config.Config) time.Time {
	open, err := time.Parse("15:04", cfg.Session.Start)
	if err != nil {
		open = time.Date(0, 1, 1, 9, 15, 0, 0, time.UTC)
	}
	now := time.Now().In(session.IndiaLocation)
	day := time.Date(now.Year(), now.Month(), now.Day(), open.Hour(), open.Minute(), 0, 0, session.IndiaLocation)
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, -1)
	}
	return day
}
