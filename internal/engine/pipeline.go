// Package engine runs the consolidated decision loop. One pipeline serves
// live, paper and backtest runs; only the collaborators behind the market
// interfaces change.
package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"nifty-scalper/internal/bias"
	"nifty-scalper/internal/config"
	"nifty-scalper/internal/entry"
	"nifty-scalper/internal/expiry"
	"nifty-scalper/internal/greeks"
	"nifty-scalper/internal/journal"
	"nifty-scalper/internal/market"
	"nifty-scalper/internal/models"
	"nifty-scalper/internal/risk"
	"nifty-scalper/internal/session"
	"nifty-scalper/internal/sizing"
	"nifty-scalper/internal/strikes"
	"nifty-scalper/internal/trades"
	"nifty-scalper/internal/trap"
)

// Deps are the external collaborators the pipeline is built around. Journal
// may be nil; Executor may be nil for decision-only runs.
type Deps struct {
	Provider market.GreeksProvider
	Source   market.ExpirySource
	Executor market.Executor
	Journal  *journal.Journal
	Clock    market.Clock
	Logger   zerolog.Logger
}

// Pipeline wires the full decision chain: cache, bias, traps, strike
// selection, entry, sizing, trade management and risk.
type Pipeline struct {
	cfg    *config.Config
	logger zerolog.Logger
	clock  market.Clock
	jrnl   *journal.Journal

	cache    *greeks.Cache
	biases   *bias.Engine
	traps    *trap.Detector
	entries  *entry.Engine
	selector *strikes.Selector
	sizer    *sizing.Sizer
	expiries *expiry.Manager
	trades   *trades.Manager
	risks    *risk.Manager
	window   *session.Window

	lastBias       models.BiasState
	lastEntryAt    time.Time
	lastExpirySync time.Time
}

// New assembles a pipeline from config and collaborators.
func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if deps.Clock == nil {
		deps.Clock = market.SystemClock()
	}
	window, err := session.NewWindow(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("session window: %w", err)
	}

	logger := deps.Logger.With().Str("component", "engine").Logger()
	traps := trap.NewDetector(cfg.Trap, deps.Logger)

	p := &Pipeline{
		cfg:      cfg,
		logger:   logger,
		clock:    deps.Clock,
		jrnl:     deps.Journal,
		cache:    greeks.NewCache(deps.Provider, deps.Clock, cfg.Cache, deps.Logger),
		biases:   bias.NewEngine(cfg.Bias, deps.Logger),
		traps:    traps,
		entries:  entry.NewEngine(cfg.Entry, cfg.Strike, traps, deps.Logger),
		selector: strikes.NewSelector(cfg.Strike, deps.Logger),
		sizer:    sizing.NewSizer(cfg.Sizing, cfg.Trading.LotSize, deps.Logger),
		expiries: expiry.NewManager(cfg.Expiry, deps.Source, deps.Clock, deps.Logger),
		trades:   trades.NewManager(cfg.Exit, deps.Executor, deps.Clock, deps.Logger),
		risks:    risk.NewManager(cfg.Risk, cfg.Sizing.Capital, cfg.MaxDailyLoss(), deps.Clock, deps.Logger),
		window:   window,
	}
	return p, nil
}

// Run drives the pipeline on the configured tick interval until the context
// is cancelled or the session closes. Open positions are squared off on the
// way out.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.expiries.Refresh(ctx, p.cfg.Trading.Underlying); err != nil {
		return fmt.Errorf("expiry refresh: %w", err)
	}
	p.lastExpirySync = p.clock.Now()

	p.cache.Start(ctx)
	defer p.cache.Stop()
	defer p.shutdown(ctx)

	ticker := time.NewTicker(p.cfg.Trading.TickInterval)
	defer ticker.Stop()

	p.logger.Info().
		Str("mode", p.cfg.Trading.Mode).
		Str("underlying", p.cfg.Trading.Underlying).
		Msg("Pipeline started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := p.clock.Now()
			if p.window.PhaseAt(now) == session.PhaseClosed && len(p.trades.Active()) == 0 {
				continue
			}
			p.Tick(ctx, now)
		}
	}
}

// Tick runs one full decision cycle at the given instant. Exposed so the
// backtest driver can step the pipeline under a synthetic clock.
func (p *Pipeline) Tick(ctx context.Context, now time.Time) {
	p.syncExpiries(ctx, now)

	if p.window.ShouldSquareOff(now) {
		p.squareOff(ctx)
		return
	}

	p.manageOpenTrades(ctx, now)

	if !p.window.CanEnter(now) {
		return
	}
	if halted, _ := p.risks.Halted(); halted {
		return
	}
	if len(p.trades.Active()) >= p.cfg.Sizing.MaxConcurrent {
		return
	}

	p.observeBias(ctx, now)
	p.tryEnter(ctx, now)
}

func (p *Pipeline) syncExpiries(ctx context.Context, now time.Time) {
	if now.Sub(p.lastExpirySync) < p.cfg.Expiry.RefreshEvery {
		return
	}
	if err := p.expiries.Refresh(ctx, p.cfg.Trading.Underlying); err != nil {
		p.logger.Warn().Err(err).Msg("Expiry refresh failed, keeping previous calendar")
		return
	}
	p.lastExpirySync = now
}

// observeBias feeds the ATM call's rolling Greeks into the bias engine.
func (p *Pipeline) observeBias(ctx context.Context, now time.Time) {
	symbol, err := p.atmSymbol(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("No ATM symbol for bias observation")
		return
	}

	if _, err := p.cache.Get(ctx, symbol); err != nil {
		p.logger.Debug().Err(err).Str("symbol", symbol).Msg("Bias observation fetch failed")
		return
	}
	cur, prev := p.cache.Rolling(symbol)
	if cur == nil || prev == nil {
		return
	}

	state := p.biases.Update(now, bias.Update{
		Delta:      cur.Delta,
		PrevDelta:  prev.Delta,
		Gamma:      cur.Gamma,
		PrevGamma:  prev.Gamma,
		OI:         cur.OI,
		OIChange:   cur.OIChange,
		LTP:        cur.LTP,
		PrevLTP:    prev.LTP,
		Volume:     cur.Volume,
		PrevVolume: prev.Volume,
		IV:         cur.IV,
		PrevIV:     prev.IV,
	})

	if state != p.lastBias {
		if p.jrnl != nil {
			p.jrnl.RecordEvent(journal.EventBiasChange, symbol,
				fmt.Sprintf("%s -> %s (%.0f%%)", p.lastBias, state, p.biases.Confidence()))
		}
		p.lastBias = state
	}
}

func (p *Pipeline) atmSymbol(ctx context.Context) (string, error) {
	spot, err := p.cache.Spot(ctx, p.cfg.Trading.Underlying)
	if err != nil {
		return "", err
	}
	strike := math.Round(spot/p.cfg.Trading.StrikeStep) * p.cfg.Trading.StrikeStep
	symbol := p.expiries.OptionSymbol(p.cfg.Trading.Underlying, strike, models.OptionTypeCall)
	if symbol == "" {
		return "", fmt.Errorf("no current expiry for %s", p.cfg.Trading.Underlying)
	}
	return symbol, nil
}

// tryEnter runs selection, entry, sizing and risk in order. Any gate
// failing ends the attempt quietly; scalping gets another tick in a second.
func (p *Pipeline) tryEnter(ctx context.Context, now time.Time) {
	biasState := p.biases.Bias()
	if biasState != models.BiasBullish && biasState != models.BiasBearish {
		return
	}

	rules := p.expiries.Rules()
	if !p.entrySpacingOK(now, rules) {
		return
	}

	cur := p.expiries.Current()
	if cur == nil {
		return
	}
	chain, err := p.cache.GetChain(ctx, p.cfg.Trading.Underlying, cur.Date)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Chain unavailable")
		return
	}

	selected := p.selector.Select(now, strikes.FromChain(chain), biasState)
	if selected == nil || !p.selector.ValidateSelection(selected) {
		return
	}

	symbol := p.expiries.OptionSymbol(p.cfg.Trading.Underlying, selected.Strike, selected.Type)
	p.cache.Track(symbol)
	if _, err := p.cache.Get(ctx, symbol); err != nil {
		p.logger.Debug().Err(err).Str("symbol", symbol).Msg("Strike fetch failed")
		return
	}
	if !p.cache.IsUsable(symbol) {
		p.logger.Debug().Str("symbol", symbol).Msg("Strike data stale, holding entry")
		return
	}
	curSnap, prevSnap := p.cache.Rolling(symbol)
	if curSnap == nil || prevSnap == nil {
		return // need a rolling pair before momentum signals mean anything
	}

	if h := greeks.ValidateHealth(curSnap, p.cfg.Strike); !h.Pass() {
		p.logger.Debug().
			Str("symbol", symbol).
			Float64("quality", greeks.QualityScore(curSnap)).
			Msg("Strike data failed health checks")
		if p.jrnl != nil {
			p.jrnl.RecordEvent(journal.EventEntryRejected, symbol, "unhealthy strike data")
		}
		return
	}
	if trend, ok := p.cache.RollingIVTrend(symbol); ok && trend == greeks.IVFalling {
		p.logger.Debug().Str("symbol", symbol).Msg("IV falling into entry")
	}

	entryCtx := p.entries.Check(now, entry.Input{
		Bias:           biasState,
		BiasConfidence: p.biases.Confidence(),
		Current:        curSnap,
		Previous:       prevSnap,
		Strike:         selected.Strike,
		Symbol:         symbol,
		RelaxOI:        p.expiries.IsExpiryDay(),
	})
	if entryCtx == nil {
		return
	}
	if !p.entries.ValidateQuality(entryCtx) {
		if p.jrnl != nil {
			p.jrnl.RecordEvent(journal.EventEntryRejected, symbol, "quality validation failed")
		}
		return
	}

	size := p.size(entryCtx, rules)
	if !size.Valid {
		p.logger.Debug().Str("reason", size.RejectionReason).Msg("Sizing rejected entry")
		return
	}

	if ok, reason := p.risks.CanTrade(size.Quantity, size.MaxLossAmount); !ok {
		p.logger.Debug().Str("reason", reason).Msg("Risk check blocked entry")
		if p.jrnl != nil {
			p.jrnl.RecordEvent(journal.EventEntryRejected, symbol, reason)
		}
		return
	}
	if ok, reason := p.risks.CheckPositionRisk(size.Quantity, entryCtx.EntryPrice, size.StopPrice); !ok {
		p.logger.Debug().Str("reason", reason).Msg("Position risk blocked entry")
		return
	}

	trade, err := p.trades.Open(ctx, symbol, *entryCtx, size)
	if err != nil {
		p.logger.Error().Err(err).Str("symbol", symbol).Msg("Entry order failed")
		return
	}

	p.lastEntryAt = now
	p.risks.AddExposure(size.CapitalAllocated)
	if p.jrnl != nil {
		if err := p.jrnl.RecordTrade(ctx, trade); err != nil {
			p.logger.Warn().Err(err).Msg("Journal write failed")
		}
	}
}

// entrySpacingOK enforces the configured gap between entries, stretched by
// the expiry rule frequency factor (0.2 on expiry day means five times the
// normal spacing).
func (p *Pipeline) entrySpacingOK(now time.Time, rules models.RuleBundle) bool {
	if p.lastEntryAt.IsZero() {
		return true
	}
	gap := p.cfg.Entry.MinGapBetween
	if rules.Active() && rules.EntryFrequencyFactor > 0 && rules.EntryFrequencyFactor < 1 {
		gap = time.Duration(float64(gap) / rules.EntryFrequencyFactor)
	}
	return now.Sub(p.lastEntryAt) >= gap
}

func (p *Pipeline) size(entryCtx *models.EntryContext, rules models.RuleBundle) models.PositionSize {
	slPct := p.cfg.Sizing.HardSLPercent
	riskPct := 0.0 // sizer default
	factor := 0.0
	if rules.Active() {
		slPct = rules.HardSLPercent
		riskPct = rules.RiskPercent
		factor = rules.PositionSizeFactor
	}
	targetPct := p.cfg.Entry.ProfitTargetPct / 100
	if targetPct <= 0 {
		targetPct = 2 * slPct
	}
	return p.sizer.Calculate(sizing.Request{
		EntryPrice:  entryCtx.EntryPrice,
		StopPrice:   entryCtx.EntryPrice * (1 - slPct),
		TargetPrice: entryCtx.EntryPrice * (1 + targetPct),
		RiskPercent: riskPct,
		SizeFactor:  factor,
	})
}

// manageOpenTrades refreshes each open trade and acts on exit signals.
func (p *Pipeline) manageOpenTrades(ctx context.Context, now time.Time) {
	rules := p.expiries.Rules()
	for _, t := range p.trades.Active() {
		if _, err := p.cache.Get(ctx, t.Symbol); err != nil {
			p.logger.Warn().Err(err).Str("symbol", t.Symbol).Msg("Exit data fetch failed")
			continue
		}
		cur, prev := p.cache.Rolling(t.Symbol)
		if cur == nil {
			continue
		}
		u := trades.Update{
			Price: cur.LTP,
			Delta: cur.Delta,
			Gamma: cur.Gamma,
			Theta: cur.Theta,
			IV:    cur.IV,
			OI:    cur.OI,
		}
		if prev != nil {
			u.PrevOI = prev.OI
			u.PrevPrice = prev.LTP
		} else {
			u.PrevOI = cur.OI
			u.PrevPrice = cur.LTP
		}

		reason, err := p.trades.Update(t.ID, u, rules)
		if err != nil || reason == "" {
			continue
		}
		if change, ok := greeks.Compare(cur, prev); ok {
			p.logger.Debug().
				Str("trade_id", t.ID).
				Float64("delta_change", change.Delta).
				Float64("price_change", change.Price).
				Float64("oi_change_pct", change.OIChangePct).
				Msg("Greeks at exit")
		}
		p.closeTrade(ctx, t.ID, reason, cur.LTP)
	}
}

func (p *Pipeline) closeTrade(ctx context.Context, id string, reason models.ExitReason, price float64) {
	closed, err := p.trades.Close(ctx, id, reason, price)
	if err != nil {
		p.logger.Error().Err(err).Str("trade_id", id).Msg("Exit order failed")
		return
	}

	p.risks.ReleaseExposure(closed.EntryPrice * float64(closed.Quantity))
	p.risks.RecordResult(models.TradeResult{
		TradeID:    closed.ID,
		PnL:        closed.PnL,
		Quantity:   closed.Quantity,
		RiskAmount: (closed.EntryPrice - closed.StopPrice) * float64(closed.Quantity),
		ExitReason: reason,
		ClosedAt:   closed.ExitTime,
	})
	p.cache.Untrack(closed.Symbol)

	if p.jrnl != nil {
		if err := p.jrnl.RecordTrade(ctx, closed); err != nil {
			p.logger.Warn().Err(err).Msg("Journal write failed")
		}
		if halted, haltReason := p.risks.Halted(); halted {
			p.jrnl.RecordEvent(journal.EventHalt, "", haltReason)
		}
	}
}

func (p *Pipeline) squareOff(ctx context.Context) {
	active := p.trades.Active()
	if len(active) == 0 {
		return
	}
	p.logger.Info().Int("open", len(active)).Msg("Session square-off")

	for _, t := range p.trades.CloseAll(ctx, models.ExitShutdown) {
		p.risks.ReleaseExposure(t.EntryPrice * float64(t.Quantity))
		p.risks.RecordResult(models.TradeResult{
			TradeID:    t.ID,
			PnL:        t.PnL,
			Quantity:   t.Quantity,
			ExitReason: models.ExitShutdown,
			ClosedAt:   t.ExitTime,
		})
		if p.jrnl != nil {
			p.jrnl.RecordTrade(ctx, t)
		}
	}
	if p.jrnl != nil {
		p.jrnl.RecordEvent(journal.EventSquareOff, "", fmt.Sprintf("%d trades flattened", len(active)))
	}
}

// shutdown flattens remaining positions and logs the session summary.
func (p *Pipeline) shutdown(ctx context.Context) {
	p.squareOff(ctx)

	stats := p.trades.Stats()
	p.logger.Info().
		Int("trades", stats.Total).
		Int("wins", stats.Wins).
		Int("losses", stats.Losses).
		Float64("win_rate", stats.WinRate).
		Float64("total_pnl", stats.TotalPnL).
		Float64("daily_pnl", p.risks.DailyPnL()).
		Msg("Session summary")
}

// Stats returns the closed-trade statistics for the run.
func (p *Pipeline) Stats() models.TradeStats {
	return p.trades.Stats()
}

// RiskMetrics returns the current risk state.
func (p *Pipeline) RiskMetrics() risk.Metrics {
	return p.risks.GetMetrics()
}

// Bias returns the current market bias and its confidence.
func (p *Pipeline) Bias() (models.BiasState, float64) {
	return p.biases.Bias(), p.biases.Confidence()
}
