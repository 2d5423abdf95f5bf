// Package entry generates entry signals. Bias gives permission; entry gives
// timing: acceleration, commitment and participation must all align.
package entry

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nifty-scalper/internal/config"
	"nifty-scalper/internal/models"
	"nifty-scalper/internal/observ"
	"nifty-scalper/internal/trap"
)

// Input carries everything one entry check needs.
type Input struct {
	Bias           models.BiasState
	BiasConfidence float64

	Current  *models.GreeksSnapshot
	Previous *models.GreeksSnapshot

	Strike float64
	Symbol string

	// RelaxOI allows flat OI to count as participation. Set on expiry day,
	// when OI naturally unwinds.
	RelaxOI bool
}

// Engine evaluates entry triggers against bias permission and trap vetoes.
type Engine struct {
	cfg       config.EntryConfig
	strikeCfg config.StrikeConfig
	traps     *trap.Detector
	logger    zerolog.Logger

	mu        sync.Mutex
	lastEntry time.Time
	history   []models.EntryContext
}

// NewEngine creates an entry engine.
func NewEngine(cfg config.EntryConfig, strikeCfg config.StrikeConfig, traps *trap.Detector, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		strikeCfg: strikeCfg,
		traps:     traps,
		logger:    logger.With().Str("component", "entry").Logger(),
	}
}

// Check evaluates all entry conditions. Returns nil when any gate fails; a
// non-nil context means every signal aligned and no trap vetoed.
func (e *Engine) Check(now time.Time, in Input) *models.EntryContext {
	cur, prev := in.Current, in.Previous
	if cur == nil || prev == nil {
		return nil
	}

	// Gate 1: bias permission.
	if in.Bias != models.BiasBullish && in.Bias != models.BiasBearish {
		return nil
	}

	// Gate 2: spread acceptable.
	spreadPct := cur.SpreadPercent()
	if spreadPct > e.strikeCfg.SpreadMaxPct {
		e.reject("spread_too_wide")
		return nil
	}

	// Gate 3: quote valid.
	if cur.Bid <= 0 || cur.Ask <= 0 || cur.LTP <= 0 {
		e.reject("invalid_quote")
		return nil
	}

	// Gate 4: entry spacing.
	e.mu.Lock()
	tooSoon := !e.lastEntry.IsZero() && now.Sub(e.lastEntry) < e.cfg.MinGapBetween
	e.mu.Unlock()
	if tooSoon {
		e.reject("entry_spacing")
		return nil
	}

	var signals []string
	confidence := 0.0

	// Signal 1: LTP rising (commitment).
	if cur.LTP <= prev.LTP {
		e.reject("ltp_not_rising")
		return nil
	}
	signals = append(signals, "ltp_rising")
	confidence += 15

	// Signal 2: volume rising (participation).
	if cur.Volume <= prev.Volume {
		e.reject("volume_not_rising")
		return nil
	}
	signals = append(signals, "volume_rising")
	confidence += 15

	// Signal 3: OI rising (fresh commitment).
	oiOK := cur.OIChange > 0
	if in.RelaxOI {
		oiOK = cur.OIChange >= 0
	}
	if !oiOK {
		e.reject("oi_not_rising")
		return nil
	}
	signals = append(signals, "oi_rising")
	confidence += 15

	// Signal 4: gamma rising (acceleration).
	if cur.Gamma <= prev.Gamma || cur.Gamma <= e.strikeCfg.GammaMin {
		e.reject("gamma_not_rising")
		return nil
	}
	signals = append(signals, "gamma_rising")
	confidence += 15

	// Signal 5: delta power zone for the permitted side.
	var side models.OptionType
	var deltaValid bool
	if in.Bias == models.BiasBullish {
		side = models.OptionTypeCall
		deltaValid = cur.Delta >= e.cfg.DeltaZoneMin
	} else {
		side = models.OptionTypePut
		deltaValid = cur.Delta <= -e.cfg.DeltaZoneMin
	}
	if !deltaValid {
		e.reject("delta_outside_zone")
		return nil
	}
	signals = append(signals, "delta_power_zone")
	confidence += 20

	// Rejection rules: momentum without substance.
	if reason := e.rejectReason(cur, prev, spreadPct); reason != "" {
		e.reject(reason)
		return nil
	}

	// Trap veto.
	trapSignal := e.traps.Observe(now, cur)
	if e.traps.ShouldSkipEntry(now, trapSignal) {
		e.reject("trap_detected")
		return nil
	}

	confidence += in.BiasConfidence * 0.2
	if confidence > 100 {
		confidence = 100
	}

	ctx := &models.EntryContext{
		Type:       side,
		Strike:     in.Strike,
		EntryPrice: cur.LTP,
		Greeks:     *cur,
		Signals:    signals,
		Confidence: confidence,
		Timestamp:  now,
	}

	e.mu.Lock()
	e.lastEntry = now
	e.history = append(e.history, *ctx)
	e.mu.Unlock()

	observ.IncEntry("taken")
	e.logger.Info().
		Str("side", string(side)).
		Float64("strike", in.Strike).
		Float64("price", cur.LTP).
		Float64("confidence", confidence).
		Strs("signals", signals).
		Msg("Entry signal")

	return ctx
}

// rejectReason applies the rejection rules that override an otherwise
// aligned set of signals. Empty string means no rejection.
func (e *Engine) rejectReason(cur, prev *models.GreeksSnapshot, spreadPct float64) string {
	if math.Abs(cur.LTP-prev.LTP) < e.cfg.RejectFlatLTP {
		return "price_flat"
	}
	if prev.IV > 0 {
		ivChangePct := (cur.IV - prev.IV) / prev.IV * 100
		if ivChangePct < e.cfg.RejectIVDropPct {
			return "iv_dropping"
		}
	}
	if spreadPct > e.cfg.RejectSpreadPct {
		return "spread_widening"
	}
	if math.Abs(cur.Delta-prev.Delta) > e.cfg.RejectDeltaCollapse {
		return "delta_unstable"
	}
	return ""
}

func (e *Engine) reject(reason string) {
	observ.IncEntry("rejected")
	e.logger.Debug().Str("reason", reason).Msg("Entry rejected")
}

// ValidateQuality double-checks a generated context before sizing.
func (e *Engine) ValidateQuality(ctx *models.EntryContext) bool {
	if ctx == nil {
		return false
	}
	if ctx.Confidence < e.cfg.MinConfidence {
		return false
	}
	if len(ctx.Signals) < 4 {
		return false
	}
	if math.Abs(ctx.Greeks.Delta) < e.cfg.DeltaZoneMin {
		return false
	}
	return ctx.Greeks.Gamma >= e.strikeCfg.GammaMin
}

// History returns a copy of the entry contexts generated this session.
func (e *Engine) History() []models.EntryContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.EntryContext, len(e.history))
	copy(out, e.history)
	return out
}
