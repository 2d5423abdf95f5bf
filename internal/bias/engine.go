// Package bias determines market permission: which option side, if any, may
// be traded. Bias is the gatekeeper; entry timing lives elsewhere.
package bias

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nifty-scalper/internal/config"
	"nifty-scalper/internal/logging"
	"nifty-scalper/internal/models"
	"nifty-scalper/internal/observ"
	"nifty-scalper/internal/series"
)

// Update carries one observation cycle into the engine.
type Update struct {
	Delta      float64
	PrevDelta  float64
	Gamma      float64
	PrevGamma  float64
	OI         int64
	OIChange   float64
	LTP        float64
	PrevLTP    float64
	Volume     int64
	PrevVolume int64
	IV         float64
	PrevIV     float64
}

// Metrics holds the sub-signal scores behind the last bias decision.
type Metrics struct {
	DeltaSignal    float64
	GammaRising    bool
	OIVolumeAlign  float64
	IVEnvironment  float64
	Structure      models.MarketStructure
	Confidence     float64
}

// Engine computes the current market bias from rolling Greeks observations.
type Engine struct {
	cfg    config.BiasConfig
	logger zerolog.Logger

	mu         sync.RWMutex
	bias       models.BiasState
	confidence float64
	metrics    Metrics
	lastUpdate time.Time

	prices  *series.Ring[float64]
	deltas  *series.Ring[float64]
	gammas  *series.Ring[float64]
	ois     *series.Ring[int64]
	volumes *series.Ring[int64]
	ivs     *series.Ring[float64]
}

// NewEngine creates a bias engine.
func NewEngine(cfg config.BiasConfig, logger zerolog.Logger) *Engine {
	n := cfg.HistorySize
	if n <= 1 {
		n = 100
	}
	return &Engine{
		cfg:     cfg,
		logger:  logger.With().Str("component", "bias").Logger(),
		bias:    models.BiasUnknown,
		prices:  series.NewRing[float64](n),
		deltas:  series.NewRing[float64](n),
		gammas:  series.NewRing[float64](n),
		ois:     series.NewRing[int64](n),
		volumes: series.NewRing[int64](n),
		ivs:     series.NewRing[float64](n),
	}
}

// Update folds one observation into the engine and returns the new bias.
func (e *Engine) Update(now time.Time, u Update) models.BiasState {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.prices.Push(u.LTP)
	e.deltas.Push(u.Delta)
	e.gammas.Push(u.Gamma)
	e.ois.Push(u.OI)
	e.volumes.Push(u.Volume)
	e.ivs.Push(u.IV)

	deltaSignal := e.deltaSignal(u.Delta)
	gammaRising := e.gammaRising()
	oiVolAlign := oiVolumeAlignment(u)
	ivHealth := ivEnvironment(u.IV, u.PrevIV, e.cfg)
	structure := e.marketStructure()

	prev := e.bias
	bias, confidence := e.determine(deltaSignal, gammaRising, oiVolAlign, ivHealth, structure)

	e.bias = bias
	e.confidence = confidence
	e.lastUpdate = now
	e.metrics = Metrics{
		DeltaSignal:   deltaSignal,
		GammaRising:   gammaRising,
		OIVolumeAlign: oiVolAlign,
		IVEnvironment: ivHealth,
		Structure:     structure,
		Confidence:    confidence,
	}

	if bias != prev {
		logging.LogBiasChange(e.logger, string(prev), string(bias), confidence)
		e.logger.Debug().
			Float64("delta_signal", deltaSignal).
			Bool("gamma_rising", gammaRising).
			Float64("oi_vol_align", oiVolAlign).
			Str("structure", string(structure)).
			Msg("Bias inputs")
	}
	observ.SetBias(string(bias), confidence)

	return bias
}

// deltaSignal classifies delta into a directional signal: +/-1 strong,
// +/-0.5 leaning but below the tradable bound, 0 weak.
func (e *Engine) deltaSignal(delta float64) float64 {
	switch {
	case delta >= e.cfg.BullishDeltaMin:
		return 1.0
	case delta <= e.cfg.BearishDeltaMax:
		return -1.0
	case delta > e.cfg.WeakDeltaMax:
		return 0.5
	case delta < -e.cfg.WeakDeltaMax:
		return -0.5
	default:
		return 0.0
	}
}

// gammaRising checks the last three gamma readings for a rising trend.
// Gamma rising means acceleration is continuing and the edge is alive.
func (e *Engine) gammaRising() bool {
	recent := e.gammas.Last(3)
	if len(recent) < 3 {
		return false
	}
	return recent[len(recent)-1]-recent[0] > e.cfg.FlatGammaMax
}

// oiVolumeAlignment scores whether OI, price and volume move together.
// 1.0 is fresh accumulation, -1.0 is an OI trap with no price follow.
func oiVolumeAlignment(u Update) float64 {
	oiRising := u.OIChange > 0
	ltpRising := u.LTP > u.PrevLTP
	volRising := u.Volume > u.PrevVolume

	if !oiRising {
		return 0.0
	}
	switch {
	case ltpRising && volRising:
		return 1.0
	case ltpRising || volRising:
		return 0.5
	default:
		return -1.0
	}
}

// ivEnvironment scores the IV regime in [-1, 1]. Positive is tradable,
// negative means premium melt risk.
func ivEnvironment(iv, prevIV float64, cfg config.BiasConfig) float64 {
	var health float64
	switch {
	case iv >= cfg.IVZoneGoodMin && iv <= cfg.IVZoneGoodMax:
		health = 0.5
	case iv < cfg.IVZoneLow:
		health = -0.5
	case iv > cfg.IVZoneHigh:
		health = -0.3
	default:
		health = 0.2
	}

	if prevIV > 0 {
		changePct := (iv - prevIV) / prevIV * 100
		if changePct < cfg.IVDropThreshold {
			health -= 0.5
		}
	}

	if health > 1 {
		health = 1
	}
	if health < -1 {
		health = -1
	}
	return health
}

// marketStructure classifies the micro trend over the last ten prices:
// HH-HL bullish, LL-LH bearish, otherwise sideways.
func (e *Engine) marketStructure() models.MarketStructure {
	lookback := e.cfg.TrendLookback
	if lookback <= 0 {
		lookback = 5
	}
	all := e.prices.Last(2 * lookback)
	if len(all) < 2*lookback {
		return models.StructureUnknown
	}
	prior := all[:lookback]
	recent := all[lookback:]

	recentHigh, recentLow := series.MaxFloat(recent), series.MinFloat(recent)
	priorHigh, priorLow := series.MaxFloat(prior), series.MinFloat(prior)

	switch {
	case recentHigh > priorHigh && recentLow > priorLow:
		return models.StructureHigherHighs
	case recentHigh < priorHigh && recentLow < priorLow:
		return models.StructureLowerLows
	default:
		return models.StructureSideways
	}
}

func (e *Engine) determine(deltaSignal float64, gammaRising bool, oiVolAlign, ivHealth float64, structure models.MarketStructure) (models.BiasState, float64) {
	bias := models.BiasNoTrade
	confidence := 20.0

	if deltaSignal != 0 {
		// Only a full-strength delta signal can set a directional bias;
		// a leaning delta stays NO_TRADE at watch confidence.
		if gammaRising && oiVolAlign >= 0 && (deltaSignal == 1 || deltaSignal == -1) {
			if deltaSignal > 0 {
				bias = models.BiasBullish
			} else {
				bias = models.BiasBearish
			}
			if ivHealth >= -0.3 {
				confidence = 85.0
			} else {
				confidence = 60.0
			}
		} else {
			bias = models.BiasNoTrade
			confidence = 40.0
		}
	}

	if structure == models.StructureSideways {
		confidence *= e.cfg.SidewaysFactor
	}
	return bias, confidence
}

// Bias returns the current bias state.
func (e *Engine) Bias() models.BiasState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bias
}

// Confidence returns the current bias confidence (0-100).
func (e *Engine) Confidence() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.confidence
}

// GetMetrics returns the sub-signal scores behind the last decision.
func (e *Engine) GetMetrics() Metrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.metrics
}

// Allows reports whether the bias permits trading the given option side.
func (e *Engine) Allows(side models.OptionType) bool {
	switch e.Bias() {
	case models.BiasBullish:
		return side == models.OptionTypeCall
	case models.BiasBearish:
		return side == models.OptionTypePut
	default:
		return false
	}
}
