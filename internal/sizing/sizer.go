// Package sizing computes risk-first position sizes: capital times risk
// percent sets the loss budget, the stop distance sets the quantity.
package sizing

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"nifty-scalper/internal/config"
	"nifty-scalper/internal/models"
)

// Sizer converts an entry and stop into a lot-rounded quantity.
type Sizer struct {
	cfg    config.SizingConfig
	lot    int
	logger zerolog.Logger
}

// NewSizer creates a position sizer.
func NewSizer(cfg config.SizingConfig, lotSize int, logger zerolog.Logger) *Sizer {
	return &Sizer{
		cfg:    cfg,
		lot:    lotSize,
		logger: logger.With().Str("component", "sizing").Logger(),
	}
}

// Request carries the inputs for one sizing decision.
type Request struct {
	EntryPrice  float64
	StopPrice   float64
	TargetPrice float64
	// RiskPercent is the fraction of capital risked. Zero means the
	// configured default. Clamped to the configured bounds either way.
	RiskPercent float64
	// SizeFactor scales the final quantity down, as on expiry days.
	// Zero means 1.0.
	SizeFactor float64
}

// Calculate produces a PositionSize. An invalid result carries a rejection
// reason and zero quantity; it never errors, the caller just skips the trade.
func (s *Sizer) Calculate(req Request) models.PositionSize {
	riskPct := req.RiskPercent
	if riskPct == 0 {
		riskPct = s.cfg.RiskPercent
	}
	if riskPct < s.cfg.RiskPercentMin {
		riskPct = s.cfg.RiskPercentMin
	}
	if riskPct > s.cfg.RiskPercentMax {
		riskPct = s.cfg.RiskPercentMax
	}

	result := models.PositionSize{
		LotSize:     s.lot,
		StopPrice:   req.StopPrice,
		TargetPrice: req.TargetPrice,
	}

	if req.EntryPrice <= 0 {
		result.RejectionReason = "invalid entry price"
		return result
	}

	// Required SL as a fraction of premium.
	var slPct float64
	if req.StopPrice > 0 {
		slPct = math.Abs(req.StopPrice-req.EntryPrice) / req.EntryPrice
	} else {
		slPct = s.cfg.HardSLPercent
	}
	result.StopLossPercent = slPct * 100

	// An SL wider than the skip bound means the structure is wrong for a
	// scalp. Skip rather than widen the risk.
	if slPct > s.cfg.SLSkipPercent {
		result.RejectionReason = fmt.Sprintf("SL too wide: %.2f%% (max %.0f%%)",
			slPct*100, s.cfg.SLSkipPercent*100)
		s.logger.Warn().Str("reason", result.RejectionReason).Msg("Trade skipped")
		return result
	}

	lossPerUnit := math.Abs(req.EntryPrice - req.StopPrice)
	if lossPerUnit <= 0 {
		result.RejectionReason = "invalid stop distance"
		return result
	}

	maxLoss := s.cfg.Capital * riskPct
	rawQty := maxLoss / lossPerUnit

	lots := int(rawQty / float64(s.lot))
	if lots < 1 {
		result.RejectionReason = fmt.Sprintf(
			"insufficient capital for 1 lot (%d units) at %.1f%% risk", s.lot, riskPct*100)
		return result
	}

	qty := lots * s.lot

	// Cap, then re-floor to a lot multiple since the cap itself may not be one.
	if s.cfg.MaxPositionQty > 0 && qty > s.cfg.MaxPositionQty {
		qty = s.cfg.MaxPositionQty / s.lot * s.lot
		if qty < s.lot {
			result.RejectionReason = fmt.Sprintf(
				"max position qty %d below one lot (%d units)", s.cfg.MaxPositionQty, s.lot)
			return result
		}
	}

	factor := req.SizeFactor
	if factor == 0 {
		factor = 1.0
	}
	if factor < 1.0 {
		scaled := int(float64(qty)*factor) / s.lot * s.lot
		if scaled < s.lot {
			result.RejectionReason = "size factor leaves less than 1 lot"
			return result
		}
		qty = scaled
	}

	actualLoss := float64(qty) * lossPerUnit

	result.Quantity = qty
	result.Lots = float64(qty) / float64(s.lot)
	result.CapitalAllocated = req.EntryPrice * float64(qty)
	result.MaxLossAmount = actualLoss
	result.Valid = true

	if req.TargetPrice > 0 && actualLoss > 0 {
		profit := math.Abs(req.TargetPrice-req.EntryPrice) * float64(qty)
		result.RiskReward = profit / actualLoss
	}

	s.logger.Info().
		Int("quantity", qty).
		Float64("lots", result.Lots).
		Float64("max_loss", actualLoss).
		Float64("risk_reward", result.RiskReward).
		Msg("Position sized")

	return result
}

// Recommend sizes a trade from a stop-loss percent, assuming a 1:2
// risk-reward target.
func (s *Sizer) Recommend(entryPrice, stopLossPct, riskPct float64) models.PositionSize {
	stop := entryPrice * (1 - stopLossPct/100)
	target := entryPrice * (1 + 2*stopLossPct/100)
	return s.Calculate(Request{
		EntryPrice:  entryPrice,
		StopPrice:   stop,
		TargetPrice: target,
		RiskPercent: riskPct,
	})
}
