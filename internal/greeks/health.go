package greeks

import (
	"nifty-scalper/internal/config"
	"nifty-scalper/internal/models"
)

// Health describes the tradability checks for a snapshot.
type Health struct {
	DeltaOK     bool
	GammaOK     bool
	ThetaOK     bool
	VegaOK      bool
	LiquidityOK bool
	SpreadOK    bool
}

// Pass reports whether every check passed.
func (h Health) Pass() bool {
	return h.DeltaOK && h.GammaOK && h.ThetaOK && h.VegaOK && h.LiquidityOK && h.SpreadOK
}

// ValidateHealth runs the tradability checks against a snapshot.
func ValidateHealth(snap *models.GreeksSnapshot, cfg config.StrikeConfig) Health {
	if snap == nil {
		return Health{}
	}
	absDelta := snap.Delta
	if absDelta < 0 {
		absDelta = -absDelta
	}
	return Health{
		DeltaOK:     absDelta >= 0.2 && absDelta <= 0.8,
		GammaOK:     snap.Gamma > 0.0008,
		ThetaOK:     snap.Theta > -100,
		VegaOK:      snap.Vega < 50,
		LiquidityOK: snap.Volume >= cfg.VolumeMin || snap.OI >= cfg.OIMin,
		SpreadOK:    snap.HasQuote() && snap.SpreadPercent() <= cfg.SpreadMaxPct,
	}
}

// QualityScore rates an option 0-100 for scalping fitness. Higher is better.
func QualityScore(snap *models.GreeksSnapshot) float64 {
	if snap == nil {
		return 0
	}
	score := 0.0

	absDelta := snap.Delta
	if absDelta < 0 {
		absDelta = -absDelta
	}
	switch {
	case absDelta >= 0.3 && absDelta <= 0.7:
		score += 25
	case absDelta >= 0.2 && absDelta <= 0.8:
		score += 15
	case absDelta > 0:
		score += 5
	}

	switch {
	case snap.Gamma > 0.003:
		score += 25
	case snap.Gamma > 0.001:
		score += 15
	case snap.Gamma > 0:
		score += 5
	}

	absTheta := snap.Theta
	if absTheta < 0 {
		absTheta = -absTheta
	}
	switch {
	case absTheta >= 5 && absTheta <= 50:
		score += 20
	case absTheta >= 1 && absTheta <= 100:
		score += 10
	case absTheta > 0:
		score += 5
	}

	switch {
	case snap.Vega < 10:
		score += 15
	case snap.Vega < 30:
		score += 10
	case snap.Vega < 50:
		score += 5
	}

	switch {
	case snap.Volume >= 1000 || snap.OI >= 10000:
		score += 15
	case snap.Volume >= 100 || snap.OI >= 1000:
		score += 10
	case snap.Volume > 0 || snap.OI > 0:
		score += 5
	}

	if score > 100 {
		score = 100
	}
	return score
}

// Change holds deltas between two consecutive snapshots.
type Change struct {
	Delta       float64
	Gamma       float64
	Theta       float64
	Vega        float64
	OIChangePct float64
	Price       float64
}

// Compare diffs current against previous. Returns ok=false when either side
// is missing.
func Compare(current, previous *models.GreeksSnapshot) (Change, bool) {
	if current == nil || previous == nil {
		return Change{}, false
	}
	var oiPct float64
	if previous.OI > 0 {
		oiPct = float64(current.OI-previous.OI) / float64(previous.OI) * 100
	}
	return Change{
		Delta:       current.Delta - previous.Delta,
		Gamma:       current.Gamma - previous.Gamma,
		Theta:       current.Theta - previous.Theta,
		Vega:        current.Vega - previous.Vega,
		OIChangePct: oiPct,
		Price:       current.LTP - previous.LTP,
	}, true
}

// IVTrend labels the IV direction between two snapshots.
type IVTrend string

const (
	IVRising  IVTrend = "RISING"
	IVFalling IVTrend = "FALLING"
	IVStable  IVTrend = "STABLE"
)

// RollingIVTrend classifies the IV move between the previous and current
// snapshots for a symbol. Returns ok=false when history is insufficient.
func (c *Cache) RollingIVTrend(symbol string) (IVTrend, bool) {
	current, previous := c.Rolling(symbol)
	if current == nil || previous == nil || current.IV == 0 {
		return IVStable, false
	}
	change := current.IV - previous.IV
	switch {
	case change > 1.0:
		return IVRising, true
	case change < -1.0:
		return IVFalling, true
	default:
		return IVStable, true
	}
}
