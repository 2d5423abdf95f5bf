// Package trap detects operator traps and fake moves in option flow before
// and during trades.
package trap

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nifty-scalper/internal/config"
	"nifty-scalper/internal/logging"
	"nifty-scalper/internal/models"
	"nifty-scalper/internal/observ"
	"nifty-scalper/internal/series"
)

const historySize = 50

// flatBound converts the configured flat-LTP fraction into a rupee bound at
// the current premium.
func (d *Detector) flatBound(premium float64) float64 {
	return premium * d.cfg.OIRiseFlatLTP
}

type oiPoint struct {
	oi       int64
	oiChange float64
}

type spreadPoint struct {
	spread    float64
	spreadPct float64
}

// Detector tracks rolling option flow and flags trap patterns. Severity is
// 0-100; the first matching detector wins, except delta spike collapse which
// overrides any other finding.
type Detector struct {
	cfg    config.TrapConfig
	logger zerolog.Logger

	mu       sync.Mutex
	ois      *series.Ring[oiPoint]
	premiums *series.Ring[float64]
	ivs      *series.Ring[float64]
	spreads  *series.Ring[spreadPoint]
	deltas   *series.Ring[float64]
	volumes  *series.Ring[int64]

	detected []models.TrapSignal
}

// NewDetector creates a trap detector.
func NewDetector(cfg config.TrapConfig, logger zerolog.Logger) *Detector {
	return &Detector{
		cfg:      cfg,
		logger:   logger.With().Str("component", "trap").Logger(),
		ois:      series.NewRing[oiPoint](historySize),
		premiums: series.NewRing[float64](historySize),
		ivs:      series.NewRing[float64](historySize),
		spreads:  series.NewRing[spreadPoint](historySize),
		deltas:   series.NewRing[float64](historySize),
		volumes:  series.NewRing[int64](historySize),
	}
}

// Observe folds one snapshot into the detector and returns a trap signal if
// one fired.
func (d *Detector) Observe(now time.Time, snap *models.GreeksSnapshot) *models.TrapSignal {
	if snap == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var spread, spreadPct float64
	if snap.Ask > 0 && snap.Bid > 0 {
		spread = snap.Ask - snap.Bid
	}
	if snap.LTP > 0 {
		spreadPct = spread / snap.LTP * 100
	}

	d.ois.Push(oiPoint{oi: snap.OI, oiChange: snap.OIChange})
	d.premiums.Push(snap.LTP)
	d.ivs.Push(snap.IV)
	d.spreads.Push(spreadPoint{spread: spread, spreadPct: spreadPct})
	d.deltas.Push(snap.Delta)
	d.volumes.Push(snap.Volume)

	var signal *models.TrapSignal
	if d.cfg.DetectOINoPremium {
		signal = d.detectOINoPremium(now)
	}
	if signal == nil && d.cfg.DetectPremiumNoOI {
		signal = d.detectPremiumNoOI(now)
	}
	if signal == nil && d.cfg.DetectOISpike {
		signal = d.detectOISpikeNoFollow(now)
	}
	if signal == nil && d.cfg.DetectIVCrush {
		signal = d.detectIVCrush(now, snap.IV)
	}
	if signal == nil && d.cfg.DetectChoppyHighIV {
		signal = d.detectChoppyHighIV(now)
	}
	if signal == nil && d.cfg.DetectSpreadWidening {
		signal = d.detectSpreadWidening(now, spreadPct)
	}
	if signal == nil && d.cfg.DetectLiquidityDrop {
		signal = d.detectLiquidityDrop(now, snap.Volume)
	}

	// Delta spike collapse is entry-time critical and overrides the rest.
	if d.cfg.DetectDeltaSpike {
		if ds := d.detectDeltaSpikeCollapse(now); ds != nil {
			signal = ds
		}
	}

	if signal != nil {
		d.detected = append(d.detected, *signal)
		d.pruneLocked(now)
		observ.IncTrap(string(signal.Type))
		logging.LogTrap(d.logger, snap.Symbol, string(signal.Type), signal.Severity)
		d.logger.Debug().Str("detail", signal.Description).Msg("Trap detail")
	}
	return signal
}

// detectOINoPremium fires when OI rises over the last five points while the
// premium barely moves.
func (d *Detector) detectOINoPremium(now time.Time) *models.TrapSignal {
	ois := d.ois.Last(5)
	premiums := d.premiums.Last(5)
	if len(ois) < 5 {
		return nil
	}
	oiTrend := float64(ois[len(ois)-1].oi - ois[0].oi)
	premiumRange := series.MaxFloat(premiums) - series.MinFloat(premiums)

	if oiTrend > 0 && premiumRange < d.flatBound(premiums[len(premiums)-1]) {
		severity := oiTrend / 100 * 100
		if severity > 80 {
			severity = 80
		}
		return &models.TrapSignal{
			Type:        models.TrapOINoPremiumRise,
			Severity:    severity,
			Description: fmt.Sprintf("OI +%.0f but premium range < ₹1", oiTrend),
			Timestamp:   now,
			Snapshot:    map[string]float64{"oi_trend": oiTrend, "premium_range": premiumRange},
		}
	}
	return nil
}

// detectPremiumNoOI fires on premium rising while OI falls: short covering,
// not fresh buying.
func (d *Detector) detectPremiumNoOI(now time.Time) *models.TrapSignal {
	ois := d.ois.Last(5)
	premiums := d.premiums.Last(5)
	if len(ois) < 5 {
		return nil
	}
	oiTrend := float64(ois[len(ois)-1].oi - ois[0].oi)
	premiumTrend := premiums[len(premiums)-1] - premiums[0]

	if oiTrend < -50 && premiumTrend > 2 {
		severity := -oiTrend / 50
		if severity > 70 {
			severity = 70
		}
		return &models.TrapSignal{
			Type:        models.TrapPremiumNoOI,
			Severity:    severity,
			Description: fmt.Sprintf("Premium +₹%.1f but OI falling (%.0f)", premiumTrend, oiTrend),
			Timestamp:   now,
			Snapshot:    map[string]float64{"oi_trend": oiTrend, "premium_move": premiumTrend},
		}
	}
	return nil
}

// detectOISpikeNoFollow fires on a large single-step OI jump with no premium
// continuation.
func (d *Detector) detectOISpikeNoFollow(now time.Time) *models.TrapSignal {
	ois := d.ois.Last(10)
	premiums := d.premiums.Last(10)
	if len(ois) < 10 {
		return nil
	}
	var maxJump float64
	for i := 1; i < len(ois); i++ {
		jump := float64(ois[i].oi - ois[i-1].oi)
		if jump > maxJump {
			maxJump = jump
		}
	}
	if maxJump <= 200 {
		return nil
	}
	premiumMove := premiums[len(premiums)-1] - premiums[len(premiums)-5]
	if premiumMove < 0 {
		premiumMove = -premiumMove
	}
	if premiumMove < d.flatBound(premiums[len(premiums)-1]) {
		severity := maxJump / 200 * 75
		if severity > 85 {
			severity = 85
		}
		return &models.TrapSignal{
			Type:        models.TrapOISpikeNoFollow,
			Severity:    severity,
			Description: fmt.Sprintf("OI spike +%.0f but no premium continuation", maxJump),
			Timestamp:   now,
			Snapshot:    map[string]float64{"oi_spike": maxJump, "premium_follow": premiumMove},
		}
	}
	return nil
}

// detectIVCrush fires when IV drops sharply while the premium stays flat.
func (d *Detector) detectIVCrush(now time.Time, currentIV float64) *models.TrapSignal {
	ivs := d.ivs.Last(5)
	premiums := d.premiums.Last(5)
	if len(ivs) < 5 || ivs[0] <= 0 {
		return nil
	}
	ivChangePct := (currentIV - ivs[0]) / ivs[0] * 100
	premiumMove := premiums[len(premiums)-1] - premiums[0]
	if premiumMove < 0 {
		premiumMove = -premiumMove
	}

	if ivChangePct < d.cfg.IVCrushPercent && premiumMove < d.flatBound(premiums[len(premiums)-1]) {
		severity := -ivChangePct
		if severity > 85 {
			severity = 85
		}
		return &models.TrapSignal{
			Type:        models.TrapIVCrush,
			Severity:    severity,
			Description: fmt.Sprintf("IV dropping %.1f%% with flat premium", ivChangePct),
			Timestamp:   now,
			Snapshot:    map[string]float64{"iv_change_pct": ivChangePct, "premium_move": premiumMove},
		}
	}
	return nil
}

// detectChoppyHighIV fires when average IV is extreme and the premium keeps
// reversing direction.
func (d *Detector) detectChoppyHighIV(now time.Time) *models.TrapSignal {
	ivs := d.ivs.Last(10)
	premiums := d.premiums.Last(10)
	if len(ivs) < 10 {
		return nil
	}
	avgIV := series.AvgFloat(ivs)

	reversals := 0
	for i := 1; i < len(premiums)-1; i++ {
		up := premiums[i] > premiums[i-1] && premiums[i] > premiums[i+1]
		down := premiums[i] < premiums[i-1] && premiums[i] < premiums[i+1]
		if up || down {
			reversals++
		}
	}
	choppiness := float64(reversals) / float64(len(premiums))

	if avgIV > d.cfg.ChoppyIVThreshold && choppiness > 0.5 {
		severity := choppiness * 100
		if severity > 70 {
			severity = 70
		}
		return &models.TrapSignal{
			Type:        models.TrapChoppyHighIV,
			Severity:    severity,
			Description: fmt.Sprintf("High IV (%.1f) with choppy price action", avgIV),
			Timestamp:   now,
			Snapshot:    map[string]float64{"avg_iv": avgIV, "choppiness": choppiness},
		}
	}
	return nil
}

// detectSpreadWidening fires when the spread jumps versus its recent average.
func (d *Detector) detectSpreadWidening(now time.Time, currentSpreadPct float64) *models.TrapSignal {
	spreads := d.spreads.Last(5)
	if len(spreads) < 5 {
		return nil
	}
	prior := spreads[:len(spreads)-2]
	var sum float64
	for _, s := range prior {
		sum += s.spreadPct
	}
	prevAvg := sum / float64(len(prior))
	widening := currentSpreadPct - prevAvg

	if widening > d.cfg.SpreadWidePercent {
		severity := widening * 50
		if severity > 75 {
			severity = 75
		}
		return &models.TrapSignal{
			Type:        models.TrapSpreadWidening,
			Severity:    severity,
			Description: fmt.Sprintf("Spread widened from %.2f%% to %.2f%%", prevAvg, currentSpreadPct),
			Timestamp:   now,
			Snapshot:    map[string]float64{"spread_widening_pct": widening, "current_spread": currentSpreadPct},
		}
	}
	return nil
}

// detectLiquidityDrop fires when volume collapses against its recent average.
func (d *Detector) detectLiquidityDrop(now time.Time, currentVolume int64) *models.TrapSignal {
	volumes := d.volumes.Last(5)
	if len(volumes) < 5 {
		return nil
	}
	prior := volumes[:len(volumes)-1]
	var sum float64
	for _, v := range prior {
		sum += float64(v)
	}
	avg := sum / float64(len(prior))
	if avg <= 0 {
		return nil
	}
	dropPct := (avg - float64(currentVolume)) / avg * 100

	if dropPct > d.cfg.LiquidityDropFactor*100 {
		severity := dropPct / 2
		if severity > 80 {
			severity = 80
		}
		return &models.TrapSignal{
			Type:        models.TrapLiquidityDrop,
			Severity:    severity,
			Description: fmt.Sprintf("Volume dropped %.1f%% (avg %.0f to %d)", dropPct, avg, currentVolume),
			Timestamp:   now,
			Snapshot:    map[string]float64{"volume_drop_pct": dropPct, "current_volume": float64(currentVolume)},
		}
	}
	return nil
}

// detectDeltaSpikeCollapse fires on a delta spike followed by a collapse
// across the last three readings: the signature of a fake move.
func (d *Detector) detectDeltaSpikeCollapse(now time.Time) *models.TrapSignal {
	deltas := d.deltas.Last(3)
	if len(deltas) < 3 {
		return nil
	}
	prev, spike, current := deltas[0], deltas[1], deltas[2]
	spikeMove := spike - prev
	if spikeMove < 0 {
		spikeMove = -spikeMove
	}
	collapse := current - spike
	if collapse < 0 {
		collapse = -collapse
	}

	if spikeMove > d.cfg.DeltaSpikeThreshold && collapse > d.cfg.DeltaCollapseThreshold {
		severity := spikeMove * 100
		if severity > 75 {
			severity = 75
		}
		return &models.TrapSignal{
			Type:        models.TrapDeltaSpikeCollapse,
			Severity:    severity,
			Description: fmt.Sprintf("Delta spike (%.2f to %.2f to %.2f), possible fake move", prev, spike, current),
			Timestamp:   now,
			Snapshot:    map[string]float64{"prev": prev, "spike": spike, "current": current},
		}
	}
	return nil
}

// Active reports whether a high-severity trap fired within the last ten
// seconds.
func (d *Detector) Active(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.detected) == 0 {
		return false
	}
	last := d.detected[len(d.detected)-1]
	return now.Sub(last.Timestamp) < 10*time.Second && last.Severity >= d.cfg.RepeatSeverity
}

// Recent returns traps detected within the given window.
func (d *Detector) Recent(now time.Time, window time.Duration) []models.TrapSignal {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := now.Add(-window)
	var out []models.TrapSignal
	for _, t := range d.detected {
		if t.Timestamp.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// pruneLocked drops trap records older than the retention window.
// Caller must hold d.mu.
func (d *Detector) pruneLocked(now time.Time) {
	cutoff := now.Add(-d.cfg.LogRetention)
	kept := d.detected[:0]
	for _, t := range d.detected {
		if t.Timestamp.After(cutoff) {
			kept = append(kept, t)
		}
	}
	d.detected = kept
}

// ShouldSkipEntry decides whether a detected trap vetoes a pending entry.
// Severity at or above the skip bound always skips; the lower repeat bound
// skips when other traps fired within the last five seconds.
func (d *Detector) ShouldSkipEntry(now time.Time, signal *models.TrapSignal) bool {
	if signal == nil {
		return false
	}
	if signal.Severity >= d.cfg.SkipSeverity {
		d.logger.Warn().Str("detail", signal.Description).Msg("Skipping entry on high-severity trap")
		return true
	}
	if signal.Severity >= d.cfg.RepeatSeverity {
		recent := d.Recent(now, 5*time.Second)
		// The triggering signal itself is already recorded.
		if len(recent) > 1 {
			d.logger.Warn().Msg("Skipping entry on repeated trap signals")
			return true
		}
	}
	return false
}
