// Package strikes scans the option chain and picks the best strike for the
// permitted side, ranked on Greeks health, liquidity and spread.
package strikes

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nifty-scalper/internal/config"
	"nifty-scalper/internal/models"
)

// Candidate is one strike under consideration with its full snapshot.
type Candidate struct {
	Strike   float64
	Type     models.OptionType
	Snapshot models.GreeksSnapshot
}

// SpreadPercent returns the bid-ask spread as a percent of LTP.
func (c Candidate) SpreadPercent() float64 {
	return c.Snapshot.SpreadPercent()
}

// Scored pairs a candidate with its ranking score.
type Scored struct {
	Candidate Candidate
	Score     float64
}

// Selector ranks chain candidates for scalping.
type Selector struct {
	cfg    config.StrikeConfig
	logger zerolog.Logger

	mu           sync.Mutex
	lastCall     *Candidate
	lastPut      *Candidate
	lastScanTime time.Time
}

// NewSelector creates a strike selector.
func NewSelector(cfg config.StrikeConfig, logger zerolog.Logger) *Selector {
	return &Selector{
		cfg:    cfg,
		logger: logger.With().Str("component", "strikes").Logger(),
	}
}

// Select picks the best strike for the given bias. Returns nil when the bias
// gives no permission or nothing passes the filters.
func (s *Selector) Select(now time.Time, candidates []Candidate, bias models.BiasState) *Candidate {
	if len(candidates) == 0 {
		return nil
	}
	var side models.OptionType
	switch bias {
	case models.BiasBullish:
		side = models.OptionTypeCall
	case models.BiasBearish:
		side = models.OptionTypePut
	default:
		return nil
	}

	s.mu.Lock()
	s.lastScanTime = now
	s.mu.Unlock()

	var sided []Candidate
	for _, c := range candidates {
		if c.Type == side {
			sided = append(sided, c)
		}
	}
	if len(sided) == 0 {
		s.logger.Warn().Str("bias", string(bias)).Msg("No candidates for permitted side")
		return nil
	}

	filtered := s.filter(sided)
	if len(filtered) == 0 {
		s.logger.Debug().Str("bias", string(bias)).Msg("No strikes passed health filters")
		return nil
	}

	ranked := s.rank(filtered)
	best := ranked[0]

	s.logger.Info().
		Str("side", string(side)).
		Float64("strike", best.Candidate.Strike).
		Float64("delta", best.Candidate.Snapshot.Delta).
		Float64("gamma", best.Candidate.Snapshot.Gamma).
		Float64("spread_pct", best.Candidate.SpreadPercent()).
		Float64("score", best.Score).
		Msg("Selected strike")

	selected := best.Candidate
	s.mu.Lock()
	if side == models.OptionTypeCall {
		s.lastCall = &selected
	} else {
		s.lastPut = &selected
	}
	s.mu.Unlock()

	return &selected
}

// filter applies the mandatory liquidity, spread and Greeks-presence checks.
func (s *Selector) filter(candidates []Candidate) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		snap := c.Snapshot
		if snap.LTP <= 0 {
			continue
		}
		if snap.Volume < s.cfg.VolumeMin || snap.OI < s.cfg.OIMin || snap.Bid <= 0 || snap.Ask <= 0 {
			continue
		}
		if c.SpreadPercent() > s.cfg.SpreadMaxPct {
			continue
		}
		if snap.Delta == 0 || snap.Gamma == 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}

// rank scores candidates and returns them sorted best first.
// Weights: Greeks health 40, liquidity 30, spread 20, OI momentum 10.
func (s *Selector) rank(candidates []Candidate) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		snap := c.Snapshot
		score := s.HealthScore(c) / 100 * 40

		volumeScore := math.Min(float64(snap.Volume)/200, 1.0) * 15
		oiScore := math.Min(float64(snap.OI)/500, 1.0) * 15
		score += volumeScore + oiScore

		score += math.Max(0, 1.0-c.SpreadPercent()/s.cfg.SpreadMaxPct) * 20

		if snap.OIChange > 0 {
			score += math.Min(snap.OIChange/100, 1.0) * 10
		}

		scored = append(scored, Scored{Candidate: c, Score: score})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored
}

// HealthScore rates a candidate's Greeks 0-100 against the ideal scalping
// bands.
func (s *Selector) HealthScore(c Candidate) float64 {
	snap := c.Snapshot
	score := 0.0

	if c.Type == models.OptionTypeCall {
		absDelta := math.Abs(snap.Delta)
		if absDelta >= s.cfg.CallDeltaMin && absDelta <= s.cfg.CallDeltaMax {
			score += 25
		} else if absDelta > s.cfg.CallDeltaMin {
			score += 15
		}
	} else {
		if snap.Delta >= s.cfg.PutDeltaMin && snap.Delta <= s.cfg.PutDeltaMax {
			score += 25
		} else if snap.Delta < s.cfg.PutDeltaMin {
			score += 15
		}
	}

	if snap.Gamma >= s.cfg.GammaMin {
		score += 25
	} else if snap.Gamma > 0 {
		score += 15
	}

	absTheta := math.Abs(snap.Theta)
	thetaBand := math.Abs(s.cfg.ThetaMax)
	if absTheta <= thetaBand {
		score += 25
	} else if absTheta < thetaBand*2 {
		score += 15
	}

	if snap.Vega >= s.cfg.VegaMin {
		score += 25
	} else if snap.Vega > 0 {
		score += 15
	}

	return score
}

// ValidateSelection re-checks a selection before an order goes out.
func (s *Selector) ValidateSelection(c *Candidate) bool {
	if c == nil {
		return false
	}
	snap := c.Snapshot
	if snap.Volume < s.cfg.VolumeMin || snap.OI < s.cfg.OIMin || snap.Bid <= 0 || snap.Ask <= 0 {
		s.logger.Warn().Int64("volume", snap.Volume).Int64("oi", snap.OI).Msg("Selection fails liquidity check")
		return false
	}
	if c.SpreadPercent() > s.cfg.SpreadMaxPct {
		s.logger.Warn().Float64("spread_pct", c.SpreadPercent()).Msg("Selection spread too wide")
		return false
	}
	if math.Abs(snap.Delta) < 0.40 {
		s.logger.Warn().Float64("delta", snap.Delta).Msg("Selection delta too weak")
		return false
	}
	if snap.Gamma < s.cfg.GammaMin {
		s.logger.Warn().Float64("gamma", snap.Gamma).Msg("Selection gamma too low")
		return false
	}
	if s.HealthScore(*c) < 50 {
		return false
	}
	return true
}

// StillValid reports whether a previously selected strike remains tradable.
func (s *Selector) StillValid(c *Candidate) bool {
	if c == nil {
		return false
	}
	snap := c.Snapshot
	if snap.Volume < s.cfg.VolumeMin || snap.OI < s.cfg.OIMin || snap.Bid <= 0 || snap.Ask <= 0 {
		return false
	}
	if c.SpreadPercent() > s.cfg.SpreadMaxPct {
		return false
	}
	return math.Abs(snap.Delta) >= 0.30
}

// Alternatives returns the top ranked strikes excluding the given one.
func (s *Selector) Alternatives(candidates []Candidate, exclude *Candidate, side models.OptionType, count int) []Candidate {
	var pool []Candidate
	for _, c := range candidates {
		if c.Type != side {
			continue
		}
		if exclude != nil && c.Strike == exclude.Strike {
			continue
		}
		pool = append(pool, c)
	}
	ranked := s.rank(s.filter(pool))
	if len(ranked) > count {
		ranked = ranked[:count]
	}
	out := make([]Candidate, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.Candidate)
	}
	return out
}

// FromChain converts a chain snapshot into candidates.
func FromChain(chain *models.OptionChainSnapshot) []Candidate {
	if chain == nil {
		return nil
	}
	out := make([]Candidate, 0, len(chain.Strikes))
	for _, q := range chain.Strikes {
		out = append(out, Candidate{
			Strike: q.Strike,
			Type:   q.Type,
			Snapshot: models.GreeksSnapshot{
				Symbol:    q.Symbol,
				Timestamp: chain.Timestamp,
				Delta:     q.Delta,
				Gamma:     q.Gamma,
				Theta:     q.Theta,
				Vega:      q.Vega,
				LTP:       q.LTP,
				Bid:       q.Bid,
				Ask:       q.Ask,
				Volume:    q.Volume,
				OI:        q.OI,
				OIChange:  q.OIChange,
				IV:        q.IV,
			},
		})
	}
	return out
}
