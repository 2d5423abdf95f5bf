package strikes

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-scalper/internal/config"
	"nifty-scalper/internal/models"
)

func testStrikeConfig() config.StrikeConfig {
	return config.StrikeConfig{
		CallDeltaMin: 0.45,
		CallDeltaMax: 0.65,
		PutDeltaMin:  -0.65,
		PutDeltaMax:  -0.45,
		GammaMin:     0.002,
		ThetaMax:     -0.05,
		VegaMin:      0.01,
		SpreadMaxPct: 1.0,
		VolumeMin:    50,
		OIMin:        100,
	}
}

func newTestSelector() *Selector {
	return NewSelector(testStrikeConfig(), zerolog.Nop())
}

func candidate(strike float64, otype models.OptionType, delta, gamma float64, volume, oi int64) Candidate {
	return Candidate{
		Strike: strike,
		Type:   otype,
		Snapshot: models.GreeksSnapshot{
			Symbol:   "NIFTY",
			Delta:    delta,
			Gamma:    gamma,
			Theta:    -0.04,
			Vega:     0.02,
			LTP:      100,
			Bid:      99.8,
			Ask:      100.2,
			Volume:   volume,
			OI:       oi,
			OIChange: 50,
		},
	}
}

func TestSelectPrefersHealthierStrike(t *testing.T) {
	s := newTestSelector()
	candidates := []Candidate{
		candidate(24000, models.OptionTypeCall, 0.52, 0.004, 2000, 20000), // ideal
		candidate(24100, models.OptionTypeCall, 0.30, 0.001, 100, 500),   // weak greeks
		candidate(23900, models.OptionTypePut, -0.52, 0.004, 2000, 20000),
	}

	best := s.Select(time.Now(), candidates, models.BiasBullish)
	require.NotNil(t, best)
	assert.Equal(t, 24000.0, best.Strike)
	assert.Equal(t, models.OptionTypeCall, best.Type)
}

func TestSelectPutSideOnBearish(t *testing.T) {
	s := newTestSelector()
	candidates := []Candidate{
		candidate(24000, models.OptionTypeCall, 0.52, 0.004, 2000, 20000),
		candidate(23900, models.OptionTypePut, -0.52, 0.004, 2000, 20000),
	}

	best := s.Select(time.Now(), candidates, models.BiasBearish)
	require.NotNil(t, best)
	assert.Equal(t, models.OptionTypePut, best.Type)
}

func TestSelectNilWithoutPermission(t *testing.T) {
	s := newTestSelector()
	candidates := []Candidate{
		candidate(24000, models.OptionTypeCall, 0.52, 0.004, 2000, 20000),
	}

	assert.Nil(t, s.Select(time.Now(), candidates, models.BiasNoTrade))
	assert.Nil(t, s.Select(time.Now(), nil, models.BiasBullish))
}

func TestFilterDropsIlliquidAndWideSpreads(t *testing.T) {
	s := newTestSelector()

	illiquid := candidate(24000, models.OptionTypeCall, 0.52, 0.004, 10, 50)
	wide := candidate(24100, models.OptionTypeCall, 0.52, 0.004, 2000, 20000)
	wide.Snapshot.Bid = 98
	wide.Snapshot.Ask = 102
	noGreeks := candidate(24200, models.OptionTypeCall, 0, 0, 2000, 20000)

	filtered := s.filter([]Candidate{illiquid, wide, noGreeks})
	assert.Empty(t, filtered)
}

func TestHealthScoreBands(t *testing.T) {
	s := newTestSelector()

	ideal := candidate(24000, models.OptionTypeCall, 0.52, 0.004, 2000, 20000)
	assert.Equal(t, 100.0, s.HealthScore(ideal))

	weakDelta := candidate(24000, models.OptionTypeCall, 0.30, 0.004, 2000, 20000)
	assert.Equal(t, 75.0, s.HealthScore(weakDelta))

	put := candidate(23900, models.OptionTypePut, -0.52, 0.004, 2000, 20000)
	assert.Equal(t, 100.0, s.HealthScore(put))
}

func TestValidateSelection(t *testing.T) {
	s := newTestSelector()

	good := candidate(24000, models.OptionTypeCall, 0.52, 0.004, 2000, 20000)
	assert.True(t, s.ValidateSelection(&good))

	weak := candidate(24000, models.OptionTypeCall, 0.35, 0.004, 2000, 20000)
	assert.False(t, s.ValidateSelection(&weak), "delta below 0.40")

	assert.False(t, s.ValidateSelection(nil))
}

func TestStillValid(t *testing.T) {
	s := newTestSelector()

	c := candidate(24000, models.OptionTypeCall, 0.52, 0.004, 2000, 20000)
	assert.True(t, s.StillValid(&c))

	c.Snapshot.Delta = 0.25
	assert.False(t, s.StillValid(&c), "delta degraded below 0.30")
}

func TestAlternativesExcludeSelection(t *testing.T) {
	s := newTestSelector()
	selected := candidate(24000, models.OptionTypeCall, 0.52, 0.004, 2000, 20000)
	candidates := []Candidate{
		selected,
		candidate(24050, models.OptionTypeCall, 0.48, 0.003, 1500, 15000),
		candidate(24100, models.OptionTypeCall, 0.46, 0.003, 1000, 10000),
		candidate(23900, models.OptionTypePut, -0.52, 0.004, 2000, 20000),
	}

	alts := s.Alternatives(candidates, &selected, models.OptionTypeCall, 3)
	require.Len(t, alts, 2)
	for _, a := range alts {
		assert.NotEqual(t, selected.Strike, a.Strike)
		assert.Equal(t, models.OptionTypeCall, a.Type)
	}
}
