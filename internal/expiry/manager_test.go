package expiry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-scalper/internal/config"
	"nifty-scalper/internal/market"
	"nifty-scalper/internal/models"
)

func testExpiryConfig() config.ExpiryConfig {
	return config.ExpiryConfig{
		WeeklyDay:    time.Tuesday,
		CutoffHour:   15,
		CutoffMinute: 30,
	}
}

type failingSource struct{}

func (failingSource) FetchExpiries(ctx context.Context, underlying string) ([]time.Time, error) {
	return nil, errors.New("upstream down")
}

func fixedClock(t time.Time) market.Clock {
	return market.ClockFunc(func() time.Time { return t })
}

// 2026-08-24 is a Monday.
var monday = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

func TestRefreshCalculatedCalendar(t *testing.T) {
	m := NewManager(testExpiryConfig(), nil, fixedClock(monday), zerolog.Nop())
	require.NoError(t, m.Refresh(context.Background(), "NIFTY"))

	cur := m.Current()
	require.NotNil(t, cur)
	assert.Equal(t, time.Tuesday, cur.Date.Weekday())
	assert.Equal(t, 1, cur.DaysToExpiry)
	assert.False(t, cur.IsExpiryDay)
	assert.True(t, cur.IsExpiryWeek)
	assert.Len(t, m.Available(), 4)
}

func TestRefreshFallsBackWhenSourceFails(t *testing.T) {
	m := NewManager(testExpiryConfig(), failingSource{}, fixedClock(monday), zerolog.Nop())
	require.NoError(t, m.Refresh(context.Background(), "NIFTY"))
	assert.NotNil(t, m.Current())
}

func TestExpiryDayBeforeAndAfterCutoff(t *testing.T) {
	// 2026-08-25 is a Tuesday.
	tuesdayMorning := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	m := NewManager(testExpiryConfig(), nil, fixedClock(tuesdayMorning), zerolog.Nop())
	require.NoError(t, m.Refresh(context.Background(), "NIFTY"))
	assert.True(t, m.IsExpiryDay())
	assert.Equal(t, 0, m.DaysToExpiry())

	tuesdayClose := time.Date(2026, 8, 25, 15, 45, 0, 0, time.UTC)
	m2 := NewManager(testExpiryConfig(), nil, fixedClock(tuesdayClose), zerolog.Nop())
	require.NoError(t, m2.Refresh(context.Background(), "NIFTY"))
	assert.False(t, m2.IsExpiryDay())
	assert.Equal(t, 7, m2.DaysToExpiry())
}

func TestRulesForDaysTiers(t *testing.T) {
	tests := []struct {
		days int
		tier models.ExpiryTier
	}{
		{0, models.TierExpiryDay},
		{1, models.TierLastDay},
		{2, models.TierExpiryWeek},
		{3, models.TierExpiryWeek},
		{4, models.TierNormal},
		{10, models.TierNormal},
	}
	for _, tt := range tests {
		rules := RulesForDays(tt.days)
		assert.Equal(t, tt.tier, rules.Tier, "days=%d", tt.days)
	}
}

func TestExpiryDayRuleBundle(t *testing.T) {
	rules := RulesForDays(0)
	assert.Equal(t, 0.3, rules.PositionSizeFactor)
	assert.Equal(t, 0.005, rules.RiskPercent)
	assert.Equal(t, 0.03, rules.HardSLPercent)
	assert.Equal(t, 5*time.Minute, rules.MaxTimeInTrade)
	assert.Equal(t, 2.0, rules.GammaExitSensitivity)
	assert.True(t, rules.Active())

	assert.False(t, RulesForDays(10).Active())
}

func TestOptionSymbol(t *testing.T) {
	m := NewManager(testExpiryConfig(), nil, fixedClock(monday), zerolog.Nop())
	require.NoError(t, m.Refresh(context.Background(), "NIFTY"))

	symbol := m.OptionSymbol("NIFTY", 24000, models.OptionTypeCall)
	assert.Equal(t, "NIFTY24000CE25AUG26", symbol)
}
