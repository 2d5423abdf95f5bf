package risk

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"nifty-scalper/internal/config"
	"nifty-scalper/internal/models"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager() (*Manager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)}
	cfg := config.Default().Risk
	// capital 100000, max daily loss 3000 per defaults
	return NewManager(cfg, 100000, 3000, clock, zerolog.Nop()), clock
}

func result(pnl float64) models.TradeResult {
	return models.TradeResult{TradeID: "t", PnL: pnl}
}

func TestCanTradeWhenClean(t *testing.T) {
	m, _ := newTestManager()
	ok, reason := m.CanTrade(75, 2000)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestDailyLossHalts(t *testing.T) {
	m, _ := newTestManager()
	m.RecordResult(result(-3100))

	halted, reason := m.Halted()
	assert.True(t, halted)
	assert.Contains(t, reason, "loss limit")

	ok, _ := m.CanTrade(75, 1000)
	assert.False(t, ok)
}

func TestProfitTargetHalts(t *testing.T) {
	m, _ := newTestManager()
	m.RecordResult(result(5500)) // target is 5000

	halted, reason := m.Halted()
	assert.True(t, halted)
	assert.Contains(t, reason, "profit target")
}

func TestConsecutiveLossCooldown(t *testing.T) {
	m, clock := newTestManager()
	m.RecordResult(result(-200))
	m.RecordResult(result(-200)) // limit 2 engages cooldown

	ok, reason := m.CanTrade(75, 1000)
	assert.False(t, ok)
	assert.Contains(t, reason, "cooldown")

	clock.Advance(16 * time.Minute) // cooldown is 15m
	ok, _ = m.CanTrade(75, 1000)
	assert.True(t, ok)
}

func TestConsecutiveLossStopHalts(t *testing.T) {
	m, clock := newTestManager()
	for i := 0; i < 5; i++ {
		m.RecordResult(result(-100))
		clock.Advance(20 * time.Minute)
	}

	halted, reason := m.Halted()
	assert.True(t, halted)
	assert.Contains(t, reason, "consecutive losses")
}

func TestWinResetsLossStreak(t *testing.T) {
	m, _ := newTestManager()
	m.RecordResult(result(-200))
	m.RecordResult(result(300))

	assert.Equal(t, 0, m.GetMetrics().LossesInRow)
}

func TestMaxTradesPerDay(t *testing.T) {
	m, clock := newTestManager()
	for i := 0; i < 5; i++ { // alternate to avoid the loss cooldown
		if i%2 == 0 {
			m.RecordResult(result(100))
		} else {
			m.RecordResult(result(-100))
		}
		clock.Advance(time.Minute)
	}

	ok, reason := m.CanTrade(75, 1000)
	assert.False(t, ok)
	assert.Contains(t, reason, "max trades")
}

func TestExposureLimit(t *testing.T) {
	m, _ := newTestManager()
	m.AddExposure(24000) // limit is 25% of 100000

	ok, reason := m.CanTrade(75, 2000)
	assert.False(t, ok)
	assert.Contains(t, reason, "exposure")

	m.ReleaseExposure(24000)
	ok, _ = m.CanTrade(75, 2000)
	assert.True(t, ok)
}

func TestCheckPositionRisk(t *testing.T) {
	m, _ := newTestManager()

	ok, _ := m.CheckPositionRisk(75, 100, 92) // risk 600, half-limit 1500
	assert.True(t, ok)

	ok, reason := m.CheckPositionRisk(300, 100, 92) // risk 2400
	assert.False(t, ok)
	assert.Contains(t, reason, "daily limit")
}

func TestResumeAndResetDay(t *testing.T) {
	m, _ := newTestManager()
	m.Halt("manual")
	halted, _ := m.Halted()
	assert.True(t, halted)

	m.Resume()
	halted, _ = m.Halted()
	assert.False(t, halted)

	m.RecordResult(result(-500))
	m.ResetDay()
	metrics := m.GetMetrics()
	assert.Zero(t, metrics.DailyPnL)
	assert.Zero(t, metrics.TradesToday)
	assert.Empty(t, m.History())
}

func TestMetricsSnapshot(t *testing.T) {
	m, _ := newTestManager()
	m.RecordResult(result(-1000))

	metrics := m.GetMetrics()
	assert.Equal(t, -1000.0, metrics.DailyPnL)
	assert.Equal(t, 1, metrics.TradesToday)
	assert.Equal(t, 4, metrics.RemainingTrades)
	assert.Equal(t, 2000.0, metrics.RemainingCapacity)
}
