package trades

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-scalper/internal/config"
	"nifty-scalper/internal/market"
	"nifty-scalper/internal/models"
)

type fakeExecutor struct {
	orders []market.Order
	fail   bool
}

func (f *fakeExecutor) PlaceOrder(ctx context.Context, order market.Order) (*market.OrderResult, error) {
	if f.fail {
		return nil, assert.AnError
	}
	f.orders = append(f.orders, order)
	return &market.OrderResult{OrderID: "T-001", Status: "COMPLETE"}, nil
}

func (f *fakeExecutor) PlaceMultiLegOrder(ctx context.Context, orders []market.Order) ([]*market.OrderResult, error) {
	if f.fail {
		return nil, assert.AnError
	}
	results := make([]*market.OrderResult, 0, len(orders))
	for _, o := range orders {
		f.orders = append(f.orders, o)
		results = append(results, &market.OrderResult{OrderID: "T-ML", Status: "COMPLETE"})
	}
	return results, nil
}

func (f *fakeExecutor) CancelOrder(ctx context.Context, orderID string) error { return nil }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testEntry() models.EntryContext {
	return models.EntryContext{
		Type:       models.OptionTypeCall,
		Strike:     24000,
		EntryPrice: 100,
		Greeks: models.GreeksSnapshot{
			Delta: 0.52,
			Gamma: 0.004,
			Theta: -8,
			IV:    25,
		},
		Confidence: 85,
	}
}

func testSize() models.PositionSize {
	return models.PositionSize{Quantity: 75, LotSize: 75, Valid: true}
}

func healthyUpdate() Update {
	return Update{
		Price:     101,
		Delta:     0.52,
		Gamma:     0.0041,
		Theta:     -8,
		IV:        25,
		OI:        500,
		PrevOI:    450,
		PrevPrice: 100.8,
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeExecutor, *fakeClock) {
	t.Helper()
	exec := &fakeExecutor{}
	clock := &fakeClock{now: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)}
	m := NewManager(config.Default().Exit, exec, clock, zerolog.Nop())
	return m, exec, clock
}

func TestOpenFreezesEntryGreeks(t *testing.T) {
	m, exec, _ := newTestManager(t)

	trade, err := m.Open(context.Background(), "NIFTY24000CE", testEntry(), testSize())
	require.NoError(t, err)

	assert.NotEmpty(t, trade.ID)
	assert.Equal(t, models.TradeOpen, trade.Status)
	assert.Equal(t, 0.52, trade.Entry.Delta)
	assert.Equal(t, 0.004, trade.Entry.Gamma)
	assert.InDelta(t, 93.0, trade.StopPrice, 1e-9)
	assert.InDelta(t, 106.5, trade.TargetPrice, 1e-9)

	require.Len(t, exec.orders, 1)
	assert.Equal(t, market.SideBuy, exec.orders[0].Side)
	assert.Equal(t, 75, exec.orders[0].Quantity)
}

func TestOpenRejectsInvalidSize(t *testing.T) {
	m, _, _ := newTestManager(t)
	size := testSize()
	size.Valid = false
	size.RejectionReason = "insufficient capital"

	_, err := m.Open(context.Background(), "NIFTY24000CE", testEntry(), size)
	assert.Error(t, err)
}

func TestHealthyUpdateHolds(t *testing.T) {
	m, _, _ := newTestManager(t)
	trade, err := m.Open(context.Background(), "NIFTY24000CE", testEntry(), testSize())
	require.NoError(t, err)

	reason, err := m.Update(trade.ID, healthyUpdate(), models.RuleBundle{})
	require.NoError(t, err)
	assert.Empty(t, reason)
	assert.InDelta(t, 75.0, trade.PnL, 1e-9)
}

func TestHardSLBeatsDeltaWeakness(t *testing.T) {
	m, _, _ := newTestManager(t)
	trade, err := m.Open(context.Background(), "NIFTY24000CE", testEntry(), testSize())
	require.NoError(t, err)

	u := healthyUpdate()
	u.Price = 92
	u.Delta = 0.30

	reason, err := m.Update(trade.ID, u, models.RuleBundle{})
	require.NoError(t, err)
	assert.Equal(t, models.ExitHardSL, reason)
}

func TestTargetHit(t *testing.T) {
	m, _, _ := newTestManager(t)
	trade, err := m.Open(context.Background(), "NIFTY24000CE", testEntry(), testSize())
	require.NoError(t, err)

	u := healthyUpdate()
	u.Price = 107

	reason, err := m.Update(trade.ID, u, models.RuleBundle{})
	require.NoError(t, err)
	assert.Equal(t, models.ExitTarget, reason)
}

func TestGreekExitTriggers(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Update)
		want   models.ExitReason
	}{
		{
			name: "delta weakness",
			mutate: func(u *Update) {
				u.Delta = 0.40 // 23% degradation from 0.52
			},
			want: models.ExitDeltaWeakness,
		},
		{
			name: "gamma rollover",
			mutate: func(u *Update) {
				u.Gamma = 0.0029 // below 0.75 of entry gamma
			},
			want: models.ExitGammaRollover,
		},
		{
			name: "theta damage on flat premium",
			mutate: func(u *Update) {
				u.Price = 100.3
				u.PrevPrice = 100.2
				u.Theta = -9
			},
			want: models.ExitThetaDamage,
		},
		{
			name: "iv crush with stalled premium",
			mutate: func(u *Update) {
				u.Price = 100.7
				u.PrevPrice = 100.6
				u.IV = 23 // -8% from entry IV 25
			},
			want: models.ExitIVCrush,
		},
		{
			name: "oi rising without price follow-through",
			mutate: func(u *Update) {
				u.Price = 102
				u.PrevPrice = 101.8
				u.OI = 700
				u.PrevOI = 500
			},
			want: models.ExitOIPriceMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestManager(t)
			trade, err := m.Open(context.Background(), "NIFTY24000CE", testEntry(), testSize())
			require.NoError(t, err)

			u := healthyUpdate()
			tt.mutate(&u)

			reason, err := m.Update(trade.ID, u, models.RuleBundle{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestExpiryRulesTightenGammaExit(t *testing.T) {
	m, _, _ := newTestManager(t)
	trade, err := m.Open(context.Background(), "NIFTY24000CE", testEntry(), testSize())
	require.NoError(t, err)

	u := healthyUpdate()
	u.Gamma = 0.0034 // above the normal 0.003 threshold

	reason, err := m.Update(trade.ID, u, models.RuleBundle{})
	require.NoError(t, err)
	assert.Empty(t, reason, "normal rules should hold")

	expiryRules := models.RuleBundle{
		Tier:                 models.TierExpiryDay,
		MinTimeInTrade:       20 * time.Second,
		MaxTimeInTrade:       5 * time.Minute,
		GammaExitSensitivity: 2.0,
	}
	reason, err = m.Update(trade.ID, u, expiryRules)
	require.NoError(t, err)
	assert.Equal(t, models.ExitGammaRollover, reason, "expiry sensitivity should trigger on shallower decay")
}

func TestExpiryTimeExits(t *testing.T) {
	expiryRules := models.RuleBundle{
		Tier:                 models.TierExpiryDay,
		MinTimeInTrade:       20 * time.Second,
		MaxTimeInTrade:       5 * time.Minute,
		GammaExitSensitivity: 2.0,
	}

	t.Run("forced exit past max hold", func(t *testing.T) {
		m, _, clock := newTestManager(t)
		trade, err := m.Open(context.Background(), "NIFTY24000CE", testEntry(), testSize())
		require.NoError(t, err)

		clock.Advance(6 * time.Minute)
		u := healthyUpdate()
		u.Price = 99

		reason, err := m.Update(trade.ID, u, expiryRules)
		require.NoError(t, err)
		assert.Equal(t, models.ExitExpiryTimeForced, reason)
	})

	t.Run("early target after min hold", func(t *testing.T) {
		m, _, clock := newTestManager(t)
		trade, err := m.Open(context.Background(), "NIFTY24000CE", testEntry(), testSize())
		require.NoError(t, err)

		clock.Advance(30 * time.Second)
		u := healthyUpdate()
		u.Price = 107.5

		reason, err := m.Update(trade.ID, u, expiryRules)
		require.NoError(t, err)
		assert.Equal(t, models.ExitExpiryTarget, reason)
	})
}

func TestCloseRecordsResult(t *testing.T) {
	m, exec, _ := newTestManager(t)
	trade, err := m.Open(context.Background(), "NIFTY24000CE", testEntry(), testSize())
	require.NoError(t, err)

	closed, err := m.Close(context.Background(), trade.ID, models.ExitTarget, 107)
	require.NoError(t, err)

	assert.Equal(t, models.TradeClosedProfit, closed.Status)
	assert.InDelta(t, 525.0, closed.PnL, 1e-9) // 7 rupees * 75 qty
	assert.Empty(t, m.Active())
	assert.Len(t, m.Closed(), 1)

	require.Len(t, exec.orders, 2)
	assert.Equal(t, market.SideSell, exec.orders[1].Side)

	_, err = m.Get(trade.ID)
	assert.Error(t, err)
}

func TestCloseAllSquaresOff(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Open(context.Background(), "NIFTY24000CE", testEntry(), testSize())
	require.NoError(t, err)
	_, err = m.Open(context.Background(), "NIFTY24100CE", testEntry(), testSize())
	require.NoError(t, err)

	assert.InDelta(t, 15000.0, m.OpenExposure(), 1e-9)

	closed := m.CloseAll(context.Background(), models.ExitShutdown)
	assert.Len(t, closed, 2)
	assert.Empty(t, m.Active())
	assert.Zero(t, m.OpenExposure())
}

func TestStats(t *testing.T) {
	m, _, _ := newTestManager(t)

	win, err := m.Open(context.Background(), "NIFTY24000CE", testEntry(), testSize())
	require.NoError(t, err)
	_, err = m.Close(context.Background(), win.ID, models.ExitTarget, 106.5)
	require.NoError(t, err)

	loss, err := m.Open(context.Background(), "NIFTY24000CE", testEntry(), testSize())
	require.NoError(t, err)
	_, err = m.Close(context.Background(), loss.ID, models.ExitHardSL, 93)
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 1, stats.Losses)
	assert.Equal(t, 50.0, stats.WinRate)
	assert.InDelta(t, -18.75, stats.AvgPnL, 1e-9) // (487.5 - 525.0) / 2
}
