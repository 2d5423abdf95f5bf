// Package trades owns the trade lifecycle: order placement on entry, the
// Greeks-driven exit waterfall on every tick, and closed-trade statistics.
package trades

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nifty-scalper/internal/config"
	scalperrors "nifty-scalper/internal/errors"
	"nifty-scalper/internal/logging"
	"nifty-scalper/internal/market"
	"nifty-scalper/internal/models"
	"nifty-scalper/internal/observ"
)

// Update carries the latest quote and Greeks for an open trade, plus the
// previous tick's OI and price for the mismatch trigger.
type Update struct {
	Price     float64
	Delta     float64
	Gamma     float64
	Theta     float64
	IV        float64
	OI        int64
	PrevOI    int64
	PrevPrice float64
}

// Manager tracks open and closed trades. Exits are edge-gone exits: each
// trigger fires when the condition that justified the entry no longer holds,
// not merely when price moves against the position.
type Manager struct {
	mu       sync.RWMutex
	cfg      config.ExitConfig
	executor market.Executor
	clock    market.Clock
	logger   zerolog.Logger

	active map[string]*models.Trade
	closed []*models.Trade
}

// NewManager creates a trade manager. A nil executor means trades are
// tracked without broker orders (paper mode handles fills upstream).
func NewManager(cfg config.ExitConfig, executor market.Executor, clock market.Clock, logger zerolog.Logger) *Manager {
	if clock == nil {
		clock = market.SystemClock()
	}
	return &Manager{
		cfg:      cfg,
		executor: executor,
		clock:    clock,
		logger:   logger.With().Str("component", "trades").Logger(),
		active:   make(map[string]*models.Trade),
	}
}

// Open places the entry order and registers the trade. The Greeks baseline
// is frozen from the entry context; every exit trigger compares against it.
func (m *Manager) Open(ctx context.Context, symbol string, entry models.EntryContext, size models.PositionSize) (*models.Trade, error) {
	if !size.Valid {
		return nil, scalperrors.NewValidationError("size", size.RejectionReason, "position size rejected")
	}

	fillPrice := entry.EntryPrice
	if m.executor != nil {
		result, err := m.executor.PlaceOrder(ctx, market.Order{
			Symbol:   symbol,
			Side:     market.SideBuy,
			Quantity: size.Quantity,
			Tag:      "scalp-entry",
		})
		if err != nil {
			return nil, fmt.Errorf("entry order for %s: %w", symbol, err)
		}
		if result.FillPrice > 0 {
			fillPrice = result.FillPrice
		}
	}

	stopPrice := size.StopPrice
	if stopPrice <= 0 {
		stopPrice = fillPrice * (1 - m.cfg.HardSLPercent)
	}
	targetPrice := size.TargetPrice
	if targetPrice <= 0 {
		targetPrice = fillPrice * (1 + m.cfg.TargetPercent)
	}

	trade := &models.Trade{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		EntryTime:    m.clock.Now(),
		Type:         entry.Type,
		Strike:       entry.Strike,
		EntryPrice:   fillPrice,
		CurrentPrice: fillPrice,
		Quantity:     size.Quantity,
		Entry: models.EntryGreeks{
			Delta: entry.Greeks.Delta,
			Gamma: entry.Greeks.Gamma,
			Theta: entry.Greeks.Theta,
			IV:    entry.Greeks.IV,
		},
		StopPrice:   stopPrice,
		TargetPrice: targetPrice,
		Status:      models.TradeOpen,
	}

	m.mu.Lock()
	m.active[trade.ID] = trade
	open := len(m.active)
	m.mu.Unlock()

	observ.SetOpenPositions(open)
	logging.LogEntry(m.logger, trade.ID, symbol, trade.Quantity, fillPrice, entry.Confidence)
	return trade, nil
}

// PlaceLegs places a multi-leg order atomically through the executor.
func (m *Manager) PlaceLegs(ctx context.Context, legs []market.Order) ([]*market.OrderResult, error) {
	if m.executor == nil {
		return nil, scalperrors.ErrOrderRejected
	}
	results, err := m.executor.PlaceMultiLegOrder(ctx, legs)
	if err != nil {
		m.logger.Error().Err(err).Int("legs", len(legs)).Msg("Multi-leg order rejected")
		return nil, fmt.Errorf("multi-leg order: %w", err)
	}
	m.logger.Info().Int("legs", len(legs)).Msg("Multi-leg order placed")
	return results, nil
}

// Update refreshes an open trade with the latest data and runs the exit
// waterfall. It returns the exit reason to act on, or "" to hold. The trade
// is not closed here; the caller decides whether to place the exit order.
func (m *Manager) Update(id string, u Update, rules models.RuleBundle) (models.ExitReason, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trade, ok := m.active[id]
	if !ok {
		return "", scalperrors.ErrTradeNotFound
	}

	trade.CurrentPrice = u.Price
	trade.PnL = (u.Price - trade.EntryPrice) * float64(trade.Quantity)
	if trade.EntryPrice > 0 {
		trade.PnLPercent = (u.Price - trade.EntryPrice) / trade.EntryPrice * 100
	}
	trade.TimeInTrade = m.clock.Now().Sub(trade.EntryTime)

	return m.checkExit(trade, u, rules), nil
}

// checkExit runs the exit triggers in strict priority order. Expiry-day
// time rules outrank everything, then the hard SL, then the edge-gone
// Greek triggers.
func (m *Manager) checkExit(trade *models.Trade, u Update, rules models.RuleBundle) models.ExitReason {
	if rules.Active() {
		if rules.MaxTimeInTrade > 0 && trade.TimeInTrade > rules.MaxTimeInTrade {
			if trade.PnL > 0 {
				return models.ExitExpiryTimeProfit
			}
			return models.ExitExpiryTimeForced
		}
		if trade.TimeInTrade > rules.MinTimeInTrade && trade.PnL > 0 {
			earlyTarget := trade.EntryPrice * (1 + m.cfg.ExpiryEarlyTarget)
			if u.Price >= earlyTarget {
				return models.ExitExpiryTarget
			}
		}
	}

	if u.Price <= trade.StopPrice {
		return models.ExitHardSL
	}

	if u.Price >= trade.TargetPrice {
		return models.ExitTarget
	}

	// Delta weakness: option losing directional edge relative to entry.
	if trade.Entry.Delta != 0 {
		degradation := math.Abs(u.Delta) / math.Abs(trade.Entry.Delta)
		if degradation < 1.0-m.cfg.DeltaWeaknessPct {
			return models.ExitDeltaWeakness
		}
	}

	// Gamma rollover: when gamma peaks, don't hope. Expiry rules raise the
	// trigger threshold so the exit fires on a shallower decay.
	factor := m.cfg.GammaRolloverFactor
	if rules.Active() && rules.GammaExitSensitivity > 1 {
		factor = 1 - (1-factor)/rules.GammaExitSensitivity
	}
	if u.Gamma <= trade.Entry.Gamma*factor {
		return models.ExitGammaRollover
	}

	// Theta damage: flat premium while decay accelerates.
	if math.Abs(u.Price-trade.EntryPrice) < m.cfg.ThetaFlatMove && u.Theta < trade.Entry.Theta {
		return models.ExitThetaDamage
	}

	// IV crush: vol collapse with a stalled premium.
	if trade.Entry.IV > 0 {
		ivChangePct := (u.IV - trade.Entry.IV) / trade.Entry.IV * 100
		if ivChangePct < m.cfg.IVCrushPercent && math.Abs(u.Price-trade.EntryPrice) < m.cfg.IVCrushMaxMove {
			return models.ExitIVCrush
		}
	}

	// OI building without the premium following is distribution, not demand.
	oiChange := u.OI - u.PrevOI
	if oiChange > m.cfg.OIMismatchRise && math.Abs(u.Price-u.PrevPrice) < m.cfg.OIMismatchMaxMove {
		return models.ExitOIPriceMismatch
	}

	return ""
}

// Close exits an open trade at the given price, placing the sell order when
// an executor is present, and moves it to the closed list.
func (m *Manager) Close(ctx context.Context, id string, reason models.ExitReason, exitPrice float64) (*models.Trade, error) {
	m.mu.Lock()
	trade, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return nil, scalperrors.ErrTradeNotFound
	}
	delete(m.active, id)
	m.mu.Unlock()

	if m.executor != nil {
		result, err := m.executor.PlaceOrder(ctx, market.Order{
			Symbol:   trade.Symbol,
			Side:     market.SideSell,
			Quantity: trade.Quantity,
			Tag:      "scalp-exit",
		})
		if err != nil {
			// The position still needs to be flattened; keep the trade open
			// so the caller can retry.
			m.mu.Lock()
			m.active[id] = trade
			m.mu.Unlock()
			return nil, fmt.Errorf("exit order for %s: %w", trade.Symbol, err)
		}
		if result.FillPrice > 0 {
			exitPrice = result.FillPrice
		}
	}

	now := m.clock.Now()
	trade.ExitTime = now
	trade.ExitReason = reason
	trade.CurrentPrice = exitPrice
	trade.PnL = (exitPrice - trade.EntryPrice) * float64(trade.Quantity)
	if trade.EntryPrice > 0 {
		trade.PnLPercent = (exitPrice - trade.EntryPrice) / trade.EntryPrice * 100
	}
	trade.TimeInTrade = now.Sub(trade.EntryTime)

	switch {
	case trade.PnL > 0:
		trade.Status = models.TradeClosedProfit
	case trade.PnL < 0:
		trade.Status = models.TradeClosedLoss
	default:
		trade.Status = models.TradeClosedFlat
	}

	m.mu.Lock()
	m.closed = append(m.closed, trade)
	open := len(m.active)
	m.mu.Unlock()

	observ.IncExit(string(reason))
	observ.SetOpenPositions(open)
	logging.LogExit(m.logger, trade.ID, trade.Symbol, string(reason), exitPrice, trade.PnL)
	return trade, nil
}

// CloseAll flattens every open trade at its last known price. Used for the
// end-of-session square-off and the risk manager's halt.
func (m *Manager) CloseAll(ctx context.Context, reason models.ExitReason) []*models.Trade {
	m.mu.RLock()
	ids := make([]string, 0, len(m.active))
	prices := make(map[string]float64, len(m.active))
	for id, t := range m.active {
		ids = append(ids, id)
		prices[id] = t.CurrentPrice
	}
	m.mu.RUnlock()

	closed := make([]*models.Trade, 0, len(ids))
	for _, id := range ids {
		trade, err := m.Close(ctx, id, reason, prices[id])
		if err != nil {
			m.logger.Error().Err(err).Str("trade_id", id).Msg("Square-off failed")
			continue
		}
		closed = append(closed, trade)
	}
	return closed
}

// Get returns an open trade by ID.
func (m *Manager) Get(id string) (*models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trade, ok := m.active[id]
	if !ok {
		return nil, scalperrors.ErrTradeNotFound
	}
	return trade, nil
}

// Active returns a copy of the open trade list.
func (m *Manager) Active() []*models.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Trade, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, t)
	}
	return out
}

// Closed returns a copy of the closed trade list.
func (m *Manager) Closed() []*models.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Trade, len(m.closed))
	copy(out, m.closed)
	return out
}

// OpenExposure returns the total premium deployed across open trades.
func (m *Manager) OpenExposure() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, t := range m.active {
		total += t.EntryPrice * float64(t.Quantity)
	}
	return total
}

// Stats summarises the closed trades.
func (m *Manager) Stats() models.TradeStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := models.TradeStats{Total: len(m.closed)}
	if stats.Total == 0 {
		return stats
	}
	for _, t := range m.closed {
		stats.TotalPnL += t.PnL
		if t.PnL > 0 {
			stats.Wins++
		} else if t.PnL < 0 {
			stats.Losses++
		}
	}
	stats.WinRate = float64(stats.Wins) / float64(stats.Total) * 100
	stats.AvgPnL = stats.TotalPnL / float64(stats.Total)
	return stats
}
