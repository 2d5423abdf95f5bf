// Package risk enforces the daily capital-protection limits: loss and
// profit circuit breakers, trade-count caps, exposure limits, and the
// consecutive-loss cooldown.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nifty-scalper/internal/config"
	"nifty-scalper/internal/logging"
	"nifty-scalper/internal/market"
	"nifty-scalper/internal/models"
	"nifty-scalper/internal/observ"
)

// Metrics is a read-only snapshot of the risk manager state.
type Metrics struct {
	DailyPnL          float64
	TradesToday       int
	Exposure          float64
	LossesInRow       int
	Halted            bool
	HaltReason        string
	CooldownUntil     time.Time
	MaxDailyLoss      float64
	RemainingTrades   int
	RemainingCapacity float64
}

// Manager is the daily kill switch. Every entry asks it for permission;
// every closed trade reports back to it. Once halted, only Resume or
// ResetDay re-enables trading.
type Manager struct {
	mu      sync.Mutex
	cfg     config.RiskConfig
	capital float64
	maxLoss float64
	clock   market.Clock
	logger  zerolog.Logger

	dailyPnL      float64
	tradesToday   int
	exposure      float64
	lossesInRow   int
	halted        bool
	haltReason    string
	cooldownUntil time.Time
	history       []models.TradeResult
}

// NewManager creates a risk manager. maxDailyLoss is the effective rupee
// limit, typically Config.MaxDailyLoss().
func NewManager(cfg config.RiskConfig, capital, maxDailyLoss float64, clock market.Clock, logger zerolog.Logger) *Manager {
	if clock == nil {
		clock = market.SystemClock()
	}
	m := &Manager{
		cfg:     cfg,
		capital: capital,
		maxLoss: maxDailyLoss,
		clock:   clock,
		logger:  logger.With().Str("component", "risk").Logger(),
	}
	m.logger.Info().
		Float64("max_daily_loss", maxDailyLoss).
		Float64("profit_target", cfg.DailyProfitTarget).
		Int("max_trades", cfg.MaxTradesPerDay).
		Msg("Risk limits active")
	return m
}

// CanTrade reports whether a new trade of the given size and risk is
// allowed. The returned reason is empty when the trade is permitted.
func (m *Manager) CanTrade(quantity int, riskAmount float64) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.halted {
		return false, fmt.Sprintf("trading halted: %s", m.haltReason)
	}

	now := m.clock.Now()
	if now.Before(m.cooldownUntil) {
		return false, fmt.Sprintf("loss cooldown until %s", m.cooldownUntil.Format("15:04:05"))
	}

	if m.dailyPnL <= -m.maxLoss {
		m.haltLocked("daily loss limit reached")
		return false, "daily loss limit reached"
	}

	if m.cfg.DailyProfitTarget > 0 && m.dailyPnL >= m.cfg.DailyProfitTarget {
		m.haltLocked("daily profit target achieved")
		return false, "daily profit target achieved"
	}

	if m.tradesToday >= m.cfg.MaxTradesPerDay {
		return false, "max trades per day reached"
	}

	maxExposure := m.capital * m.cfg.MaxExposurePercent
	if m.exposure+riskAmount > maxExposure {
		return false, fmt.Sprintf("exposure limit: %.0f + %.0f > %.0f", m.exposure, riskAmount, maxExposure)
	}

	return true, ""
}

// CheckPositionRisk validates a single position's risk against the daily
// budget. One trade must not risk more than half the daily loss limit.
func (m *Manager) CheckPositionRisk(quantity int, entryPrice, stopPrice float64) (bool, string) {
	riskPerUnit := entryPrice - stopPrice
	if riskPerUnit < 0 {
		riskPerUnit = -riskPerUnit
	}
	totalRisk := float64(quantity) * riskPerUnit

	if totalRisk > m.maxLoss*0.5 {
		return false, fmt.Sprintf("single trade risk ₹%.0f exceeds half the daily limit", totalRisk)
	}
	return true, ""
}

// RecordResult books a closed trade into the daily tally and trips the
// circuit breakers when limits are breached.
func (m *Manager) RecordResult(result models.TradeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyPnL += result.PnL
	m.tradesToday++
	m.history = append(m.history, result)

	if result.PnL < 0 {
		m.lossesInRow++
	} else {
		m.lossesInRow = 0
	}

	observ.SetDailyPnL(m.dailyPnL)
	m.logger.Info().
		Str("trade_id", result.TradeID).
		Float64("pnl", result.PnL).
		Float64("daily_pnl", m.dailyPnL).
		Int("trades_today", m.tradesToday).
		Int("losses_in_row", m.lossesInRow).
		Msg("Trade result recorded")

	switch {
	case m.dailyPnL <= -m.maxLoss:
		m.haltLocked("daily loss limit breached")
	case m.cfg.DailyProfitTarget > 0 && m.dailyPnL >= m.cfg.DailyProfitTarget:
		m.haltLocked("daily profit target achieved")
	case m.cfg.ConsecutiveLossStop > 0 && m.lossesInRow >= m.cfg.ConsecutiveLossStop:
		m.haltLocked(fmt.Sprintf("%d consecutive losses", m.lossesInRow))
	case m.cfg.ConsecutiveLossLimit > 0 && m.lossesInRow >= m.cfg.ConsecutiveLossLimit:
		m.cooldownUntil = m.clock.Now().Add(m.cfg.CooldownAfterLosses)
		m.logger.Warn().
			Int("losses_in_row", m.lossesInRow).
			Time("until", m.cooldownUntil).
			Msg("Loss cooldown engaged")
	}
}

// AddExposure books premium deployed into an open position.
func (m *Manager) AddExposure(amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exposure += amount
}

// ReleaseExposure books premium returned by a closed position.
func (m *Manager) ReleaseExposure(amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exposure -= amount
	if m.exposure < 0 {
		m.exposure = 0
	}
}

// Halt trips the circuit breaker manually.
func (m *Manager) Halt(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.haltLocked(reason)
}

func (m *Manager) haltLocked(reason string) {
	if m.halted {
		return
	}
	m.halted = true
	m.haltReason = reason
	observ.SetHalted(true)
	logging.LogHalt(m.logger, reason, m.dailyPnL)
}

// Resume lifts a halt. Manual override only; the daily tallies are kept.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
	m.haltReason = ""
	m.cooldownUntil = time.Time{}
	observ.SetHalted(false)
	m.logger.Info().Msg("Trading resumed manually")
}

// Halted reports the circuit breaker state.
func (m *Manager) Halted() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted, m.haltReason
}

// ResetDay clears the daily tallies at the start of a new session.
func (m *Manager) ResetDay() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL = 0
	m.tradesToday = 0
	m.exposure = 0
	m.lossesInRow = 0
	m.halted = false
	m.haltReason = ""
	m.cooldownUntil = time.Time{}
	m.history = nil
	observ.SetDailyPnL(0)
	observ.SetHalted(false)
	m.logger.Info().Msg("Daily risk statistics reset")
}

// DailyPnL returns the running daily profit and loss.
func (m *Manager) DailyPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyPnL
}

// GetMetrics returns a snapshot of the risk state.
func (m *Manager) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	remaining := m.cfg.MaxTradesPerDay - m.tradesToday
	if remaining < 0 {
		remaining = 0
	}
	capacity := m.maxLoss + m.dailyPnL
	if capacity < 0 {
		capacity = 0
	}
	return Metrics{
		DailyPnL:          m.dailyPnL,
		TradesToday:       m.tradesToday,
		Exposure:          m.exposure,
		LossesInRow:       m.lossesInRow,
		Halted:            m.halted,
		HaltReason:        m.haltReason,
		CooldownUntil:     m.cooldownUntil,
		MaxDailyLoss:      m.maxLoss,
		RemainingTrades:   remaining,
		RemainingCapacity: capacity,
	}
}

// History returns the recorded trade results for the day.
func (m *Manager) History() []models.TradeResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TradeResult, len(m.history))
	copy(out, m.history)
	return out
}
