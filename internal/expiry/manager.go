// Package expiry tracks the active weekly expiry and the rule adjustments
// that tighten trading as expiry approaches.
package expiry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nifty-scalper/internal/config"
	scalperrors "nifty-scalper/internal/errors"
	"nifty-scalper/internal/market"
	"nifty-scalper/internal/models"
)

// Manager selects the nearest weekly expiry and maps days-to-expiry onto a
// rule bundle. When the upstream source fails it falls back to a calculated
// weekly calendar.
type Manager struct {
	cfg    config.ExpiryConfig
	source market.ExpirySource
	clock  market.Clock
	logger zerolog.Logger

	mu        sync.RWMutex
	available []models.ExpiryInfo
	current   *models.ExpiryInfo
}

// NewManager creates an expiry manager. source may be nil, in which case the
// calculated calendar is always used.
func NewManager(cfg config.ExpiryConfig, source market.ExpirySource, clock market.Clock, logger zerolog.Logger) *Manager {
	if clock == nil {
		clock = market.SystemClock()
	}
	return &Manager{
		cfg:    cfg,
		source: source,
		clock:  clock,
		logger: logger.With().Str("component", "expiry").Logger(),
	}
}

// Refresh fetches available expiries and selects the nearest weekly one.
func (m *Manager) Refresh(ctx context.Context, underlying string) error {
	now := m.clock.Now()
	var dates []time.Time
	var err error
	if m.source != nil {
		dates, err = m.source.FetchExpiries(ctx, underlying)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Expiry fetch failed, using calculated calendar")
		}
	}
	if len(dates) == 0 {
		dates = m.defaultCalendar(now)
	}

	infos := make([]models.ExpiryInfo, 0, len(dates))
	for _, d := range dates {
		days := daysBetween(now, d)
		if days < 0 {
			continue
		}
		// Expiry day itself only counts until the cutoff.
		if days == 0 && afterCutoff(now, m.cfg) {
			continue
		}
		infos = append(infos, models.ExpiryInfo{
			Date:         d,
			Label:        strings.ToUpper(d.Format("02Jan06")),
			DaysToExpiry: days,
			IsExpiryDay:  days == 0,
			IsExpiryWeek: days <= 3,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].DaysToExpiry < infos[j].DaysToExpiry })

	if len(infos) == 0 {
		return scalperrors.ErrNoExpiry
	}

	m.mu.Lock()
	m.available = infos
	m.current = &infos[0]
	m.mu.Unlock()

	m.logger.Info().
		Str("expiry", infos[0].Label).
		Int("days_to_expiry", infos[0].DaysToExpiry).
		Int("available", len(infos)).
		Msg("Selected expiry")
	return nil
}

// defaultCalendar returns the next four weekly expiries on the configured
// weekday. If today is the expiry weekday and the cutoff has not passed,
// today still counts.
func (m *Manager) defaultCalendar(now time.Time) []time.Time {
	day := now
	var out []time.Time
	for len(out) < 4 {
		if day.Weekday() == m.cfg.WeeklyDay {
			sameDay := day.Year() == now.Year() && day.YearDay() == now.YearDay()
			if !sameDay || !afterCutoff(now, m.cfg) {
				out = append(out, time.Date(day.Year(), day.Month(), day.Day(),
					m.cfg.CutoffHour, m.cfg.CutoffMinute, 0, 0, now.Location()))
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

func afterCutoff(now time.Time, cfg config.ExpiryConfig) bool {
	h, min := now.Hour(), now.Minute()
	return h > cfg.CutoffHour || (h == cfg.CutoffHour && min >= cfg.CutoffMinute)
}

func daysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, to.Location())
	return int(t.Sub(f).Hours() / 24)
}

// Current returns the selected expiry, or nil before the first Refresh.
func (m *Manager) Current() *models.ExpiryInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Available returns the known expiries sorted nearest first.
func (m *Manager) Available() []models.ExpiryInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ExpiryInfo, len(m.available))
	copy(out, m.available)
	return out
}

// IsExpiryDay reports whether the selected expiry is today.
func (m *Manager) IsExpiryDay() bool {
	cur := m.Current()
	return cur != nil && cur.IsExpiryDay
}

// DaysToExpiry returns days remaining, or -1 before the first Refresh.
func (m *Manager) DaysToExpiry() int {
	cur := m.Current()
	if cur == nil {
		return -1
	}
	return cur.DaysToExpiry
}

// Rules returns the rule bundle for the current expiry proximity.
func (m *Manager) Rules() models.RuleBundle {
	return RulesForDays(m.DaysToExpiry())
}

// RulesForDays maps days-to-expiry onto a rule bundle. Trading tightens in
// steps: expiry day, last day before, expiry week, normal.
func RulesForDays(days int) models.RuleBundle {
	switch {
	case days == 0:
		return models.RuleBundle{
			Tier:                 models.TierExpiryDay,
			PositionSizeFactor:   0.3,
			RiskPercent:          0.005,
			HardSLPercent:        0.03,
			MinTimeInTrade:       20 * time.Second,
			MaxTimeInTrade:       5 * time.Minute,
			EntryFrequencyFactor: 0.2,
			GammaExitSensitivity: 2.0,
		}
	case days == 1:
		return models.RuleBundle{
			Tier:                 models.TierLastDay,
			PositionSizeFactor:   0.5,
			RiskPercent:          0.01,
			HardSLPercent:        0.04,
			MinTimeInTrade:       30 * time.Second,
			MaxTimeInTrade:       10 * time.Minute,
			EntryFrequencyFactor: 0.5,
			GammaExitSensitivity: 1.5,
		}
	case days >= 2 && days <= 3:
		return models.RuleBundle{
			Tier:                 models.TierExpiryWeek,
			PositionSizeFactor:   0.7,
			RiskPercent:          0.015,
			HardSLPercent:        0.05,
			MinTimeInTrade:       30 * time.Second,
			MaxTimeInTrade:       15 * time.Minute,
			EntryFrequencyFactor: 0.8,
			GammaExitSensitivity: 1.2,
		}
	default:
		return models.RuleBundle{
			Tier:                 models.TierNormal,
			PositionSizeFactor:   1.0,
			RiskPercent:          0.02,
			HardSLPercent:        0.06,
			MinTimeInTrade:       0,
			MaxTimeInTrade:       time.Hour,
			EntryFrequencyFactor: 1.0,
			GammaExitSensitivity: 1.0,
		}
	}
}

// OptionSymbol builds the order symbol for a strike against the current
// expiry, e.g. "NIFTY24000CE05AUG25".
func (m *Manager) OptionSymbol(underlying string, strike float64, otype models.OptionType) string {
	cur := m.Current()
	if cur == nil {
		return ""
	}
	return models.OptionSymbol(underlying, strike, otype, cur.Label)
}
