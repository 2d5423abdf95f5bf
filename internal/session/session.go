// Package session tracks where the current time falls in the NSE intraday
// session and which actions are permitted there.
package session

import (
	"fmt"
	"time"

	"nifty-scalper/internal/config"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// Phase is the current session phase.
type Phase string

const (
	PhaseClosed      Phase = "CLOSED"
	PhasePreOpen     Phase = "PRE_OPEN"
	PhaseNoTradeOpen Phase = "NO_TRADE_OPEN" // opening volatility window, observe only
	PhaseTrading     Phase = "TRADING"
	PhaseLastWindow  Phase = "LAST_WINDOW" // manage open trades, no fresh entries
	PhaseSquareOff   Phase = "SQUARE_OFF"  // flatten everything
)

// Window evaluates the configured session times against a clock reading.
type Window struct {
	start         int // minutes from midnight IST
	end           int
	noTradeFrom   int
	noTradeTo     int
	squareOff     int
	lastWindowMin int
}

// NewWindow parses the configured HH:MM session boundaries.
func NewWindow(cfg config.SessionConfig) (*Window, error) {
	start, err := parseHHMM(cfg.Start)
	if err != nil {
		return nil, fmt.Errorf("invalid session start: %w", err)
	}
	end, err := parseHHMM(cfg.End)
	if err != nil {
		return nil, fmt.Errorf("invalid session end: %w", err)
	}
	noTradeFrom, err := parseHHMM(cfg.NoTradeOpenFrom)
	if err != nil {
		return nil, fmt.Errorf("invalid no-trade-open from: %w", err)
	}
	noTradeTo, err := parseHHMM(cfg.NoTradeOpenTo)
	if err != nil {
		return nil, fmt.Errorf("invalid no-trade-open to: %w", err)
	}
	squareOff, err := parseHHMM(cfg.SquareOff)
	if err != nil {
		return nil, fmt.Errorf("invalid square-off: %w", err)
	}
	if end <= start {
		return nil, fmt.Errorf("session end %s not after start %s", cfg.End, cfg.Start)
	}
	if squareOff > end {
		return nil, fmt.Errorf("square-off %s after session end %s", cfg.SquareOff, cfg.End)
	}
	return &Window{
		start:         start,
		end:           end,
		noTradeFrom:   noTradeFrom,
		noTradeTo:     noTradeTo,
		squareOff:     squareOff,
		lastWindowMin: cfg.NoTradeLastMin,
	}, nil
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// PhaseAt returns the session phase for the given instant.
func (w *Window) PhaseAt(now time.Time) Phase {
	ist := now.In(IndiaLocation)
	if ist.Weekday() == time.Saturday || ist.Weekday() == time.Sunday {
		return PhaseClosed
	}

	minutes := ist.Hour()*60 + ist.Minute()

	switch {
	case minutes < w.start-15:
		return PhaseClosed
	case minutes < w.start:
		return PhasePreOpen
	case minutes >= w.end:
		return PhaseClosed
	case minutes >= w.squareOff:
		return PhaseSquareOff
	case minutes >= w.end-w.lastWindowMin:
		return PhaseLastWindow
	case minutes >= w.noTradeFrom && minutes < w.noTradeTo:
		return PhaseNoTradeOpen
	default:
		return PhaseTrading
	}
}

// CanEnter reports whether fresh entries are allowed at the given instant.
func (w *Window) CanEnter(now time.Time) bool {
	return w.PhaseAt(now) == PhaseTrading
}

// IsOpen reports whether the market session is running at all.
func (w *Window) IsOpen(now time.Time) bool {
	switch w.PhaseAt(now) {
	case PhaseClosed, PhasePreOpen:
		return false
	}
	return true
}

// ShouldSquareOff reports whether all positions must be flattened now.
func (w *Window) ShouldSquareOff(now time.Time) bool {
	return w.PhaseAt(now) == PhaseSquareOff
}

// NextOpen returns the next session start after now, skipping weekends.
func (w *Window) NextOpen(now time.Time) time.Time {
	ist := now.In(IndiaLocation)
	next := time.Date(ist.Year(), ist.Month(), ist.Day(), w.start/60, w.start%60, 0, 0, IndiaLocation)
	if !ist.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// TimeToSquareOff returns the duration until today's square-off.
func (w *Window) TimeToSquareOff(now time.Time) time.Duration {
	ist := now.In(IndiaLocation)
	sq := time.Date(ist.Year(), ist.Month(), ist.Day(), w.squareOff/60, w.squareOff%60, 0, 0, IndiaLocation)
	return sq.Sub(ist)
}
