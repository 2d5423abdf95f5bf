// Package models provides domain models for the scalping engine.
package models

import (
	"fmt"
	"time"
)

// OptionType represents the side of an option contract.
type OptionType string

const (
	OptionTypeCall OptionType = "CE"
	OptionTypePut  OptionType = "PE"
)

// BiasState represents the directional trading permission.
type BiasState string

const (
	BiasBullish BiasState = "BULLISH"
	BiasBearish BiasState = "BEARISH"
	BiasNoTrade BiasState = "NO_TRADE"
	BiasUnknown BiasState = "UNKNOWN"
)

// MarketStructure classifies the recent price pattern.
type MarketStructure string

const (
	StructureHigherHighs MarketStructure = "HH-HL"
	StructureLowerLows   MarketStructure = "LL-LH"
	StructureSideways    MarketStructure = "SIDEWAYS"
	StructureUnknown     MarketStructure = "UNKNOWN"
)

// GreeksSnapshot is a point-in-time sample of option Greeks and quote data.
// Snapshots are immutable once created; the cache hands out copies.
type GreeksSnapshot struct {
	Symbol    string
	Timestamp time.Time
	Delta     float64
	Gamma     float64
	Theta     float64
	Vega      float64
	IV        float64
	LTP       float64
	Bid       float64
	Ask       float64
	Volume    int64
	OI        int64
	OIChange  float64
}

// Age returns the snapshot age relative to now.
func (g GreeksSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(g.Timestamp)
}

// IsStale reports whether the snapshot is older than maxAge.
func (g GreeksSnapshot) IsStale(now time.Time, maxAge time.Duration) bool {
	return g.Age(now) > maxAge
}

// Spread returns the absolute bid-ask spread, or 0 if the book is one-sided.
func (g GreeksSnapshot) Spread() float64 {
	if g.Bid <= 0 || g.Ask <= 0 {
		return 0
	}
	return g.Ask - g.Bid
}

// SpreadPercent returns the bid-ask spread as a percentage of LTP.
// Returns a sentinel of 999 when LTP is zero so callers fail the spread gate.
func (g GreeksSnapshot) SpreadPercent() float64 {
	if g.LTP <= 0 {
		return 999.0
	}
	return g.Spread() / g.LTP * 100
}

// HasQuote reports whether bid, ask and last price are all present.
func (g GreeksSnapshot) HasQuote() bool {
	return g.Bid > 0 && g.Ask > 0 && g.LTP > 0
}

// OptionChainSnapshot is a coarse multi-strike sample for one underlying/expiry.
type OptionChainSnapshot struct {
	Underlying string
	ExpiryDate time.Time
	Timestamp  time.Time
	Strikes    map[string]StrikeQuote
	ATMStrike  float64
}

// IsStale reports whether the chain snapshot is older than maxAge.
func (c OptionChainSnapshot) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(c.Timestamp) > maxAge
}

// StrikeQuote is per-strike data carried inside a chain snapshot and fed to
// the strike selector.
type StrikeQuote struct {
	Symbol     string
	Strike     float64
	Type       OptionType
	LTP        float64
	Bid        float64
	Ask        float64
	Volume     int64
	OI         int64
	OIChange   float64
	Delta      float64
	Gamma      float64
	Theta      float64
	Vega       float64
	IV         float64
	Underlying float64
	Timestamp  time.Time
}

// SpreadPercent returns the bid-ask spread as a percentage of LTP.
func (s StrikeQuote) SpreadPercent() float64 {
	if s.LTP <= 0 || s.Bid <= 0 || s.Ask <= 0 {
		return 999.0
	}
	return (s.Ask - s.Bid) / s.LTP * 100
}

// TrapType enumerates the manipulation patterns the trap detector recognises.
type TrapType string

const (
	TrapOINoPremiumRise    TrapType = "OI_NO_PREMIUM_RISE"
	TrapPremiumNoOI        TrapType = "PREMIUM_NO_OI"
	TrapOISpikeNoFollow    TrapType = "OI_SPIKE_NO_FOLLOW"
	TrapIVCrush            TrapType = "IV_DROP_CRUSH"
	TrapChoppyHighIV       TrapType = "IV_CHOPPY_UNDERLYING"
	TrapSpreadWidening     TrapType = "SPREAD_WIDENING"
	TrapLiquidityDrop      TrapType = "LIQUIDITY_EVAPORATION"
	TrapDeltaSpikeCollapse TrapType = "DELTA_SPIKE_COLLAPSE"
)

// TrapSignal is a single detection from the trap engine.
type TrapSignal struct {
	Type        TrapType
	Severity    float64 // 0-100
	Description string
	Timestamp   time.Time
	Snapshot    map[string]float64
}

// ExpiryInfo describes one expiry date for an underlying.
type ExpiryInfo struct {
	Date         time.Time
	Label        string // e.g. "30DEC25"
	DaysToExpiry int
	IsExpiryDay  bool
	IsExpiryWeek bool
}

// ExpiryTier buckets days-to-expiry into risk regimes.
type ExpiryTier string

const (
	TierNormal     ExpiryTier = "NORMAL"
	TierExpiryWeek ExpiryTier = "EXPIRY_WEEK"
	TierLastDay    ExpiryTier = "LAST_DAY"
	TierExpiryDay  ExpiryTier = "EXPIRY_DAY"
)

// RuleBundle carries the expiry-adjusted trading parameters consumed by
// sizing and the exit waterfall. The zero value means "no bundle".
type RuleBundle struct {
	Tier                 ExpiryTier
	PositionSizeFactor   float64
	RiskPercent          float64 // fraction of capital, e.g. 0.02 = 2%
	HardSLPercent        float64
	MinTimeInTrade       time.Duration
	MaxTimeInTrade       time.Duration
	EntryFrequencyFactor float64
	GammaExitSensitivity float64
}

// Active reports whether the bundle carries expiry-tightened rules.
func (r RuleBundle) Active() bool {
	return r.Tier != "" && r.Tier != TierNormal
}

// OptionSymbol builds a broker order symbol, e.g. "NIFTY24000CE30DEC25".
func OptionSymbol(underlying string, strike float64, otype OptionType, expiryLabel string) string {
	return fmt.Sprintf("%s%.0f%s%s", underlying, strike, otype, expiryLabel)
}
