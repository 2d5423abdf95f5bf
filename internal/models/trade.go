package models

import "time"

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	TradeOpen         TradeStatus = "OPEN"
	TradeClosedProfit TradeStatus = "CLOSED_PROFIT"
	TradeClosedLoss   TradeStatus = "CLOSED_LOSS"
	TradeClosedFlat   TradeStatus = "CLOSED"
)

// ExitReason identifies which exit trigger closed a trade.
type ExitReason string

const (
	ExitExpiryTimeProfit ExitReason = "expiry_time_profit_exit"
	ExitExpiryTimeForced ExitReason = "expiry_time_forced_exit"
	ExitExpiryTarget     ExitReason = "expiry_time_target"
	ExitHardSL           ExitReason = "hard_sl_hit"
	ExitTarget           ExitReason = "target_hit"
	ExitDeltaWeakness    ExitReason = "delta_weakness"
	ExitGammaRollover    ExitReason = "gamma_rollover"
	ExitThetaDamage      ExitReason = "theta_damage"
	ExitIVCrush          ExitReason = "iv_crush"
	ExitOIPriceMismatch  ExitReason = "oi_price_mismatch"
	ExitManual           ExitReason = "manual"
	ExitShutdown         ExitReason = "strategy_stop"
)

// EntryGreeks is the frozen Greeks baseline captured at entry time.
type EntryGreeks struct {
	Delta float64
	Gamma float64
	Theta float64
	IV    float64
}

// Trade is a single option scalp owned by the trade manager. It is mutated
// in place on every update while open and becomes immutable once closed.
type Trade struct {
	ID           string
	Symbol       string
	EntryTime    time.Time
	ExitTime     time.Time
	Type         OptionType
	Strike       float64
	EntryPrice   float64
	CurrentPrice float64
	Quantity     int
	Entry        EntryGreeks
	StopPrice    float64
	TargetPrice  float64
	Status       TradeStatus
	ExitReason   ExitReason
	PnL          float64
	PnLPercent   float64
	TimeInTrade  time.Duration
}

// IsOpen reports whether the trade is still active.
func (t *Trade) IsOpen() bool {
	return t.Status == TradeOpen
}

// EntryContext is the entry engine's proposal, consumed once by sizing and
// execution. A copy is retained in the entry history for diagnostics.
type EntryContext struct {
	Type       OptionType
	Strike     float64
	EntryPrice float64
	Greeks     GreeksSnapshot
	Signals    []string
	Confidence float64
	Timestamp  time.Time
}

// PositionSize is the sizing engine's pure-value result.
type PositionSize struct {
	Quantity         int
	LotSize          int
	Lots             float64
	CapitalAllocated float64
	MaxLossAmount    float64
	StopLossPercent  float64
	StopPrice        float64
	TargetPrice      float64
	RiskReward       float64
	Valid            bool
	RejectionReason  string
}

// TradeResult is what the risk manager records after a trade closes.
type TradeResult struct {
	TradeID    string
	PnL        float64
	Quantity   int
	RiskAmount float64
	ExitReason ExitReason
	ClosedAt   time.Time
}

// TradeStats summarises closed trades.
type TradeStats struct {
	Total    int
	Wins     int
	Losses   int
	WinRate  float64
	TotalPnL float64
	AvgPnL   float64
}
