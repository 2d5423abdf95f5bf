// Package market provides market data and execution interfaces.
package market

import (
	"context"
	"time"

	"nifty-scalper/internal/models"
)

// GreeksProvider fetches option Greeks and quotes from the upstream source.
type GreeksProvider interface {
	// FetchGreeks fetches a fresh Greeks snapshot for a single option symbol.
	FetchGreeks(ctx context.Context, symbol string) (*models.GreeksSnapshot, error)

	// FetchChain fetches the option chain for the underlying at the given expiry.
	FetchChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChainSnapshot, error)

	// FetchSpot fetches the underlying spot price.
	FetchSpot(ctx context.Context, underlying string) (float64, error)
}

// ExpirySource lists available option expiries for an underlying.
type ExpirySource interface {
	FetchExpiries(ctx context.Context, underlying string) ([]time.Time, error)
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Order is a single-leg option order.
type Order struct {
	Symbol   string
	Side     OrderSide
	Quantity int
	Price    float64 // 0 means market
	Product  string
	Tag      string
}

// OrderResult represents the outcome of an order placement.
type OrderResult struct {
	OrderID   string
	Status    string
	FillPrice float64
	Message   string
}

// Executor places orders against the broker.
type Executor interface {
	// PlaceOrder places a single-leg order.
	PlaceOrder(ctx context.Context, order Order) (*OrderResult, error)

	// PlaceMultiLegOrder places all legs atomically: if any leg is rejected,
	// previously placed legs are unwound and an error is returned.
	PlaceMultiLegOrder(ctx context.Context, orders []Order) ([]*OrderResult, error)

	// CancelOrder cancels a pending order.
	CancelOrder(ctx context.Context, orderID string) error
}

// Clock abstracts time so the engine can run against replayed data.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock {
	return ClockFunc(time.Now)
}
