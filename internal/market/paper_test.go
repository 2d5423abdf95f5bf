package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-scalper/internal/models"
)

type quoteProvider struct {
	prices map[string]float64
}

func (q *quoteProvider) FetchGreeks(ctx context.Context, symbol string) (*models.GreeksSnapshot, error) {
	price, ok := q.prices[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return &models.GreeksSnapshot{Symbol: symbol, LTP: price, Timestamp: time.Now()}, nil
}

func (q *quoteProvider) FetchChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChainSnapshot, error) {
	return nil, errors.New("not implemented")
}

func (q *quoteProvider) FetchSpot(ctx context.Context, underlying string) (float64, error) {
	return 0, errors.New("not implemented")
}

func TestPaperExecutorFillsMarketOrderWithSlippage(t *testing.T) {
	provider := &quoteProvider{prices: map[string]float64{"NIFTY24000CE": 100}}
	exec := NewPaperExecutor(provider, nil, 100000, 0.001)

	result, err := exec.PlaceOrder(context.Background(), Order{
		Symbol:   "NIFTY24000CE",
		Side:     SideBuy,
		Quantity: 75,
	})
	require.NoError(t, err)

	assert.Equal(t, "COMPLETE", result.Status)
	assert.InDelta(t, 100.1, result.FillPrice, 1e-9)
	assert.InDelta(t, 100000-100.1*75, exec.Cash(), 1e-6)
}

func TestPaperExecutorLimitOrderFillsAtLimit(t *testing.T) {
	provider := &quoteProvider{prices: map[string]float64{"NIFTY24000CE": 100}}
	exec := NewPaperExecutor(provider, nil, 100000, 0.001)

	result, err := exec.PlaceOrder(context.Background(), Order{
		Symbol:   "NIFTY24000CE",
		Side:     SideSell,
		Quantity: 75,
		Price:    101.5,
	})
	require.NoError(t, err)
	assert.InDelta(t, 101.5, result.FillPrice, 1e-9)
}

func TestPaperExecutorRejectsWhenUnderfunded(t *testing.T) {
	provider := &quoteProvider{prices: map[string]float64{"NIFTY24000CE": 100}}
	exec := NewPaperExecutor(provider, nil, 1000, 0)

	_, err := exec.PlaceOrder(context.Background(), Order{
		Symbol:   "NIFTY24000CE",
		Side:     SideBuy,
		Quantity: 75,
	})
	assert.ErrorContains(t, err, "insufficient funds")
	assert.InDelta(t, 1000, exec.Cash(), 1e-9)
}

func TestPaperExecutorMultiLegUnwindsOnRejection(t *testing.T) {
	provider := &quoteProvider{prices: map[string]float64{"NIFTY24000CE": 100}}
	exec := NewPaperExecutor(provider, nil, 100000, 0)

	_, err := exec.PlaceMultiLegOrder(context.Background(), []Order{
		{Symbol: "NIFTY24000CE", Side: SideBuy, Quantity: 75},
		{Symbol: "NIFTY24000PE", Side: SideBuy, Quantity: 75},
	})
	require.Error(t, err)

	// The filled first leg is unwound at its fill price.
	assert.InDelta(t, 100000, exec.Cash(), 1e-6)
	assert.Len(t, exec.Orders(), 2)
}

func TestPaperExecutorCancelUnknownOrder(t *testing.T) {
	provider := &quoteProvider{prices: map[string]float64{}}
	exec := NewPaperExecutor(provider, nil, 100000, 0)

	err := exec.CancelOrder(context.Background(), "PAPER_0_99")
	assert.ErrorContains(t, err, "order not found")
}
