package market

import (
	"context"
	"fmt"
	"sync"
)

// PaperExecutor simulates order execution against live quotes. Market orders
// fill at the quoted price adjusted by slippage; limit orders fill at the
// limit. All state is in memory and cleared on restart.
type PaperExecutor struct {
	provider GreeksProvider
	clock    Clock
	slippage float64 // fraction, applied against the order side

	mu      sync.Mutex
	counter int
	cash    float64
	orders  map[string]*paperOrder
}

type paperOrder struct {
	order  Order
	result OrderResult
}

// NewPaperExecutor creates a paper executor funded with cash. Fill prices
// come from provider when the order carries no limit price.
func NewPaperExecutor(provider GreeksProvider, clock Clock, cash, slippage float64) *PaperExecutor {
	if clock == nil {
		clock = SystemClock()
	}
	return &PaperExecutor{
		provider: provider,
		clock:    clock,
		slippage: slippage,
		cash:     cash,
		orders:   make(map[string]*paperOrder),
	}
}

// PlaceOrder simulates a fill for a single-leg order.
func (p *PaperExecutor) PlaceOrder(ctx context.Context, order Order) (*OrderResult, error) {
	if order.Quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %d for %s", order.Quantity, order.Symbol)
	}

	fillPrice := order.Price
	if fillPrice == 0 {
		snap, err := p.provider.FetchGreeks(ctx, order.Symbol)
		if err != nil {
			return nil, fmt.Errorf("paper fill for %s: %w", order.Symbol, err)
		}
		fillPrice = snap.LTP
		if order.Side == SideBuy {
			fillPrice *= 1 + p.slippage
		} else {
			fillPrice *= 1 - p.slippage
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	orderValue := fillPrice * float64(order.Quantity)
	if order.Side == SideBuy {
		if p.cash < orderValue {
			return nil, fmt.Errorf("insufficient funds: need %.2f, have %.2f", orderValue, p.cash)
		}
		p.cash -= orderValue
	} else {
		p.cash += orderValue
	}

	p.counter++
	result := OrderResult{
		OrderID:   fmt.Sprintf("PAPER_%d_%d", p.clock.Now().Unix(), p.counter),
		Status:    "COMPLETE",
		FillPrice: fillPrice,
		Message:   "Paper order filled",
	}
	p.orders[result.OrderID] = &paperOrder{order: order, result: result}

	return &result, nil
}

// PlaceMultiLegOrder fills all legs or none. A rejected leg unwinds the legs
// already filled by placing the opposite side at the fill price.
func (p *PaperExecutor) PlaceMultiLegOrder(ctx context.Context, orders []Order) ([]*OrderResult, error) {
	results := make([]*OrderResult, 0, len(orders))
	for i, order := range orders {
		result, err := p.PlaceOrder(ctx, order)
		if err != nil {
			for j := i - 1; j >= 0; j-- {
				unwind := orders[j]
				unwind.Side = oppositeSide(unwind.Side)
				unwind.Price = results[j].FillPrice
				p.PlaceOrder(ctx, unwind)
			}
			return nil, fmt.Errorf("leg %d (%s) rejected: %w", i+1, order.Symbol, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// CancelOrder is a no-op: paper orders fill immediately.
func (p *PaperExecutor) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[orderID]; !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	return nil
}

// Cash returns the remaining simulated cash balance.
func (p *PaperExecutor) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// Orders returns all filled orders, for inspection.
func (p *PaperExecutor) Orders() []Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Order, 0, len(p.orders))
	for _, o := range p.orders {
		out = append(out, o.order)
	}
	return out
}

func oppositeSide(side OrderSide) OrderSide {
	if side == SideBuy {
		return SideSell
	}
	return SideBuy
}

var _ Executor = (*PaperExecutor)(nil)
