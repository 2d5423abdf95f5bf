package market

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"nifty-scalper/internal/models"
)

// SimProvider implements GreeksProvider, ExpirySource and Executor against a
// seeded random walk. It is deterministic for a given seed and clock, which
// makes it usable both for paper trading and for replay tests.
type SimProvider struct {
	clock Clock
	rng   *rand.Rand

	spot       float64
	strikeStep float64
	lotSize    int

	// per-symbol simulated state
	symbols map[string]*simOption

	orderCounter int

	mu sync.Mutex
}

type simOption struct {
	strike float64
	otype  models.OptionType
	ltp    float64
	iv     float64
	oi     int64
	prevOI int64
	volume int64
}

// SimConfig holds simulator parameters.
type SimConfig struct {
	Seed       int64
	Spot       float64
	StrikeStep float64
	LotSize    int
	Clock      Clock
}

// NewSimProvider creates a deterministic simulated market.
func NewSimProvider(cfg SimConfig) *SimProvider {
	if cfg.Spot == 0 {
		cfg.Spot = 24000
	}
	if cfg.StrikeStep == 0 {
		cfg.StrikeStep = 50
	}
	if cfg.LotSize == 0 {
		cfg.LotSize = 75
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	return &SimProvider{
		clock:      cfg.Clock,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		spot:       cfg.Spot,
		strikeStep: cfg.StrikeStep,
		lotSize:    cfg.LotSize,
		symbols:    make(map[string]*simOption),
	}
}

// Step advances the simulated spot by one tick.
func (s *SimProvider) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spot += s.rng.NormFloat64() * s.strikeStep * 0.08
	for _, opt := range s.symbols {
		s.reprice(opt)
	}
}

// SetSpot forces the simulated spot, used by replay drivers.
func (s *SimProvider) SetSpot(spot float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spot = spot
	for _, opt := range s.symbols {
		s.reprice(opt)
	}
}

func (s *SimProvider) reprice(opt *simOption) {
	intrinsic := 0.0
	switch opt.otype {
	case models.OptionTypeCall:
		intrinsic = math.Max(0, s.spot-opt.strike)
	case models.OptionTypePut:
		intrinsic = math.Max(0, opt.strike-s.spot)
	}
	timeValue := s.strikeStep * (opt.iv / 25.0)
	opt.ltp = intrinsic + timeValue + s.rng.Float64()*2
	opt.prevOI = opt.oi
	opt.oi += int64(s.rng.Intn(400) - 150)
	if opt.oi < 0 {
		opt.oi = 0
	}
	opt.volume += int64(s.rng.Intn(200))
}

func (s *SimProvider) ensureSymbol(symbol string) *simOption {
	opt, ok := s.symbols[symbol]
	if ok {
		return opt
	}
	strike, otype := parseSimSymbol(symbol, s.spot, s.strikeStep)
	opt = &simOption{
		strike: strike,
		otype:  otype,
		iv:     20 + s.rng.Float64()*15,
		oi:     int64(5000 + s.rng.Intn(20000)),
		volume: int64(500 + s.rng.Intn(2000)),
	}
	s.reprice(opt)
	s.symbols[symbol] = opt
	return opt
}

// parseSimSymbol extracts strike and option type from symbols like
// "NIFTY24000CE" or "NIFTY24000CE25AUG26". Unparseable symbols fall back to
// the ATM strike.
func parseSimSymbol(symbol string, spot, step float64) (float64, models.OptionType) {
	otype := models.OptionTypeCall
	idx := -1
	// The type marker is the CE/PE pair directly after the strike digits;
	// an expiry label may follow it.
	for i := len(symbol) - 2; i > 0; i-- {
		pair := symbol[i : i+2]
		if (pair == "CE" || pair == "PE") && symbol[i-1] >= '0' && symbol[i-1] <= '9' {
			idx = i
			if pair == "PE" {
				otype = models.OptionTypePut
			}
			break
		}
	}

	var strike float64
	if idx > 0 {
		j := idx
		for j > 0 && symbol[j-1] >= '0' && symbol[j-1] <= '9' {
			j--
		}
		fmt.Sscanf(symbol[j:idx], "%f", &strike)
	}
	if strike == 0 {
		strike = math.Round(spot/step) * step
	}
	return strike, otype
}

// greeksFor derives moneyness-driven delta and gamma for an option.
func (s *SimProvider) greeksFor(opt *simOption) (delta, gamma float64) {
	moneyness := (s.spot - opt.strike) / (s.strikeStep * 4)
	delta = 0.5 + 0.4*math.Tanh(moneyness)
	if opt.otype == models.OptionTypePut {
		delta = delta - 1
	}
	gamma = 0.004 * math.Exp(-moneyness*moneyness)
	return delta, gamma
}

// FetchGreeks returns a snapshot for the simulated option.
func (s *SimProvider) FetchGreeks(ctx context.Context, symbol string) (*models.GreeksSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	opt := s.ensureSymbol(symbol)
	delta, gamma := s.greeksFor(opt)
	spread := opt.ltp * (0.002 + s.rng.Float64()*0.006)

	return &models.GreeksSnapshot{
		Symbol:    symbol,
		Timestamp: s.clock.Now(),
		Delta:     delta,
		Gamma:     gamma,
		Theta:     -0.03 - s.rng.Float64()*0.04,
		Vega:      0.02 + s.rng.Float64()*0.03,
		IV:        opt.iv,
		LTP:       opt.ltp,
		Bid:       opt.ltp - spread/2,
		Ask:       opt.ltp + spread/2,
		Volume:    opt.volume,
		OI:        opt.oi,
		OIChange:  float64(opt.oi - opt.prevOI),
	}, nil
}

// FetchChain returns a chain of strikes around the simulated ATM.
func (s *SimProvider) FetchChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChainSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	atm := math.Round(s.spot/s.strikeStep) * s.strikeStep
	chain := &models.OptionChainSnapshot{
		Underlying: underlying,
		ExpiryDate: expiry,
		Timestamp:  s.clock.Now(),
		Strikes:    make(map[string]models.StrikeQuote),
		ATMStrike:  atm,
	}
	for i := -5; i <= 5; i++ {
		strike := atm + float64(i)*s.strikeStep
		for _, ot := range []models.OptionType{models.OptionTypeCall, models.OptionTypePut} {
			symbol := fmt.Sprintf("%s%.0f%s", underlying, strike, ot)
			opt := s.ensureSymbol(symbol)
			delta, gamma := s.greeksFor(opt)
			spread := opt.ltp * 0.005
			chain.Strikes[symbol] = models.StrikeQuote{
				Symbol:    symbol,
				Strike:    strike,
				Type:      ot,
				LTP:       opt.ltp,
				Bid:       opt.ltp - spread/2,
				Ask:       opt.ltp + spread/2,
				Volume:    opt.volume,
				OI:        opt.oi,
				OIChange:  float64(opt.oi - opt.prevOI),
				Delta:     delta,
				Gamma:     gamma,
				Theta:     -0.03 - s.rng.Float64()*0.04,
				Vega:      0.02 + s.rng.Float64()*0.03,
				IV:        opt.iv,
				Timestamp: s.clock.Now(),
			}
		}
	}
	return chain, nil
}

// FetchSpot returns the simulated spot price.
func (s *SimProvider) FetchSpot(ctx context.Context, underlying string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spot, nil
}

// FetchExpiries returns the next four weekly Tuesday expiries.
func (s *SimProvider) FetchExpiries(ctx context.Context, underlying string) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	var expiries []time.Time
	d := now
	for len(expiries) < 4 {
		if d.Weekday() == time.Tuesday && (d.After(now) || sameDay(d, now)) {
			expiries = append(expiries, time.Date(d.Year(), d.Month(), d.Day(), 15, 30, 0, 0, d.Location()))
		}
		d = d.AddDate(0, 0, 1)
	}
	return expiries, nil
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// PlaceOrder fills immediately at the simulated LTP.
func (s *SimProvider) PlaceOrder(ctx context.Context, order Order) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.Quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %d", order.Quantity)
	}
	if order.Quantity%s.lotSize != 0 {
		return nil, fmt.Errorf("quantity %d not a multiple of lot size %d", order.Quantity, s.lotSize)
	}
	opt := s.ensureSymbol(order.Symbol)
	s.orderCounter++
	price := order.Price
	if price == 0 {
		price = opt.ltp
	}
	return &OrderResult{
		OrderID:   fmt.Sprintf("SIM-%06d", s.orderCounter),
		Status:    "COMPLETE",
		FillPrice: price,
	}, nil
}

// PlaceMultiLegOrder places all legs; the simulator fills every valid leg, so
// it validates all legs before filling any.
func (s *SimProvider) PlaceMultiLegOrder(ctx context.Context, orders []Order) ([]*OrderResult, error) {
	for _, o := range orders {
		if o.Quantity <= 0 || o.Quantity%s.lotSize != 0 {
			return nil, fmt.Errorf("leg %s: invalid quantity %d", o.Symbol, o.Quantity)
		}
	}
	results := make([]*OrderResult, 0, len(orders))
	for _, o := range orders {
		res, err := s.PlaceOrder(ctx, o)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// CancelOrder is a no-op: simulated fills are immediate.
func (s *SimProvider) CancelOrder(ctx context.Context, orderID string) error {
	return nil
}
