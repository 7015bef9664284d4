package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oddslab/tradegate/internal/types"
	"github.com/rs/zerolog/log"
)

// Simulated is an order submitter and quote source backed by a random
// model of a prediction-market venue. It stands in for the real exchange
// client in the simulation binary and local runs: latency, partial fills
// and outright failures are all produced here so the admission pipeline's
// failure handling gets exercised.
type Simulated struct {
	mu      sync.Mutex
	rng     *rand.Rand
	quotes  map[string]types.MarketQuote
	markets []types.MarketQuote

	MinLatency      time.Duration
	MaxLatency      time.Duration
	SuccessRate     float64 // 0-1, probability of successful submission
	LiquidityFactor float64 // 0-1, fraction of quantity filled on thin books
}

// NewSimulated creates a simulated exchange seeded with the given markets.
func NewSimulated(seed int64, markets []types.MarketQuote) *Simulated {
	quotes := make(map[string]types.MarketQuote, len(markets))
	for _, m := range markets {
		quotes[m.MarketID] = m
	}
	return &Simulated{
		rng:             rand.New(rand.NewSource(seed)),
		quotes:          quotes,
		markets:         markets,
		MinLatency:      5 * time.Millisecond,
		MaxLatency:      50 * time.Millisecond,
		SuccessRate:     0.95,
		LiquidityFactor: 0.8,
	}
}

// SubmitOrder simulates order submission: random latency, a failure rate,
// and liquidity-limited fills.
func (s *Simulated) SubmitOrder(ctx context.Context, intent types.OrderIntent) (*types.SubmitResult, error) {
	logger := log.With().
		Str("market_id", intent.MarketID).
		Str("side", string(intent.Side)).
		Float64("quantity", intent.Quantity).
		Float64("price", intent.Price).
		Str("component", "simulated_exchange").
		Logger()

	logger.Debug().Msg("submitting order")

	s.mu.Lock()
	latency := s.MinLatency + time.Duration(s.rng.Int63n(int64(s.MaxLatency-s.MinLatency)+1))
	success := s.rng.Float64() <= s.SuccessRate
	liquidityRoll := s.rng.Float64()
	variance := 1 + (s.rng.Float64()*0.04 - 0.02)
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(latency):
	}

	if !success {
		logger.Warn().Msg("simulated submission failure")
		return nil, fmt.Errorf("exchange rejected order for market %s", intent.MarketID)
	}

	filled := intent.Quantity
	if liquidityRoll > s.LiquidityFactor {
		filled = intent.Quantity * s.LiquidityFactor
		if filled <= 0 {
			return nil, fmt.Errorf("insufficient liquidity in market %s", intent.MarketID)
		}
	}

	price := intent.Price
	if intent.OrderType == types.OrderTypeMarket {
		price = intent.Price * variance
	}

	result := &types.SubmitResult{
		OrderID:      fmt.Sprintf("EX-%d", s.rng.Int63()),
		FilledQty:    filled,
		AvgFillPrice: price,
	}

	logger.Debug().
		Str("exchange_order_id", result.OrderID).
		Float64("filled", result.FilledQty).
		Float64("avg_price", result.AvgFillPrice).
		Msg("order filled")

	return result, nil
}

// Snapshot returns the current simulated quotes, random-walking each market
// a little on every call.
func (s *Simulated) Snapshot(ctx context.Context) (types.RunContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	markets := make([]types.MarketQuote, 0, len(s.markets))
	for _, m := range s.markets {
		quote := s.quotes[m.MarketID]

		drift := s.rng.Float64()*4 - 2
		quote.YesBid = clampPrice(quote.YesBid + drift)
		quote.YesAsk = clampPrice(quote.YesBid + 2 + s.rng.Float64()*3)

		s.quotes[m.MarketID] = quote
		markets = append(markets, quote)
	}

	return types.RunContext{Markets: markets, AsOf: time.Now()}, nil
}

func clampPrice(p float64) float64 {
	if p < 1 {
		return 1
	}
	if p > 99 {
		return 99
	}
	return p
}
