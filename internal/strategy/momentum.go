package strategy

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/oddslab/tradegate/internal/events"
	"github.com/oddslab/tradegate/internal/types"
	"github.com/rs/zerolog/log"
)

// TypeMomentum is the strategy type string for the built-in momentum
// strategy.
const TypeMomentum = "momentum"

// Momentum is a simple built-in strategy: it projects a target price from
// the mid plus a configured bias and emits a YES entry signal when the edge
// over the ask clears the configured minimum. It is the default strategy of
// the simulation binary and exercises the whole admission pipeline.
type Momentum struct {
	cfg       Config
	lastQuote map[string]types.MarketQuote
}

// NewMomentumFactory returns the factory for the momentum strategy type.
func NewMomentumFactory() Factory {
	return func(cfg Config) (Strategy, error) {
		return &Momentum{
			cfg:       cfg,
			lastQuote: make(map[string]types.MarketQuote),
		}, nil
	}
}

func (m *Momentum) ID() string   { return m.cfg.StrategyID }
func (m *Momentum) Type() string { return TypeMomentum }

// GenerateSignals scans the run context for markets whose projected target
// clears the entry ask by at least the configured edge.
func (m *Momentum) GenerateSignals(ctx context.Context, rc types.RunContext) ([]types.Signal, error) {
	targetBias := m.cfg.ParamFloat("target_bias", 5)
	orderSize := m.cfg.ParamFloat("order_size", 10)
	signalTTL := time.Duration(m.cfg.ParamFloat("signal_ttl_minutes", 15)) * time.Minute

	var signals []types.Signal

	for _, quote := range rc.Markets {
		select {
		case <-ctx.Done():
			return signals, ctx.Err()
		default:
		}

		if !m.cfg.CategoryAllowed(quote.Category) {
			continue
		}

		spread := quote.YesAsk - quote.YesBid
		if m.cfg.MaxSpread > 0 && spread > m.cfg.MaxSpread {
			continue
		}
		if m.cfg.MinLiquidity > 0 && quote.Liquidity < m.cfg.MinLiquidity {
			continue
		}

		mid := (quote.YesBid + quote.YesAsk) / 2
		target := mid + targetBias
		edge := target - quote.YesAsk
		if edge < m.cfg.MinEdge {
			continue
		}

		// Confidence scales with how far the edge clears the minimum.
		confidence := math.Min(0.5+edge/(2*math.Max(m.cfg.MinEdge, 1)), 0.99)

		expires := rc.AsOf.Add(signalTTL)
		signals = append(signals, types.Signal{
			SignalID:     uuid.New().String(),
			StrategyID:   m.cfg.StrategyID,
			MarketID:     quote.MarketID,
			Ticker:       quote.Ticker,
			SignalType:   types.SignalTypeEntry,
			Side:         types.SideYes,
			Strength:     edge / math.Max(spread, 1),
			Confidence:   confidence,
			TargetPrice:  target,
			CurrentPrice: quote.YesAsk,
			Quantity:     orderSize,
			Edge:         edge,
			Status:       types.SignalStatusPending,
			ExpiresAt:    &expires,
		})
	}

	return signals, nil
}

// OnEvent tracks market updates for future runs and logs fills.
func (m *Momentum) OnEvent(event events.Event) {
	switch ev := event.(type) {
	case events.MarketUpdate:
		m.lastQuote[ev.MarketID] = types.MarketQuote{
			MarketID: ev.MarketID,
			YesBid:   ev.YesBid,
			YesAsk:   ev.YesAsk,
		}
	case events.OrderFilled:
		log.Debug().
			Str("strategy_id", m.cfg.StrategyID).
			Str("order_id", ev.OrderID).
			Float64("filled", ev.FilledQty).
			Msg("momentum strategy observed fill")
	case events.OrderRejected:
		log.Debug().
			Str("strategy_id", m.cfg.StrategyID).
			Str("signal_id", ev.SignalID).
			Str("error", ev.Error).
			Msg("momentum strategy observed rejection")
	}
}
