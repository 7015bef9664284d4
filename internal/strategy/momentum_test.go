package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/oddslab/tradegate/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func momentumConfig() Config {
	return Config{
		StrategyID:   "momo-1",
		Type:         TypeMomentum,
		Enabled:      true,
		MinEdge:      2,
		MaxSpread:    10,
		MinLiquidity: 100,
		Params:       `{"target_bias": 10, "order_size": 25, "signal_ttl_minutes": 15}`,
	}
}

func momentumQuote() types.MarketQuote {
	return types.MarketQuote{
		MarketID:  "mkt-1",
		Ticker:    "EXT-1",
		Category:  "economics",
		YesBid:    45,
		YesAsk:    48,
		Liquidity: 1000,
	}
}

func TestMomentumEmitsSignalWithEdge(t *testing.T) {
	factory := NewMomentumFactory()
	strat, err := factory(momentumConfig())
	require.NoError(t, err)

	asOf := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rc := types.RunContext{Markets: []types.MarketQuote{momentumQuote()}, AsOf: asOf}

	signals, err := strat.GenerateSignals(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, "momo-1", sig.StrategyID)
	assert.Equal(t, types.SideYes, sig.Side)
	assert.Equal(t, types.SignalTypeEntry, sig.SignalType)
	// mid 46.5 + bias 10 = 56.5 target; edge over the 48 ask is 8.5.
	assert.InDelta(t, 56.5, sig.TargetPrice, 1e-9)
	assert.InDelta(t, 8.5, sig.Edge, 1e-9)
	assert.InDelta(t, 48, sig.CurrentPrice, 1e-9)
	assert.InDelta(t, 25, sig.Quantity, 1e-9)
	assert.True(t, sig.Confidence > 0.5 && sig.Confidence <= 0.99)
	require.NotNil(t, sig.ExpiresAt)
	assert.Equal(t, asOf.Add(15*time.Minute), *sig.ExpiresAt)
}

func TestMomentumFiltersMarkets(t *testing.T) {
	factory := NewMomentumFactory()

	cfg := momentumConfig()
	cfg.BlockedCategories = `["economics"]`
	strat, err := factory(cfg)
	require.NoError(t, err)

	rc := types.RunContext{Markets: []types.MarketQuote{momentumQuote()}}
	signals, err := strat.GenerateSignals(context.Background(), rc)
	require.NoError(t, err)
	assert.Empty(t, signals)

	// Wide spreads are skipped.
	wide := momentumQuote()
	wide.YesBid = 30
	wide.YesAsk = 48
	strat, err = factory(momentumConfig())
	require.NoError(t, err)
	signals, err = strat.GenerateSignals(context.Background(), types.RunContext{Markets: []types.MarketQuote{wide}})
	require.NoError(t, err)
	assert.Empty(t, signals)

	// Illiquid markets are skipped.
	thin := momentumQuote()
	thin.Liquidity = 10
	signals, err = strat.GenerateSignals(context.Background(), types.RunContext{Markets: []types.MarketQuote{thin}})
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestMomentumSkipsThinEdge(t *testing.T) {
	factory := NewMomentumFactory()

	cfg := momentumConfig()
	cfg.Params = `{"target_bias": 1}`
	strat, err := factory(cfg)
	require.NoError(t, err)

	// mid 46.5 + bias 1 = 47.5 target; edge over the 48 ask is negative.
	rc := types.RunContext{Markets: []types.MarketQuote{momentumQuote()}}
	signals, err := strat.GenerateSignals(context.Background(), rc)
	require.NoError(t, err)
	assert.Empty(t, signals)
}
