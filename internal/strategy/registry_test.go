package strategy

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/oddslab/tradegate/internal/events"
	"github.com/oddslab/tradegate/internal/pretrade"
	"github.com/oddslab/tradegate/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore implements ConfigStorage, StateStorage and SignalStorage in
// memory, mirroring the unified gorm Database.
type memoryStore struct {
	configs map[string]Config
	states  map[string]State
	signals map[string]types.Signal
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		configs: make(map[string]Config),
		states:  make(map[string]State),
		signals: make(map[string]types.Signal),
	}
}

func (m *memoryStore) GetConfig(strategyID string) (*Config, error) {
	if cfg, ok := m.configs[strategyID]; ok {
		return &cfg, nil
	}
	return nil, nil
}

func (m *memoryStore) ListConfigs() ([]Config, error) {
	var out []Config
	for _, cfg := range m.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out, nil
}

func (m *memoryStore) ListEnabledConfigs() ([]Config, error) {
	var out []Config
	for _, cfg := range m.configs {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out, nil
}

func (m *memoryStore) UpsertConfig(cfg *Config) error {
	m.configs[cfg.StrategyID] = *cfg
	return nil
}

func (m *memoryStore) DeleteConfig(strategyID string) error {
	delete(m.configs, strategyID)
	return nil
}

func (m *memoryStore) GetState(strategyID string) (*State, error) {
	if state, ok := m.states[strategyID]; ok {
		return &state, nil
	}
	return nil, nil
}

func (m *memoryStore) SaveState(state *State) error {
	m.states[state.StrategyID] = *state
	return nil
}

func (m *memoryStore) ListStates() ([]State, error) {
	var out []State
	for _, state := range m.states {
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out, nil
}

func (m *memoryStore) SaveSignal(signal *types.Signal) error {
	m.signals[signal.SignalID] = *signal
	return nil
}

func (m *memoryStore) UpdateSignal(signal *types.Signal) error {
	m.signals[signal.SignalID] = *signal
	return nil
}

func (m *memoryStore) GetSignal(signalID string) (*types.Signal, error) {
	if signal, ok := m.signals[signalID]; ok {
		return &signal, nil
	}
	return nil, nil
}

func (m *memoryStore) CountExecutedSince(strategyID string, since time.Time) (int64, error) {
	var count int64
	for _, signal := range m.signals {
		if signal.StrategyID == strategyID && signal.Status == types.SignalStatusExecuted &&
			signal.ExecutedAt != nil && !signal.ExecutedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) DeleteExpiredPending(now time.Time) (int64, error) {
	var deleted int64
	for id, signal := range m.signals {
		if signal.Status == types.SignalStatusPending && signal.ExpiresAt != nil && !signal.ExpiresAt.After(now) {
			delete(m.signals, id)
			deleted++
		}
	}
	return deleted, nil
}

// stubStrategy returns canned signals and records dispatched events.
type stubStrategy struct {
	id      string
	signals []types.Signal
	err     error
	events  []events.Event
}

func (s *stubStrategy) ID() string   { return s.id }
func (s *stubStrategy) Type() string { return "stub" }

func (s *stubStrategy) GenerateSignals(ctx context.Context, rc types.RunContext) ([]types.Signal, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]types.Signal, len(s.signals))
	copy(out, s.signals)
	return out, nil
}

func (s *stubStrategy) OnEvent(event events.Event) {
	s.events = append(s.events, event)
}

func stubFactory(stub *stubStrategy) Factory {
	return func(cfg Config) (Strategy, error) {
		stub.id = cfg.StrategyID
		return stub, nil
	}
}

// blockedKillSwitches makes the pre-trade check fail for registry tests.
type blockedKillSwitches struct {
	reason string
}

func (b *blockedKillSwitches) CheckBlocked(strategyID, marketID string) (bool, string, error) {
	return true, b.reason, nil
}

func testSignal(id string, edge, confidence float64) types.Signal {
	return types.Signal{
		SignalID:     id,
		StrategyID:   "strat-1",
		MarketID:     "mkt-1",
		Ticker:       "EXT-1",
		SignalType:   types.SignalTypeEntry,
		Side:         types.SideYes,
		Confidence:   confidence,
		TargetPrice:  55,
		CurrentPrice: 48,
		Quantity:     10,
		Edge:         edge,
		Status:       types.SignalStatusPending,
	}
}

func testConfig(strategyID string) Config {
	return Config{
		StrategyID:    strategyID,
		Type:          "stub",
		Enabled:       true,
		AutoExecute:   true,
		MinEdge:       2,
		MinConfidence: 0.5,
	}
}

func TestActivateStrategyUnknownType(t *testing.T) {
	store := newMemoryStore()
	r := NewRegistry(store, store, pretrade.NewChecker(nil, nil, nil))

	_, err := r.ActivateStrategy(Config{StrategyID: "strat-1", Type: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown type: missing")
}

func TestRunStrategiesPersistsSignalsAndIsolatesFailures(t *testing.T) {
	store := newMemoryStore()
	r := NewRegistry(store, store, pretrade.NewChecker(nil, nil, nil))

	good := &stubStrategy{signals: []types.Signal{testSignal("sig-1", 7, 0.8)}}
	bad := &stubStrategy{err: errors.New("feed offline")}
	r.RegisterFactory("stub", stubFactory(good))
	r.RegisterFactory("broken", stubFactory(bad))

	_, err := r.ActivateStrategy(testConfig("strat-1"))
	require.NoError(t, err)
	brokenCfg := testConfig("strat-2")
	brokenCfg.Type = "broken"
	_, err = r.ActivateStrategy(brokenCfg)
	require.NoError(t, err)

	signals := r.RunStrategies(context.Background(), types.RunContext{})
	require.Len(t, signals, 1)
	assert.Equal(t, "strat-1", signals[0].StrategyID)

	stored, err := store.GetSignal("sig-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, types.SignalStatusPending, stored.Status)
}

func TestEvaluateSignalRejectsThinEdge(t *testing.T) {
	store := newMemoryStore()
	cfg := testConfig("strat-1")
	require.NoError(t, store.UpsertConfig(&cfg))
	r := NewRegistry(store, store, pretrade.NewChecker(nil, nil, nil))

	signal := testSignal("sig-1", 1, 0.8)
	require.NoError(t, store.SaveSignal(&signal))

	eval, err := r.EvaluateSignal(signal)
	require.NoError(t, err)
	assert.False(t, eval.Approved)
	assert.Contains(t, eval.RejectionReason, "edge 1.00 below minimum 2.00")

	stored, _ := store.GetSignal("sig-1")
	assert.Equal(t, types.SignalStatusRejected, stored.Status)
}

func TestEvaluateSignalRejectsLowConfidence(t *testing.T) {
	store := newMemoryStore()
	cfg := testConfig("strat-1")
	require.NoError(t, store.UpsertConfig(&cfg))
	r := NewRegistry(store, store, pretrade.NewChecker(nil, nil, nil))

	eval, err := r.EvaluateSignal(testSignal("sig-1", 7, 0.3))
	require.NoError(t, err)
	assert.False(t, eval.Approved)
	assert.Contains(t, eval.RejectionReason, "confidence 0.30 below minimum 0.50")
}

func TestEvaluateSignalApprovesWithThesis(t *testing.T) {
	store := newMemoryStore()
	cfg := testConfig("strat-1")
	require.NoError(t, store.UpsertConfig(&cfg))
	r := NewRegistry(store, store, pretrade.NewChecker(nil, nil, nil))

	signal := testSignal("sig-1", 7, 0.8)
	require.NoError(t, store.SaveSignal(&signal))

	eval, err := r.EvaluateSignal(signal)
	require.NoError(t, err)
	assert.True(t, eval.Approved)
	require.NotNil(t, eval.Thesis)
	assert.InDelta(t, 55, eval.Thesis.TargetPrice, 1e-9)
	assert.Contains(t, eval.Thesis.Hypothesis, "EXT-1 resolves above 55.00")

	stored, _ := store.GetSignal("sig-1")
	assert.Equal(t, types.SignalStatusApproved, stored.Status)
}

func TestEvaluateSignalSurfacesPreTradeBlock(t *testing.T) {
	store := newMemoryStore()
	cfg := testConfig("strat-1")
	require.NoError(t, store.UpsertConfig(&cfg))
	checker := pretrade.NewChecker(&blockedKillSwitches{reason: "global kill switch active: halt"}, nil, nil)
	r := NewRegistry(store, store, checker)

	eval, err := r.EvaluateSignal(testSignal("sig-1", 7, 0.8))
	require.NoError(t, err)
	assert.False(t, eval.Approved)
	assert.Equal(t, "global kill switch active: halt", eval.RejectionReason)
}

func TestEvaluateSignalEnforcesStrategyCaps(t *testing.T) {
	store := newMemoryStore()
	cfg := testConfig("strat-1")
	cfg.MaxPositionSize = 5
	require.NoError(t, store.UpsertConfig(&cfg))
	r := NewRegistry(store, store, pretrade.NewChecker(nil, nil, nil))

	eval, err := r.EvaluateSignal(testSignal("sig-1", 7, 0.8))
	require.NoError(t, err)
	assert.False(t, eval.Approved)
	assert.Contains(t, eval.RejectionReason, "exceeds strategy max position size")

	cfg.MaxPositionSize = 0
	cfg.MaxNotional = 400
	require.NoError(t, store.UpsertConfig(&cfg))

	// 10 lots at 48 is 480 notional against the 400 limit.
	eval, err = r.EvaluateSignal(testSignal("sig-2", 7, 0.8))
	require.NoError(t, err)
	assert.False(t, eval.Approved)
	assert.Contains(t, eval.RejectionReason, "exceeds strategy max notional")
}

func TestEvaluateSignalEnforcesHourlyOrderLimit(t *testing.T) {
	store := newMemoryStore()
	cfg := testConfig("strat-1")
	cfg.MaxOrdersPerHour = 2
	require.NoError(t, store.UpsertConfig(&cfg))

	r := NewRegistry(store, store, pretrade.NewChecker(nil, nil, nil))
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	recent := now.Add(-10 * time.Minute)
	stale := now.Add(-2 * time.Hour)
	for _, executed := range []struct {
		id string
		at time.Time
	}{{"sig-a", recent}, {"sig-b", recent}, {"sig-c", stale}} {
		signal := testSignal(executed.id, 7, 0.8)
		signal.Status = types.SignalStatusExecuted
		at := executed.at
		signal.ExecutedAt = &at
		require.NoError(t, store.SaveSignal(&signal))
	}

	eval, err := r.EvaluateSignal(testSignal("sig-new", 7, 0.8))
	require.NoError(t, err)
	assert.False(t, eval.Approved)
	assert.Contains(t, eval.RejectionReason, "hourly order limit 2 reached")

	// Only executions inside the window count toward the limit.
	cfg.MaxOrdersPerHour = 3
	require.NoError(t, store.UpsertConfig(&cfg))
	eval, err = r.EvaluateSignal(testSignal("sig-new", 7, 0.8))
	require.NoError(t, err)
	assert.True(t, eval.Approved)
}

func TestDispatchEventReachesActiveStrategies(t *testing.T) {
	store := newMemoryStore()
	r := NewRegistry(store, store, pretrade.NewChecker(nil, nil, nil))

	stub := &stubStrategy{}
	r.RegisterFactory("stub", stubFactory(stub))
	_, err := r.ActivateStrategy(testConfig("strat-1"))
	require.NoError(t, err)

	r.DispatchEvent(events.OrderFilled{OrderID: "ord-1", FilledQty: 10})
	require.Len(t, stub.events, 1)

	r.DeactivateStrategy("strat-1")
	r.DispatchEvent(events.OrderFilled{OrderID: "ord-2"})
	assert.Len(t, stub.events, 1)
}

func TestCleanupExpiredSignals(t *testing.T) {
	store := newMemoryStore()
	r := NewRegistry(store, store, pretrade.NewChecker(nil, nil, nil))
	r.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

	past := time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)
	expired := testSignal("sig-old", 7, 0.8)
	expired.ExpiresAt = &past
	require.NoError(t, store.SaveSignal(&expired))

	executed := testSignal("sig-done", 7, 0.8)
	executed.Status = types.SignalStatusExecuted
	executed.ExpiresAt = &past
	require.NoError(t, store.SaveSignal(&executed))

	deleted, err := r.CleanupExpiredSignals()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// Executed signals are history and survive cleanup.
	remaining, _ := store.GetSignal("sig-done")
	require.NotNil(t, remaining)
}
