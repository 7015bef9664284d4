package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oddslab/tradegate/internal/events"
	"github.com/oddslab/tradegate/internal/pretrade"
	"github.com/oddslab/tradegate/internal/types"
	"github.com/rs/zerolog/log"
)

// Strategy is one active strategy instance. Implementations produce signals
// from the shared run context and may react to lifecycle events.
type Strategy interface {
	ID() string
	Type() string
	GenerateSignals(ctx context.Context, rc types.RunContext) ([]types.Signal, error)
	OnEvent(event events.Event)
}

// Factory builds a strategy instance from its config.
type Factory func(cfg Config) (Strategy, error)

// CheckOutcome records one evaluation gate's result.
type CheckOutcome struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Evaluation is the result of evaluating one signal against its strategy's
// thresholds and the pre-trade checks.
type Evaluation struct {
	Approved        bool           `json:"approved"`
	Checks          []CheckOutcome `json:"checks"`
	Thesis          *types.Thesis  `json:"thesis,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
}

// Registry owns the set of active strategy instances, runs them to produce
// signals, and evaluates each signal against the pre-trade checks and a
// trade thesis.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	active    map[string]Strategy

	configs  ConfigStorage
	signals  SignalStorage
	pretrade *pretrade.Checker
	now      func() time.Time
}

// NewRegistry creates a strategy registry.
func NewRegistry(configs ConfigStorage, signals SignalStorage, checker *pretrade.Checker) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		active:    make(map[string]Strategy),
		configs:   configs,
		signals:   signals,
		pretrade:  checker,
		now:       time.Now,
	}
}

// RegisterFactory makes a strategy type activatable.
func (r *Registry) RegisterFactory(strategyType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strategyType] = factory
}

// ActivateStrategy instantiates and activates a strategy from its config.
func (r *Registry) ActivateStrategy(cfg Config) (Strategy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("Unknown type: %s", cfg.Type)
	}

	instance, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build strategy %s: %w", cfg.StrategyID, err)
	}

	r.active[cfg.StrategyID] = instance

	log.Info().
		Str("strategy_id", cfg.StrategyID).
		Str("type", cfg.Type).
		Msg("strategy activated")

	return instance, nil
}

// DeactivateStrategy removes a strategy from the active set.
func (r *Registry) DeactivateStrategy(strategyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[strategyID]; ok {
		delete(r.active, strategyID)
		log.Info().Str("strategy_id", strategyID).Msg("strategy deactivated")
	}
}

// GetActiveStrategies returns the active instances, ordered by ID for
// deterministic iteration.
func (r *Registry) GetActiveStrategies() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Strategy, 0, len(r.active))
	for _, s := range r.active {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// GetStrategyConfig returns the stored config for a strategy.
func (r *Registry) GetStrategyConfig(strategyID string) (*Config, error) {
	return r.configs.GetConfig(strategyID)
}

// RunStrategies invokes each active strategy's signal generation with the
// shared market context and concatenates the results. A failing strategy is
// logged and skipped; it cannot abort the others.
func (r *Registry) RunStrategies(ctx context.Context, rc types.RunContext) []types.Signal {
	var all []types.Signal

	for _, instance := range r.GetActiveStrategies() {
		signals, err := instance.GenerateSignals(ctx, rc)
		if err != nil {
			log.Error().
				Err(err).
				Str("strategy_id", instance.ID()).
				Msg("strategy signal generation failed")
			continue
		}

		for i := range signals {
			sig := &signals[i]
			sig.StrategyID = instance.ID()
			if sig.Status == "" {
				sig.Status = types.SignalStatusPending
			}
			if err := r.signals.SaveSignal(sig); err != nil {
				log.Error().Err(err).Str("signal_id", sig.SignalID).Msg("failed to persist signal")
			}
		}

		all = append(all, signals...)
	}

	log.Debug().Int("signals", len(all)).Msg("strategies ran")

	return all
}

// EvaluateSignal binds a signal to a thesis and runs it through the
// strategy's own thresholds and then the pre-trade checks. A signal without
// sufficient edge or confidence is rejected before risk checks run.
func (r *Registry) EvaluateSignal(signal types.Signal) (*Evaluation, error) {
	cfg, err := r.configs.GetConfig(signal.StrategyID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("no config for strategy %s", signal.StrategyID)
	}

	eval := &Evaluation{}

	if signal.Edge < cfg.MinEdge {
		reason := fmt.Sprintf("edge %.2f below minimum %.2f", signal.Edge, cfg.MinEdge)
		eval.Checks = append(eval.Checks, CheckOutcome{Name: "edge", Passed: false, Reason: reason})
		return r.reject(signal, eval, reason)
	}
	eval.Checks = append(eval.Checks, CheckOutcome{Name: "edge", Passed: true})

	if signal.Confidence < cfg.MinConfidence {
		reason := fmt.Sprintf("confidence %.2f below minimum %.2f", signal.Confidence, cfg.MinConfidence)
		eval.Checks = append(eval.Checks, CheckOutcome{Name: "confidence", Passed: false, Reason: reason})
		return r.reject(signal, eval, reason)
	}
	eval.Checks = append(eval.Checks, CheckOutcome{Name: "confidence", Passed: true})

	if cfg.MaxPositionSize > 0 && signal.Quantity > cfg.MaxPositionSize {
		reason := fmt.Sprintf("order size %.2f exceeds strategy max position size %.2f", signal.Quantity, cfg.MaxPositionSize)
		eval.Checks = append(eval.Checks, CheckOutcome{Name: "strategy_caps", Passed: false, Reason: reason})
		return r.reject(signal, eval, reason)
	}
	if cfg.MaxNotional > 0 && signal.Quantity*signal.CurrentPrice > cfg.MaxNotional {
		reason := fmt.Sprintf("order notional %.2f exceeds strategy max notional %.2f",
			signal.Quantity*signal.CurrentPrice, cfg.MaxNotional)
		eval.Checks = append(eval.Checks, CheckOutcome{Name: "strategy_caps", Passed: false, Reason: reason})
		return r.reject(signal, eval, reason)
	}
	eval.Checks = append(eval.Checks, CheckOutcome{Name: "strategy_caps", Passed: true})

	if cfg.MaxOrdersPerHour > 0 {
		executed, err := r.signals.CountExecutedSince(signal.StrategyID, r.now().Add(-time.Hour))
		if err != nil {
			return nil, err
		}
		if executed >= int64(cfg.MaxOrdersPerHour) {
			reason := fmt.Sprintf("hourly order limit %d reached", cfg.MaxOrdersPerHour)
			eval.Checks = append(eval.Checks, CheckOutcome{Name: "order_rate", Passed: false, Reason: reason})
			return r.reject(signal, eval, reason)
		}
		eval.Checks = append(eval.Checks, CheckOutcome{Name: "order_rate", Passed: true})
	}

	eval.Thesis = buildThesis(signal)

	decision, err := r.pretrade.CheckOrder(intentFromSignal(signal))
	if err != nil {
		return nil, err
	}
	if !decision.Approved {
		eval.Checks = append(eval.Checks, CheckOutcome{Name: "pre_trade", Passed: false, Reason: decision.BlockingReason})
		return r.reject(signal, eval, decision.BlockingReason)
	}
	eval.Checks = append(eval.Checks, CheckOutcome{Name: "pre_trade", Passed: true})

	eval.Approved = true
	signal.Status = types.SignalStatusApproved
	if err := r.signals.UpdateSignal(&signal); err != nil {
		log.Error().Err(err).Str("signal_id", signal.SignalID).Msg("failed to mark signal approved")
	}

	return eval, nil
}

// MarkSignalExecuted records the order an approved signal produced.
func (r *Registry) MarkSignalExecuted(signal types.Signal, orderID string) {
	now := r.now()
	signal.Status = types.SignalStatusExecuted
	signal.OrderID = orderID
	signal.ExecutedAt = &now
	if err := r.signals.UpdateSignal(&signal); err != nil {
		log.Error().Err(err).Str("signal_id", signal.SignalID).Msg("failed to mark signal executed")
	}
}

// DispatchEvent fans an event out to every active strategy.
func (r *Registry) DispatchEvent(event events.Event) {
	for _, instance := range r.GetActiveStrategies() {
		instance.OnEvent(event)
	}
}

// CleanupExpiredSignals removes expired pending signals and returns the
// count deleted.
func (r *Registry) CleanupExpiredSignals() (int64, error) {
	deleted, err := r.signals.DeleteExpiredPending(r.now())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("cleaned up expired signals")
	}
	return deleted, nil
}

func (r *Registry) reject(signal types.Signal, eval *Evaluation, reason string) (*Evaluation, error) {
	eval.Approved = false
	eval.RejectionReason = reason

	signal.Status = types.SignalStatusRejected
	if err := r.signals.UpdateSignal(&signal); err != nil {
		log.Error().Err(err).Str("signal_id", signal.SignalID).Msg("failed to mark signal rejected")
	}

	return eval, nil
}

func buildThesis(signal types.Signal) *types.Thesis {
	direction := "above"
	if signal.Side == types.SideNo {
		direction = "below"
	}
	return &types.Thesis{
		Hypothesis:    fmt.Sprintf("%s resolves %s %.2f", signal.Ticker, direction, signal.TargetPrice),
		TargetPrice:   signal.TargetPrice,
		Falsification: fmt.Sprintf("price moves against entry %.2f beyond the configured stop", signal.CurrentPrice),
	}
}

func intentFromSignal(signal types.Signal) types.OrderIntent {
	return types.OrderIntent{
		StrategyID: signal.StrategyID,
		MarketID:   signal.MarketID,
		Side:       signal.Side,
		OrderType:  types.OrderTypeLimit,
		Quantity:   signal.Quantity,
		Price:      signal.CurrentPrice,
	}
}
