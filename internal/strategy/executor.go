package strategy

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oddslab/tradegate/internal/events"
	"github.com/oddslab/tradegate/internal/idempotency"
	"github.com/oddslab/tradegate/internal/metrics"
	"github.com/oddslab/tradegate/internal/orders"
	"github.com/oddslab/tradegate/internal/pnl"
	"github.com/oddslab/tradegate/internal/positions"
	"github.com/oddslab/tradegate/internal/types"
	"github.com/oddslab/tradegate/pkg/response"
	"github.com/rs/zerolog/log"
)

// OrderSubmitter is the single point where the control plane touches the
// exchange. Retry and backoff live behind this interface, not in the
// executor.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, intent types.OrderIntent) (*types.SubmitResult, error)
}

// ExecutorStatus is a snapshot of the executor's run counters.
type ExecutorStatus struct {
	Running         bool       `json:"running"`
	TotalRuns       int64      `json:"total_runs"`
	TotalSignals    int64      `json:"total_signals"`
	TotalExecutions int64      `json:"total_executions"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
}

// Executor drives signals through evaluation and into order submission.
// At most one Run proceeds per instance at a time; concurrent callers get
// an immediate "already running" result rather than queuing.
type Executor struct {
	registry  *Registry
	configs   ConfigStorage
	states    StateStorage
	orders    *orders.Service
	idem      *idempotency.Service
	positions *positions.Service
	pnl       *pnl.Tracker
	submitter OrderSubmitter
	bus       *events.Bus

	mu              sync.Mutex
	running         bool
	totalRuns       int64
	totalSignals    int64
	totalExecutions int64
	lastRunAt       *time.Time

	now func() time.Time
}

// ExecutorDeps wires an executor. Submitter may be nil; auto-execution then
// records an error per approved signal instead of submitting.
type ExecutorDeps struct {
	Registry  *Registry
	Configs   ConfigStorage
	States    StateStorage
	Orders    *orders.Service
	Idem      *idempotency.Service
	Positions *positions.Service
	Pnl       *pnl.Tracker
	Submitter OrderSubmitter
	Bus       *events.Bus
}

// NewExecutor creates a strategy executor.
func NewExecutor(deps ExecutorDeps) *Executor {
	return &Executor{
		registry:  deps.Registry,
		configs:   deps.Configs,
		states:    deps.States,
		orders:    deps.Orders,
		idem:      deps.Idem,
		positions: deps.Positions,
		pnl:       deps.Pnl,
		submitter: deps.Submitter,
		bus:       deps.Bus,
		now:       time.Now,
	}
}

// Run executes one full cycle: reconcile the strategy set, generate
// signals, and evaluate-and-execute each one independently. One bad signal
// never aborts the batch; its error is recorded and processing continues.
func (e *Executor) Run(ctx context.Context, rc types.RunContext) *types.ExecutionResult {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		metrics.RunSkipped()
		log.Warn().Msg("executor run requested while already running")
		return &types.ExecutionResult{Errors: []string{"Executor already running"}}
	}
	e.running = true
	e.mu.Unlock()

	started := e.now()
	result := &types.ExecutionResult{}

	defer func() {
		result.Duration = e.now().Sub(started)

		e.mu.Lock()
		e.running = false
		e.totalRuns++
		e.totalSignals += int64(len(result.Signals))
		for _, exec := range result.Executions {
			if exec.Executed {
				e.totalExecutions++
			}
		}
		e.lastRunAt = &started
		e.mu.Unlock()

		metrics.RunCompleted(result.Duration.Seconds())

		log.Info().
			Int("signals", len(result.Signals)).
			Int("executions", len(result.Executions)).
			Int("errors", len(result.Errors)).
			Dur("duration", result.Duration).
			Msg("executor run completed")
	}()

	e.syncStrategies()

	result.Signals = e.registry.RunStrategies(ctx, rc)

	for _, signal := range result.Signals {
		execution, err := e.safeEvaluateAndExecute(ctx, signal)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Executions = append(result.Executions, execution)
	}

	return result
}

// GetStatus returns the executor's run counters.
func (e *Executor) GetStatus() ExecutorStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ExecutorStatus{
		Running:         e.running,
		TotalRuns:       e.totalRuns,
		TotalSignals:    e.totalSignals,
		TotalExecutions: e.totalExecutions,
		LastRunAt:       e.lastRunAt,
	}
}

// DispatchEvent delegates to the registry's event fan-out.
func (e *Executor) DispatchEvent(event events.Event) {
	e.registry.DispatchEvent(event)
}

// CleanupExpiredSignals delegates to the registry.
func (e *Executor) CleanupExpiredSignals() (int64, error) {
	return e.registry.CleanupExpiredSignals()
}

// syncStrategies diffs the desired strategy set against the active set.
// A strategy whose state is ERROR is excluded from the desired set until an
// operator clears it; auto-pause must actually stop signal generation.
// Activation failures are logged and skipped; they are not fatal to the run.
func (e *Executor) syncStrategies() {
	desired, err := e.configs.ListEnabledConfigs()
	if err != nil {
		log.Error().Err(err).Msg("failed to list enabled strategy configs")
		return
	}

	enabled := make(map[string]Config, len(desired))
	for _, cfg := range desired {
		paused, err := e.strategyPaused(cfg.StrategyID)
		if err != nil {
			log.Error().Err(err).Str("strategy_id", cfg.StrategyID).Msg("failed to load strategy state")
			continue
		}
		if paused {
			log.Warn().Str("strategy_id", cfg.StrategyID).Msg("strategy paused after repeated errors, skipping")
			continue
		}
		enabled[cfg.StrategyID] = cfg
	}

	for _, instance := range e.registry.GetActiveStrategies() {
		if _, ok := enabled[instance.ID()]; !ok {
			e.registry.DeactivateStrategy(instance.ID())
		}
	}

	activeIDs := make(map[string]bool)
	for _, instance := range e.registry.GetActiveStrategies() {
		activeIDs[instance.ID()] = true
	}

	for _, cfg := range desired {
		if _, ok := enabled[cfg.StrategyID]; !ok {
			continue
		}
		if activeIDs[cfg.StrategyID] {
			continue
		}
		if _, err := e.registry.ActivateStrategy(cfg); err != nil {
			log.Error().
				Err(err).
				Str("strategy_id", cfg.StrategyID).
				Msg("failed to activate strategy")
		}
	}
}

// strategyPaused reports whether a strategy has been auto-paused into ERROR.
func (e *Executor) strategyPaused(strategyID string) (bool, error) {
	state, err := e.states.GetState(strategyID)
	if err != nil {
		return false, err
	}
	return state != nil && state.Status == StatusError, nil
}

// safeEvaluateAndExecute isolates one signal: panics are converted to
// errors so a misbehaving strategy or check cannot abort the batch.
func (e *Executor) safeEvaluateAndExecute(ctx context.Context, signal types.Signal) (execution types.SignalExecution, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("signal %s: panic: %v", signal.SignalID, r)
		}
	}()
	return e.evaluateAndExecute(ctx, signal)
}

func (e *Executor) evaluateAndExecute(ctx context.Context, signal types.Signal) (types.SignalExecution, error) {
	execution := types.SignalExecution{SignalID: signal.SignalID}

	// Auto-pause can trip mid-run; later signals from the same strategy must
	// not reach the venue.
	paused, err := e.strategyPaused(signal.StrategyID)
	if err != nil {
		return execution, fmt.Errorf("signal %s: %w", signal.SignalID, err)
	}
	if paused {
		execution.RejectionReason = fmt.Sprintf("strategy %s is paused pending operator intervention", signal.StrategyID)
		return execution, nil
	}

	eval, err := e.registry.EvaluateSignal(signal)
	if err != nil {
		return execution, fmt.Errorf("signal %s: %w", signal.SignalID, err)
	}

	metrics.SignalGenerated(signal.StrategyID)

	if !eval.Approved {
		execution.RejectionReason = eval.RejectionReason
		e.applyOutcome(signal.StrategyID, Outcome{Kind: OutcomeRejected, At: e.now()})
		metrics.SignalRejected(signal.StrategyID)
		return execution, nil
	}

	execution.Approved = true

	cfg, err := e.registry.GetStrategyConfig(signal.StrategyID)
	if err != nil {
		return execution, fmt.Errorf("signal %s: %w", signal.SignalID, err)
	}
	if cfg == nil || !cfg.AutoExecute {
		e.applyOutcome(signal.StrategyID, Outcome{Kind: OutcomeApproved, At: e.now()})
		return execution, nil
	}

	if e.submitter == nil {
		execution.Error = "No order submitter configured"
		e.applyOutcome(signal.StrategyID, Outcome{Kind: OutcomeApproved, At: e.now()})
		return execution, nil
	}

	intent := e.buildIntent(signal, cfg)

	idemKey := e.idem.GenerateKey(intent.MarketID, intent.Side, intent.Quantity, intent.Price, e.now())

	// The whole create-and-submit leg runs under the idempotency wrapper: a
	// second signal landing on the same key within its minute bucket gets
	// the recorded order back and the venue is never hit twice. Submission
	// failures are not recorded, so a retry re-executes.
	var (
		submitFailure string
		filledQty     float64
		realized      float64
	)
	resp, err := e.idem.Execute(idemKey, intent, func() (int, string, string, error) {
		order, err := e.orders.CreateFromSignal(signal, intent, idemKey)
		if err != nil {
			return 0, "", "", err
		}

		order, err = e.advanceToSubmitted(*order)
		if err != nil {
			return 0, "", "", err
		}

		result, submitErr := e.submitter.SubmitOrder(ctx, intent)
		if submitErr != nil {
			submitFailure = submitErr.Error()
			if _, failErr := e.orders.Fail(*order, "SUBMIT_FAILED", submitErr.Error()); failErr != nil {
				log.Error().Err(failErr).Str("order_id", order.OrderID).Msg("failed to mark order failed")
			}
			return 0, "", "", submitErr
		}

		order, err = e.orders.Advance(*order, types.OrderStatusAcknowledged, "exchange acknowledgement", nil)
		if err != nil {
			log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to acknowledge order")
		} else if result.FilledQty > 0 {
			if order, err = e.orders.RecordFill(*order, result.FilledQty, result.AvgFillPrice); err != nil {
				log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to record fill")
			}
			e.settleFill(signal.StrategyID, order, result, &realized)
		}

		filledQty = result.FilledQty
		return http.StatusOK, "", order.OrderID, nil
	})

	if submitFailure != "" {
		execution.Error = submitFailure

		e.applyOutcome(signal.StrategyID, Outcome{Kind: OutcomeFailed, Err: submitFailure, At: e.now()})
		metrics.ExecutionError(signal.StrategyID)

		rejected := events.OrderRejected{
			SignalID: signal.SignalID,
			MarketID: signal.MarketID,
			Error:    submitFailure,
		}
		e.bus.Publish(rejected)
		e.registry.DispatchEvent(rejected)

		return execution, nil
	}
	if err != nil {
		return execution, fmt.Errorf("signal %s: %w", signal.SignalID, err)
	}

	execution.Executed = true
	execution.OrderID = resp.OrderID

	e.registry.MarkSignalExecuted(signal, resp.OrderID)

	if resp.FromCache {
		log.Info().
			Str("signal_id", signal.SignalID).
			Str("order_id", resp.OrderID).
			Msg("duplicate submission served from recorded order")
		return execution, nil
	}

	e.applyOutcome(signal.StrategyID, Outcome{Kind: OutcomeExecuted, PnL: realized, At: e.now()})
	metrics.OrderExecuted(signal.StrategyID)

	filled := events.OrderFilled{
		OrderID:   resp.OrderID,
		SignalID:  signal.SignalID,
		MarketID:  signal.MarketID,
		FilledQty: filledQty,
	}
	e.bus.Publish(filled)
	e.registry.DispatchEvent(filled)

	return execution, nil
}

// settleFill books a confirmed fill into the position ledger and pushes any
// realized P&L into the daily tracker the loss gate reads.
func (e *Executor) settleFill(strategyID string, order *types.Order, result *types.SubmitResult, realized *float64) {
	if e.positions == nil {
		return
	}

	_, pnlDelta, err := e.positions.UpdatePosition(order.MarketID, order.Side, result.FilledQty, result.AvgFillPrice)
	if err != nil {
		log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to update position")
		return
	}
	*realized = pnlDelta

	if e.pnl != nil && pnlDelta != 0 {
		if err := e.pnl.AddRealized(strategyID, pnlDelta); err != nil {
			log.Error().Err(err).Str("strategy_id", strategyID).Msg("failed to record realized pnl")
		}
	}
}

// advanceToSubmitted walks a fresh order through validation and risk-check
// statuses to SUBMITTED. Gating already happened during evaluation; these
// transitions exist so the audit trail reflects the admission pipeline.
func (e *Executor) advanceToSubmitted(order types.Order) (*types.Order, error) {
	updated, err := e.orders.Advance(order, types.OrderStatusPendingRiskCheck, "validated", nil)
	if err != nil {
		return nil, err
	}
	if updated, err = e.orders.Advance(*updated, types.OrderStatusPendingSubmission, "risk checks passed", nil); err != nil {
		return nil, err
	}
	if updated, err = e.orders.Advance(*updated, types.OrderStatusSubmitted, "submitted to exchange", nil); err != nil {
		return nil, err
	}
	return updated, nil
}

func (e *Executor) buildIntent(signal types.Signal, cfg *Config) types.OrderIntent {
	intent := types.OrderIntent{
		StrategyID:  signal.StrategyID,
		MarketID:    signal.MarketID,
		Side:        signal.Side,
		OrderType:   types.OrderTypeLimit,
		TimeInForce: types.TimeInForceGTC,
		Quantity:    signal.Quantity,
		Price:       signal.CurrentPrice,
	}

	// Aggressive pricing crosses the spread with a market order.
	if cfg.ParamBool("aggressive_pricing") {
		intent.OrderType = types.OrderTypeMarket
		intent.TimeInForce = types.TimeInForceIOC
	}

	return intent
}

func (e *Executor) applyOutcome(strategyID string, outcome Outcome) {
	state, err := e.states.GetState(strategyID)
	if err != nil {
		log.Error().Err(err).Str("strategy_id", strategyID).Msg("failed to load strategy state")
		return
	}
	if state == nil {
		state = &State{StrategyID: strategyID, Status: StatusActive}
	}

	updated := ApplyOutcome(*state, outcome)

	if updated.Status == StatusError && state.Status != StatusError {
		log.Warn().
			Str("strategy_id", strategyID).
			Int64("error_count", updated.ErrorCount).
			Msg("strategy auto-paused after repeated errors")
	}

	if err := e.states.SaveState(&updated); err != nil {
		log.Error().Err(err).Str("strategy_id", strategyID).Msg("failed to persist strategy state")
	}
}

// HaltChecker reports whether trading is blocked for a scope. The empty
// scope asks about a portfolio-wide halt only.
type HaltChecker interface {
	CheckBlocked(strategyID, marketID string) (bool, string, error)
}

// GinHandlers contains HTTP handlers for strategy and executor endpoints
type GinHandlers struct {
	executor *Executor
	configs  ConfigStorage
	states   StateStorage
	quotes   QuoteProvider
	halts    HaltChecker
}

func NewGinHandlers(executor *Executor, configs ConfigStorage, states StateStorage, quotes QuoteProvider, halts HaltChecker) *GinHandlers {
	return &GinHandlers{
		executor: executor,
		configs:  configs,
		states:   states,
		quotes:   quotes,
		halts:    halts,
	}
}

// RunHandler handles POST requests to trigger one executor run. While a
// global kill switch is active the run is refused outright.
func (h *GinHandlers) RunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.halts != nil {
			blocked, reason, err := h.halts.CheckBlocked("", "")
			if err != nil {
				response.InternalError(c, err.Error())
				return
			}
			if blocked {
				response.TradingHalted(c, reason)
				return
			}
		}

		rc, err := h.quotes.Snapshot(c.Request.Context())
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		result := h.executor.Run(c.Request.Context(), rc)
		response.Success(c, result)
	}
}

// StatusHandler handles GET requests for executor counters.
func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.executor.GetStatus())
	}
}

// UpsertConfigHandler handles PUT requests for strategy configs.
func (h *GinHandlers) UpsertConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var cfg Config
		if err := c.ShouldBindJSON(&cfg); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if cfg.StrategyID == "" || cfg.Type == "" {
			response.BadRequest(c, "strategy_id and type are required")
			return
		}

		if err := h.configs.UpsertConfig(&cfg); err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, cfg)
	}
}

// ListConfigsHandler handles GET requests for all strategy configs.
func (h *GinHandlers) ListConfigsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		configs, err := h.configs.ListConfigs()
		response.Handle(c, configs, err)
	}
}

// DeleteConfigHandler handles DELETE requests for a strategy config.
func (h *GinHandlers) DeleteConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		strategyID := c.Param("strategy_id")

		if err := h.configs.DeleteConfig(strategyID); err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, gin.H{"message": "strategy config deleted"})
	}
}

// ListStatesHandler handles GET requests for strategy runtime state.
func (h *GinHandlers) ListStatesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		states, err := h.states.ListStates()
		response.Handle(c, states, err)
	}
}
