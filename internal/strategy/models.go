package strategy

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Status is the operational state of a strategy.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusError    Status = "ERROR"
	StatusDisabled Status = "DISABLED"
)

// AutoPauseThreshold is the accumulated error count at which a strategy is
// automatically moved to ERROR, requiring operator intervention to resume.
const AutoPauseThreshold = 10

// Config is the operator-supplied configuration of one strategy instance.
type Config struct {
	gorm.Model        `json:"-"`
	StrategyID        string  `gorm:"uniqueIndex" json:"strategy_id"`
	Name              string  `json:"name"`
	Type              string  `json:"type"`
	Enabled           bool    `json:"enabled"`
	AutoExecute       bool    `json:"auto_execute"`
	MaxOrdersPerHour  int     `json:"max_orders_per_hour"`
	MaxPositionSize   float64 `json:"max_position_size"`
	MaxNotional       float64 `json:"max_notional"`
	MinEdge           float64 `json:"min_edge"`
	MinConfidence     float64 `json:"min_confidence"`
	MaxSpread         float64 `json:"max_spread"`
	MinLiquidity      float64 `json:"min_liquidity"`
	AllowedCategories string  `json:"allowed_categories,omitempty"` // JSON array
	BlockedCategories string  `json:"blocked_categories,omitempty"` // JSON array
	Params            string  `json:"params,omitempty"`             // free-form JSON object
}

// ParamFloat reads a numeric parameter from the free-form params object.
func (c *Config) ParamFloat(key string, fallback float64) float64 {
	params := c.params()
	if v, ok := params[key].(float64); ok {
		return v
	}
	return fallback
}

// ParamBool reads a boolean parameter from the free-form params object.
func (c *Config) ParamBool(key string) bool {
	params := c.params()
	v, ok := params[key].(bool)
	return ok && v
}

// CategoryAllowed applies the allow and block lists to a market category.
// An empty allow list admits every category not explicitly blocked.
func (c *Config) CategoryAllowed(category string) bool {
	for _, blocked := range decodeList(c.BlockedCategories) {
		if blocked == category {
			return false
		}
	}
	allowed := decodeList(c.AllowedCategories)
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == category {
			return true
		}
	}
	return false
}

func (c *Config) params() map[string]interface{} {
	if c.Params == "" {
		return nil
	}
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(c.Params), &params); err != nil {
		return nil
	}
	return params
}

func decodeList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// State is the service-owned runtime state of one strategy. Counters are
// monotonically non-decreasing within a trading period.
type State struct {
	gorm.Model       `json:"-"`
	StrategyID       string     `gorm:"uniqueIndex" json:"strategy_id"`
	Status           Status     `json:"status"`
	SignalsGenerated int64      `json:"signals_generated"`
	TradesExecuted   int64      `json:"trades_executed"`
	TradesRejected   int64      `json:"trades_rejected"`
	ErrorCount       int64      `json:"error_count"`
	PnLToday         float64    `json:"pnl_today"`
	LastError        string     `json:"last_error,omitempty"`
	LastErrorAt      *time.Time `json:"last_error_at,omitempty"`
	LastTradeAt      *time.Time `json:"last_trade_at,omitempty"`
}

// OutcomeKind classifies what happened to one signal.
type OutcomeKind int

const (
	// OutcomeRejected: the signal failed gating.
	OutcomeRejected OutcomeKind = iota
	// OutcomeApproved: the signal passed gating but was not executed.
	OutcomeApproved
	// OutcomeExecuted: the order was submitted successfully.
	OutcomeExecuted
	// OutcomeFailed: order submission failed.
	OutcomeFailed
)

// Outcome is the input to ApplyOutcome.
type Outcome struct {
	Kind OutcomeKind
	Err  string
	PnL  float64
	At   time.Time
}

// ApplyOutcome is the pure state-transition function for strategy counters.
// It returns the updated state; the caller persists it. Auto-pause is
// decided here: a failure that drives ErrorCount to the threshold flips
// Status to ERROR in the same update.
func ApplyOutcome(state State, outcome Outcome) State {
	state.SignalsGenerated++

	switch outcome.Kind {
	case OutcomeRejected:
		state.TradesRejected++
	case OutcomeApproved:
		// Counted above; nothing else changes.
	case OutcomeExecuted:
		state.TradesExecuted++
		state.PnLToday += outcome.PnL
		at := outcome.At
		state.LastTradeAt = &at
	case OutcomeFailed:
		state.ErrorCount++
		state.LastError = outcome.Err
		at := outcome.At
		state.LastErrorAt = &at
		if state.ErrorCount >= AutoPauseThreshold {
			state.Status = StatusError
		}
	}

	return state
}
