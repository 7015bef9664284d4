package types

import (
	"time"

	"gorm.io/gorm"
)

// Side is the outcome token an order trades.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// OrderType distinguishes market and limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce controls how long an order rests on the book.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderStatus tracks the order lifecycle. Transitions between statuses are
// enforced by the orders state machine; nothing else may change Status.
type OrderStatus string

const (
	OrderStatusPendingValidation OrderStatus = "PENDING_VALIDATION"
	OrderStatusPendingRiskCheck  OrderStatus = "PENDING_RISK_CHECK"
	OrderStatusPendingSubmission OrderStatus = "PENDING_SUBMISSION"
	OrderStatusSubmitted         OrderStatus = "SUBMITTED"
	OrderStatusAcknowledged      OrderStatus = "ACKNOWLEDGED"
	OrderStatusPartiallyFilled   OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled            OrderStatus = "FILLED"
	OrderStatusCancelled         OrderStatus = "CANCELLED"
	OrderStatusRejected          OrderStatus = "REJECTED"
	OrderStatusExpired           OrderStatus = "EXPIRED"
	OrderStatusFailed            OrderStatus = "FAILED"
)

// Order represents one exchange order request and its lifecycle state.
// Invariant: FilledQty + RemainingQty == RequestedQty at all times.
type Order struct {
	gorm.Model     `json:"-"`
	OrderID        string      `gorm:"uniqueIndex" json:"order_id"`
	IdempotencyKey string      `gorm:"index" json:"idempotency_key"`
	MarketID       string      `gorm:"index" json:"market_id"`
	Side           Side        `json:"side"`
	OrderType      OrderType   `json:"order_type"`
	TimeInForce    TimeInForce `json:"time_in_force"`
	RequestedQty   float64     `json:"requested_qty"`
	FilledQty      float64     `json:"filled_qty"`
	RemainingQty   float64     `json:"remaining_qty"`
	LimitPrice     float64     `json:"limit_price"`
	AvgFillPrice   float64     `json:"avg_fill_price"`
	Status         OrderStatus `json:"status"`
	ErrorCode      string      `json:"error_code,omitempty"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	RetryCount     int         `json:"retry_count"`
	StrategyID     string      `gorm:"index" json:"strategy_id"`
	SignalID       string      `json:"signal_id"`

	ValidatedAt    *time.Time `json:"validated_at,omitempty"`
	RiskCheckedAt  *time.Time `json:"risk_checked_at,omitempty"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	FilledAt       *time.Time `json:"filled_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	RejectedAt     *time.Time `json:"rejected_at,omitempty"`
	ExpiredAt      *time.Time `json:"expired_at,omitempty"`
	FailedAt       *time.Time `json:"failed_at,omitempty"`
}

// OrderIntent is the pre-trade view of an order: what the caller wants to do,
// before an Order record exists. Risk checks and submission consume intents.
type OrderIntent struct {
	StrategyID  string      `json:"strategy_id"`
	MarketID    string      `json:"market_id"`
	Side        Side        `json:"side"`
	OrderType   OrderType   `json:"order_type"`
	TimeInForce TimeInForce `json:"time_in_force"`
	Quantity    float64     `json:"quantity"`
	Price       float64     `json:"price"`
}

// SubmitResult is what the exchange reports back after order submission.
type SubmitResult struct {
	OrderID      string  `json:"order_id"`
	FilledQty    float64 `json:"filled_qty"`
	AvgFillPrice float64 `json:"avg_fill_price"`
}

// SignalType distinguishes position-opening from position-closing signals.
type SignalType string

const (
	SignalTypeEntry SignalType = "ENTRY"
	SignalTypeExit  SignalType = "EXIT"
)

// SignalStatus tracks a signal through evaluation and execution.
type SignalStatus string

const (
	SignalStatusPending  SignalStatus = "PENDING"
	SignalStatusApproved SignalStatus = "APPROVED"
	SignalStatusRejected SignalStatus = "REJECTED"
	SignalStatusExecuted SignalStatus = "EXECUTED"
)

// Signal is a candidate trade produced by a strategy, prior to risk gating.
// Signals are historical records: the evaluation pipeline updates them but
// never deletes them, except expired pending signals swept by cleanup.
type Signal struct {
	gorm.Model   `json:"-"`
	SignalID     string       `gorm:"uniqueIndex" json:"signal_id"`
	StrategyID   string       `gorm:"index" json:"strategy_id"`
	MarketID     string       `json:"market_id"`
	Ticker       string       `json:"ticker"`
	SignalType   SignalType   `json:"signal_type"`
	Side         Side         `json:"side"`
	Strength     float64      `json:"strength"`
	Confidence   float64      `json:"confidence"`
	TargetPrice  float64      `json:"target_price"`
	CurrentPrice float64      `json:"current_price"`
	Quantity     float64      `json:"quantity"`
	Edge         float64      `json:"edge"`
	Status       SignalStatus `json:"status"`
	OrderID      string       `json:"order_id,omitempty"`
	ExecutedAt   *time.Time   `json:"executed_at,omitempty"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
}

// Thesis is the recorded rationale that must back every executed signal.
type Thesis struct {
	Hypothesis    string  `json:"hypothesis"`
	TargetPrice   float64 `json:"target_price"`
	Falsification string  `json:"falsification"`
}

// SignalExecution is the per-signal outcome of one executor run.
type SignalExecution struct {
	SignalID        string `json:"signal_id"`
	Approved        bool   `json:"approved"`
	Executed        bool   `json:"executed"`
	OrderID         string `json:"order_id,omitempty"`
	Error           string `json:"error,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// ExecutionResult aggregates one executor run. It is created fresh per run
// and never persisted.
type ExecutionResult struct {
	Signals    []Signal          `json:"signals"`
	Executions []SignalExecution `json:"executions"`
	Errors     []string          `json:"errors"`
	Duration   time.Duration     `json:"duration"`
}

// MarketQuote is the per-market slice of the run context handed to
// strategies when they generate signals.
type MarketQuote struct {
	MarketID  string  `json:"market_id"`
	Ticker    string  `json:"ticker"`
	Category  string  `json:"category"`
	YesBid    float64 `json:"yes_bid"`
	YesAsk    float64 `json:"yes_ask"`
	Liquidity float64 `json:"liquidity"`
}

// RunContext is the shared market context for one executor run.
type RunContext struct {
	Markets []MarketQuote `json:"markets"`
	AsOf    time.Time     `json:"as_of"`
}
