package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oddslab/tradegate/internal/types"
	"github.com/rs/zerolog/log"
)

// transitions is the legal order-status graph. Terminal statuses have no
// outgoing edges and are absent as keys.
var transitions = map[types.OrderStatus][]types.OrderStatus{
	types.OrderStatusPendingValidation: {
		types.OrderStatusPendingRiskCheck,
		types.OrderStatusRejected,
		types.OrderStatusFailed,
	},
	types.OrderStatusPendingRiskCheck: {
		types.OrderStatusPendingSubmission,
		types.OrderStatusRejected,
		types.OrderStatusFailed,
	},
	types.OrderStatusPendingSubmission: {
		types.OrderStatusSubmitted,
		types.OrderStatusFailed,
	},
	types.OrderStatusSubmitted: {
		types.OrderStatusAcknowledged,
		types.OrderStatusRejected,
		types.OrderStatusFailed,
		types.OrderStatusCancelled,
	},
	types.OrderStatusAcknowledged: {
		types.OrderStatusPartiallyFilled,
		types.OrderStatusFilled,
		types.OrderStatusCancelled,
		types.OrderStatusExpired,
		types.OrderStatusFailed,
	},
	types.OrderStatusPartiallyFilled: {
		types.OrderStatusPartiallyFilled,
		types.OrderStatusFilled,
		types.OrderStatusCancelled,
		types.OrderStatusExpired,
	},
}

// happyPath orders the non-terminal statuses plus FILLED for progress
// reporting. Terminal statuses off this path report 100.
var happyPath = []types.OrderStatus{
	types.OrderStatusPendingValidation,
	types.OrderStatusPendingRiskCheck,
	types.OrderStatusPendingSubmission,
	types.OrderStatusSubmitted,
	types.OrderStatusAcknowledged,
	types.OrderStatusFilled,
}

// TransitionCallback is invoked after every successful transition.
type TransitionCallback func(order types.Order, record Transition)

// ErrorCallback is invoked when a transition is refused.
type ErrorCallback func(order types.Order, err error)

// Machine validates and applies order-status transitions. Transition methods
// take an order by value and return the updated copy; the caller owns
// persistence. A single writer per order is assumed.
type Machine struct {
	onTransition []TransitionCallback
	onTerminal   []TransitionCallback
	onError      []ErrorCallback
	now          func() time.Time
}

// NewMachine creates an order state machine.
func NewMachine() *Machine {
	return &Machine{now: time.Now}
}

// OnTransition registers a callback fired on every successful transition.
func (m *Machine) OnTransition(cb TransitionCallback) {
	m.onTransition = append(m.onTransition, cb)
}

// OnTerminal registers a callback fired when an order reaches a terminal status.
func (m *Machine) OnTerminal(cb TransitionCallback) {
	m.onTerminal = append(m.onTerminal, cb)
}

// OnError registers a callback fired when a transition is refused.
func (m *Machine) OnError(cb ErrorCallback) {
	m.onError = append(m.onError, cb)
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(status types.OrderStatus) bool {
	_, ok := transitions[status]
	return !ok
}

// CanTransition reports whether from -> to is a legal edge.
func (m *Machine) CanTransition(from, to types.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves an order to a new status, stamping the status-specific
// timestamp and producing an immutable audit record. On an illegal edge the
// order is returned unchanged with an error, and the error callbacks fire.
func (m *Machine) Transition(order types.Order, to types.OrderStatus, reason string, metadata map[string]string) (types.Order, Transition, error) {
	if !m.CanTransition(order.Status, to) {
		err := fmt.Errorf("Invalid transition: %s -> %s", order.Status, to)
		for _, cb := range m.onError {
			cb(order, err)
		}
		return order, Transition{}, err
	}

	now := m.now()
	record := Transition{
		TransitionID:   uuid.New().String(),
		OrderID:        order.OrderID,
		FromStatus:     order.Status,
		ToStatus:       to,
		Reason:         reason,
		TransitionedAt: now,
	}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return order, Transition{}, fmt.Errorf("failed to encode transition metadata: %w", err)
		}
		record.Metadata = string(raw)
	}

	order.Status = to
	stampTransition(&order, to, now)

	log.Debug().
		Str("order_id", order.OrderID).
		Str("from", string(record.FromStatus)).
		Str("to", string(record.ToStatus)).
		Str("reason", reason).
		Msg("order transitioned")

	for _, cb := range m.onTransition {
		cb(order, record)
	}
	if IsTerminal(to) {
		for _, cb := range m.onTerminal {
			cb(order, record)
		}
	}

	return order, record, nil
}

// ProcessFill applies a fill to an order, recomputing the cumulative
// volume-weighted average price and deciding FILLED vs PARTIALLY_FILLED by
// the remaining quantity.
func (m *Machine) ProcessFill(order types.Order, fillQty, fillPrice float64) (types.Order, Transition, error) {
	if fillQty <= 0 {
		return order, Transition{}, fmt.Errorf("invalid fill quantity: %f", fillQty)
	}

	newFilled := order.FilledQty + fillQty
	newAvg := fillPrice
	if order.FilledQty > 0 {
		newAvg = (order.AvgFillPrice*order.FilledQty + fillPrice*fillQty) / newFilled
	}

	target := types.OrderStatusPartiallyFilled
	if order.RequestedQty-newFilled <= 0 {
		target = types.OrderStatusFilled
	}

	// Stage the fill fields before transitioning so callbacks observe a
	// consistent order; a rejected transition returns the original untouched.
	staged := order
	staged.FilledQty = newFilled
	staged.RemainingQty = staged.RequestedQty - newFilled
	if staged.RemainingQty < 0 {
		staged.RemainingQty = 0
	}
	staged.AvgFillPrice = newAvg

	updated, record, err := m.Transition(staged, target, "fill", map[string]string{
		"fill_qty":   fmt.Sprintf("%f", fillQty),
		"fill_price": fmt.Sprintf("%f", fillPrice),
	})
	if err != nil {
		return order, Transition{}, err
	}

	return updated, record, nil
}

// Cancel moves an order to CANCELLED. Cancellation is only legal from
// ACKNOWLEDGED or PARTIALLY_FILLED.
func (m *Machine) Cancel(order types.Order, reason string) (types.Order, Transition, error) {
	if order.Status != types.OrderStatusAcknowledged && order.Status != types.OrderStatusPartiallyFilled {
		err := fmt.Errorf("Cannot cancel order in status %s", order.Status)
		for _, cb := range m.onError {
			cb(order, err)
		}
		return order, Transition{}, err
	}
	if reason == "" {
		reason = "cancelled"
	}
	return m.Transition(order, types.OrderStatusCancelled, reason, nil)
}

// MarkFailed records a failure on a non-terminal order, incrementing its
// retry count and transitioning to FAILED.
func (m *Machine) MarkFailed(order types.Order, code, message string) (types.Order, Transition, error) {
	if IsTerminal(order.Status) {
		err := fmt.Errorf("cannot fail order in terminal status %s", order.Status)
		for _, cb := range m.onError {
			cb(order, err)
		}
		return order, Transition{}, err
	}

	updated, record, err := m.Transition(order, types.OrderStatusFailed, message, map[string]string{"error_code": code})
	if err != nil {
		return order, Transition{}, err
	}
	updated.ErrorCode = code
	updated.ErrorMessage = message
	updated.RetryCount++
	return updated, record, nil
}

// Progress maps a status to 0-100 by its position on the happy path.
// Terminal statuses off the happy path report 100.
func Progress(status types.OrderStatus) int {
	for i, s := range happyPath {
		if s == status {
			return i * 100 / (len(happyPath) - 1)
		}
	}
	if status == types.OrderStatusPartiallyFilled {
		// Between acknowledgement and full fill.
		return 90
	}
	if IsTerminal(status) {
		return 100
	}
	return 0
}

// stampTransition sets the status-specific timestamp for the entered status.
func stampTransition(order *types.Order, to types.OrderStatus, now time.Time) {
	switch to {
	case types.OrderStatusPendingRiskCheck:
		order.ValidatedAt = &now
	case types.OrderStatusPendingSubmission:
		order.RiskCheckedAt = &now
	case types.OrderStatusSubmitted:
		order.SubmittedAt = &now
	case types.OrderStatusAcknowledged:
		order.AcknowledgedAt = &now
	case types.OrderStatusFilled:
		order.FilledAt = &now
	case types.OrderStatusCancelled:
		order.CancelledAt = &now
	case types.OrderStatusRejected:
		order.RejectedAt = &now
	case types.OrderStatusExpired:
		order.ExpiredAt = &now
	case types.OrderStatusFailed:
		order.FailedAt = &now
	}
}
