package orders

import (
	"testing"

	"github.com/oddslab/tradegate/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder(status types.OrderStatus) types.Order {
	return types.Order{
		OrderID:      "ord-1",
		StrategyID:   "strat-1",
		MarketID:     "mkt-1",
		Status:       status,
		RequestedQty: 100,
		RemainingQty: 100,
	}
}

func TestTransitionHappyPath(t *testing.T) {
	m := NewMachine()
	order := newTestOrder(types.OrderStatusPendingValidation)

	steps := []types.OrderStatus{
		types.OrderStatusPendingRiskCheck,
		types.OrderStatusPendingSubmission,
		types.OrderStatusSubmitted,
		types.OrderStatusAcknowledged,
	}

	for _, next := range steps {
		updated, record, err := m.Transition(order, next, "test", nil)
		require.NoError(t, err)
		assert.Equal(t, next, updated.Status)
		assert.Equal(t, order.Status, record.FromStatus)
		assert.Equal(t, next, record.ToStatus)
		assert.NotEmpty(t, record.TransitionID)
		order = updated
	}

	require.NotNil(t, order.ValidatedAt)
	require.NotNil(t, order.RiskCheckedAt)
	require.NotNil(t, order.SubmittedAt)
	require.NotNil(t, order.AcknowledgedAt)
}

func TestTransitionIllegalEdgeLeavesOrderUnchanged(t *testing.T) {
	m := NewMachine()
	var refused int
	m.OnError(func(order types.Order, err error) {
		refused++
	})

	order := newTestOrder(types.OrderStatusPendingValidation)
	updated, _, err := m.Transition(order, types.OrderStatusFilled, "skip ahead", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid transition")
	assert.Equal(t, order, updated)
	assert.Equal(t, 1, refused)
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	m := NewMachine()
	terminals := []types.OrderStatus{
		types.OrderStatusFilled,
		types.OrderStatusCancelled,
		types.OrderStatusRejected,
		types.OrderStatusExpired,
		types.OrderStatusFailed,
	}

	for _, status := range terminals {
		require.True(t, IsTerminal(status), "expected %s to be terminal", status)

		order := newTestOrder(status)
		updated, _, err := m.Transition(order, types.OrderStatusAcknowledged, "revive", nil)
		require.Error(t, err)
		assert.Equal(t, order, updated)
	}
}

func TestProcessFillComputesVWAP(t *testing.T) {
	m := NewMachine()
	order := newTestOrder(types.OrderStatusAcknowledged)

	order, _, err := m.ProcessFill(order, 50, 0.50)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPartiallyFilled, order.Status)
	assert.InDelta(t, 50, order.FilledQty, 1e-9)
	assert.InDelta(t, 50, order.RemainingQty, 1e-9)
	assert.InDelta(t, 0.50, order.AvgFillPrice, 1e-9)

	order, _, err = m.ProcessFill(order, 50, 0.60)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, order.Status)
	assert.InDelta(t, 100, order.FilledQty, 1e-9)
	assert.InDelta(t, 0, order.RemainingQty, 1e-9)
	assert.InDelta(t, 0.55, order.AvgFillPrice, 1e-9)
	require.NotNil(t, order.FilledAt)
}

func TestProcessFillCallbacksSeeAppliedFillFields(t *testing.T) {
	m := NewMachine()
	var seen types.Order
	m.OnTerminal(func(order types.Order, record Transition) {
		seen = order
	})

	order := newTestOrder(types.OrderStatusAcknowledged)
	_, _, err := m.ProcessFill(order, 100, 0.55)
	require.NoError(t, err)

	assert.Equal(t, types.OrderStatusFilled, seen.Status)
	assert.InDelta(t, 100, seen.FilledQty, 1e-9)
	assert.InDelta(t, 0, seen.RemainingQty, 1e-9)
	assert.InDelta(t, 0.55, seen.AvgFillPrice, 1e-9)
}

func TestProcessFillRejectsNonPositiveQuantity(t *testing.T) {
	m := NewMachine()
	order := newTestOrder(types.OrderStatusAcknowledged)

	_, _, err := m.ProcessFill(order, 0, 0.50)
	require.Error(t, err)

	_, _, err = m.ProcessFill(order, -5, 0.50)
	require.Error(t, err)
}

func TestCancelOnlyFromWorkingStatuses(t *testing.T) {
	m := NewMachine()

	order := newTestOrder(types.OrderStatusAcknowledged)
	updated, _, err := m.Cancel(order, "operator request")
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCancelled, updated.Status)
	require.NotNil(t, updated.CancelledAt)

	order = newTestOrder(types.OrderStatusPendingValidation)
	_, _, err = m.Cancel(order, "too early")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot cancel order in status")
}

func TestMarkFailedIncrementsRetryCount(t *testing.T) {
	m := NewMachine()
	order := newTestOrder(types.OrderStatusSubmitted)

	updated, record, err := m.MarkFailed(order, "SUBMIT_FAILED", "venue timeout")
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFailed, updated.Status)
	assert.Equal(t, "SUBMIT_FAILED", updated.ErrorCode)
	assert.Equal(t, "venue timeout", updated.ErrorMessage)
	assert.Equal(t, 1, updated.RetryCount)
	assert.Contains(t, record.Metadata, "SUBMIT_FAILED")

	_, _, err = m.MarkFailed(updated, "SUBMIT_FAILED", "again")
	require.Error(t, err)
}

func TestTerminalCallbackFiresOnce(t *testing.T) {
	m := NewMachine()
	var transitions, terminals int
	m.OnTransition(func(order types.Order, record Transition) {
		transitions++
	})
	m.OnTerminal(func(order types.Order, record Transition) {
		terminals++
	})

	order := newTestOrder(types.OrderStatusAcknowledged)
	order, _, err := m.Transition(order, types.OrderStatusPartiallyFilled, "fill", nil)
	require.NoError(t, err)
	_, _, err = m.Transition(order, types.OrderStatusFilled, "fill", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, transitions)
	assert.Equal(t, 1, terminals)
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 0, Progress(types.OrderStatusPendingValidation))
	assert.Equal(t, 20, Progress(types.OrderStatusPendingRiskCheck))
	assert.Equal(t, 60, Progress(types.OrderStatusSubmitted))
	assert.Equal(t, 80, Progress(types.OrderStatusAcknowledged))
	assert.Equal(t, 90, Progress(types.OrderStatusPartiallyFilled))
	assert.Equal(t, 100, Progress(types.OrderStatusFilled))
	assert.Equal(t, 100, Progress(types.OrderStatusRejected))
	assert.Equal(t, 100, Progress(types.OrderStatusCancelled))
}
