package pretrade

import (
	"testing"

	"github.com/oddslab/tradegate/internal/positions"
	"github.com/oddslab/tradegate/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKillSwitches struct {
	blocked bool
	reason  string
	calls   int
}

func (f *fakeKillSwitches) CheckBlocked(strategyID, marketID string) (bool, string, error) {
	f.calls++
	return f.blocked, f.reason, nil
}

type fakeDailyLoss struct {
	breached bool
	reason   string
	calls    int
}

func (f *fakeDailyLoss) CheckDailyLoss() (bool, string, error) {
	f.calls++
	return f.breached, f.reason, nil
}

type fakeCaps struct {
	decision positions.CapDecision
	calls    int
}

func (f *fakeCaps) CheckCaps(req positions.CapCheckRequest) (*positions.CapDecision, error) {
	f.calls++
	decision := f.decision
	return &decision, nil
}

func testIntent() types.OrderIntent {
	return types.OrderIntent{
		StrategyID: "strat-1",
		MarketID:   "mkt-1",
		Side:       types.SideYes,
		Quantity:   10,
		Price:      50,
	}
}

func TestCheckOrderApprovesWhenAllChecksPass(t *testing.T) {
	killSwitches := &fakeKillSwitches{}
	dailyLoss := &fakeDailyLoss{}
	caps := &fakeCaps{decision: positions.CapDecision{Allowed: true}}
	c := NewChecker(killSwitches, dailyLoss, caps)

	decision, err := c.CheckOrder(testIntent())
	require.NoError(t, err)
	assert.True(t, decision.Approved)
	assert.Empty(t, decision.BlockingReason)
	assert.Equal(t, 1, killSwitches.calls)
	assert.Equal(t, 1, dailyLoss.calls)
	assert.Equal(t, 1, caps.calls)
}

func TestCheckOrderKillSwitchShortCircuits(t *testing.T) {
	killSwitches := &fakeKillSwitches{blocked: true, reason: "global kill switch active: halt"}
	dailyLoss := &fakeDailyLoss{}
	caps := &fakeCaps{decision: positions.CapDecision{Allowed: true}}
	c := NewChecker(killSwitches, dailyLoss, caps)

	decision, err := c.CheckOrder(testIntent())
	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.Equal(t, "global kill switch active: halt", decision.BlockingReason)
	assert.Equal(t, 0, dailyLoss.calls)
	assert.Equal(t, 0, caps.calls)
}

func TestCheckOrderDailyLossRunsBeforeCaps(t *testing.T) {
	killSwitches := &fakeKillSwitches{}
	dailyLoss := &fakeDailyLoss{breached: true, reason: "daily loss limit reached"}
	caps := &fakeCaps{decision: positions.CapDecision{Allowed: false, Reason: "exceeds max"}}
	c := NewChecker(killSwitches, dailyLoss, caps)

	decision, err := c.CheckOrder(testIntent())
	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.Equal(t, "daily loss limit reached", decision.BlockingReason)
	assert.Equal(t, 0, caps.calls)
}

func TestCheckOrderSurfacesCapReasonVerbatim(t *testing.T) {
	caps := &fakeCaps{decision: positions.CapDecision{
		Allowed: false,
		Reason:  "prospective position 120.00 exceeds max position size 100.00 for market mkt-1",
	}}
	c := NewChecker(&fakeKillSwitches{}, &fakeDailyLoss{}, caps)

	decision, err := c.CheckOrder(testIntent())
	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.Equal(t, caps.decision.Reason, decision.BlockingReason)
}

func TestCheckOrderSkipsNilCollaborators(t *testing.T) {
	c := NewChecker(nil, nil, nil)

	decision, err := c.CheckOrder(testIntent())
	require.NoError(t, err)
	assert.True(t, decision.Approved)
}
