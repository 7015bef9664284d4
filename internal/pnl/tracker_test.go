package pnl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStorage struct {
	rows map[string]*DailyPnL
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{rows: make(map[string]*DailyPnL)}
}

func (m *memoryStorage) Get(day, strategyID string) (*DailyPnL, error) {
	if row, ok := m.rows[day+"|"+strategyID]; ok {
		copied := *row
		return &copied, nil
	}
	return nil, nil
}

func (m *memoryStorage) Save(row *DailyPnL) error {
	copied := *row
	m.rows[row.Day+"|"+row.StrategyID] = &copied
	return nil
}

func (m *memoryStorage) SumDay(day string) (float64, error) {
	var total float64
	for _, row := range m.rows {
		if row.Day == day {
			total += row.Realized
		}
	}
	return total, nil
}

func TestAddRealizedAccumulatesPerDay(t *testing.T) {
	tracker := NewTracker(newMemoryStorage(), 1000)
	tracker.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, tracker.AddRealized("strat-1", -100))
	require.NoError(t, tracker.AddRealized("strat-1", 40))
	require.NoError(t, tracker.AddRealized("strat-2", -50))

	total, err := tracker.TodayTotal()
	require.NoError(t, err)
	assert.InDelta(t, -110, total, 1e-9)

	// A new UTC day starts from zero.
	tracker.now = func() time.Time { return time.Date(2026, 8, 2, 0, 30, 0, 0, time.UTC) }
	total, err = tracker.TodayTotal()
	require.NoError(t, err)
	assert.InDelta(t, 0, total, 1e-9)
}

func TestCheckDailyLossBreach(t *testing.T) {
	tracker := NewTracker(newMemoryStorage(), 500)
	tracker.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, tracker.AddRealized("strat-1", -499))
	breached, _, err := tracker.CheckDailyLoss()
	require.NoError(t, err)
	assert.False(t, breached)

	require.NoError(t, tracker.AddRealized("strat-2", -1))
	breached, reason, err := tracker.CheckDailyLoss()
	require.NoError(t, err)
	assert.True(t, breached)
	assert.Contains(t, reason, "daily loss limit reached")
}

func TestZeroLimitDisablesCheck(t *testing.T) {
	tracker := NewTracker(newMemoryStorage(), 0)

	require.NoError(t, tracker.AddRealized("strat-1", -1000000))
	breached, _, err := tracker.CheckDailyLoss()
	require.NoError(t, err)
	assert.False(t, breached)
}
