package idempotency

import (
	"testing"
	"time"

	"github.com/oddslab/tradegate/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStorage is an in-memory Storage with the same unique-key semantics
// as the database implementation.
type memoryStorage struct {
	records map[string]*Record
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{records: make(map[string]*Record)}
}

func (m *memoryStorage) Get(key string) (*Record, error) {
	record, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (m *memoryStorage) Create(record *Record) error {
	if _, ok := m.records[record.Key]; ok {
		return ErrDuplicateKey
	}
	copied := *record
	m.records[record.Key] = &copied
	return nil
}

func (m *memoryStorage) Delete(key string) error {
	delete(m.records, key)
	return nil
}

func (m *memoryStorage) DeleteExpired(now time.Time) (int64, error) {
	var deleted int64
	for key, record := range m.records {
		if record.Expired(now) {
			delete(m.records, key)
			deleted++
		}
	}
	return deleted, nil
}

func newTestService(db Storage) *Service {
	return NewService(db, time.Hour)
}

func TestGenerateKeyDeterministicWithinMinute(t *testing.T) {
	s := newTestService(newMemoryStorage())
	at := time.Date(2026, 8, 1, 12, 30, 5, 0, time.UTC)

	first := s.GenerateKey("mkt-1", types.SideYes, 10, 0.55, at)
	second := s.GenerateKey("mkt-1", types.SideYes, 10, 0.55, at.Add(30*time.Second))
	assert.Equal(t, first, second)
	assert.Len(t, first, 32)

	nextBucket := s.GenerateKey("mkt-1", types.SideYes, 10, 0.55, at.Add(time.Minute))
	assert.NotEqual(t, first, nextBucket)

	otherSide := s.GenerateKey("mkt-1", types.SideNo, 10, 0.55, at)
	assert.NotEqual(t, first, otherSide)
}

func TestHashRequestIgnoresKeyOrder(t *testing.T) {
	first, err := HashRequest(map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)
	second, err := HashRequest(map[string]interface{}{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	third, err := HashRequest(map[string]interface{}{"a": 1, "b": 3})
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestCheckNewKeyThenReplayThenConflict(t *testing.T) {
	s := newTestService(newMemoryStorage())

	check, err := s.Check("key-1", "fp-1")
	require.NoError(t, err)
	assert.True(t, check.IsNew)

	_, err = s.RecordResponse("key-1", "fp-1", 201, `{"ok":true}`, "ord-1")
	require.NoError(t, err)

	check, err = s.Check("key-1", "fp-1")
	require.NoError(t, err)
	assert.False(t, check.IsNew)
	require.NotNil(t, check.Existing)
	assert.Equal(t, 201, check.Existing.Status)
	assert.Equal(t, "ord-1", check.Existing.OrderID)

	_, err = s.Check("key-1", "fp-other")
	require.Error(t, err)
	assert.True(t, IsConflict(err))
}

func TestRecordResponseDuplicateConvergesOnWinner(t *testing.T) {
	s := newTestService(newMemoryStorage())

	winner, err := s.RecordResponse("key-1", "fp-1", 201, "first", "ord-1")
	require.NoError(t, err)

	// A racing caller with the same fingerprint gets the winning record.
	replay, err := s.RecordResponse("key-1", "fp-1", 201, "second", "ord-2")
	require.NoError(t, err)
	assert.Equal(t, winner.Body, replay.Body)
	assert.Equal(t, winner.OrderID, replay.OrderID)

	// A racing caller with a different fingerprint conflicts.
	_, err = s.RecordResponse("key-1", "fp-other", 201, "third", "ord-3")
	require.Error(t, err)
	assert.True(t, IsConflict(err))
}

func TestExecuteCachesResponse(t *testing.T) {
	s := newTestService(newMemoryStorage())
	request := map[string]interface{}{"market_id": "mkt-1", "quantity": 10}

	var calls int
	fn := func() (int, string, string, error) {
		calls++
		return 201, `{"order_id":"ord-1"}`, "ord-1", nil
	}

	resp, err := s.Execute("key-1", request, fn)
	require.NoError(t, err)
	assert.False(t, resp.FromCache)
	assert.Equal(t, "ord-1", resp.OrderID)
	assert.Equal(t, 1, calls)

	resp, err = s.Execute("key-1", request, fn)
	require.NoError(t, err)
	assert.True(t, resp.FromCache)
	assert.Equal(t, "ord-1", resp.OrderID)
	assert.Equal(t, 1, calls)
}

func TestExpiredRecordTreatedAsAbsent(t *testing.T) {
	db := newMemoryStorage()
	s := newTestService(db)
	s.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

	_, err := s.RecordResponse("key-1", "fp-1", 200, "body", "")
	require.NoError(t, err)

	// Advance past the TTL; the record no longer shields the key.
	s.now = func() time.Time { return time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC) }

	record, err := s.Get("key-1")
	require.NoError(t, err)
	assert.Nil(t, record)

	check, err := s.Check("key-1", "fp-other")
	require.NoError(t, err)
	assert.True(t, check.IsNew)
}

func TestCleanupRemovesExpiredRecords(t *testing.T) {
	db := newMemoryStorage()
	s := newTestService(db)
	s.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

	_, err := s.RecordResponse("old", "fp-1", 200, "", "")
	require.NoError(t, err)

	s.now = func() time.Time { return time.Date(2026, 8, 1, 13, 30, 0, 0, time.UTC) }
	_, err = s.RecordResponse("fresh", "fp-2", 200, "", "")
	require.NoError(t, err)

	s.now = func() time.Time { return time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC) }
	deleted, err := s.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	record, err := s.Get("fresh")
	require.NoError(t, err)
	require.NotNil(t, record)
}
