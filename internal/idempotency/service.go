package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oddslab/tradegate/internal/types"
	"github.com/rs/zerolog/log"
)

// DefaultTTL is how long a recorded response shields retries.
const DefaultTTL = 24 * time.Hour

// hashLength truncates SHA-256 digests to 32 hex characters for keys and
// fingerprints.
const hashLength = 32

// ConflictError reports reuse of an idempotency key with a request that does
// not match the one originally recorded.
type ConflictError struct {
	Key string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("idempotency key %s already used with a different request", e.Key)
}

// IsConflict reports whether err is an idempotency conflict.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// CheckResult is the outcome of checking a key before executing a request.
type CheckResult struct {
	IsNew    bool
	Existing *Record
}

// Response is what Execute returns: the recorded status and body, and
// whether they came from the cache instead of a fresh invocation.
type Response struct {
	Status    int
	Body      string
	OrderID   string
	FromCache bool
}

// Service deduplicates externally-retried operations by key plus request
// fingerprint.
type Service struct {
	db  Storage
	ttl time.Duration
	now func() time.Time
}

// NewService creates an idempotency service with the given TTL. A zero ttl
// selects DefaultTTL.
func NewService(db Storage, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{db: db, ttl: ttl, now: time.Now}
}

// GenerateKey derives a deterministic key from the order parameters and a
// 1-minute time bucket, so identical requests within the same minute collide
// intentionally and client retries are safe. Requests issued just either
// side of a minute boundary land in different buckets and are NOT
// deduplicated; callers that need exact retry semantics should pass the
// original request timestamp.
func (s *Service) GenerateKey(marketID string, side types.Side, quantity, price float64, at time.Time) string {
	if at.IsZero() {
		at = s.now()
	}
	bucket := at.UTC().Truncate(time.Minute).Unix()
	payload := fmt.Sprintf("%s|%s|%f|%f|%d", marketID, side, quantity, price, bucket)
	return truncatedHash([]byte(payload))
}

// GenerateRandomKey returns a caller-opaque key for requests with no natural
// identity.
func (s *Service) GenerateRandomKey() string {
	return truncatedHash([]byte(uuid.New().String()))
}

// HashRequest fingerprints a request object. The object is passed through a
// canonical JSON encoding so that key order does not affect the hash.
func HashRequest(request interface{}) (string, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	// Re-encode through interface{} so maps serialize with sorted keys.
	var canonical interface{}
	if err := json.Unmarshal(raw, &canonical); err != nil {
		return "", fmt.Errorf("failed to canonicalize request: %w", err)
	}
	raw, err = json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("failed to encode canonical request: %w", err)
	}

	return truncatedHash(raw), nil
}

// Get returns the unexpired record for a key, or nil. Expired records are
// treated as absent.
func (s *Service) Get(key string) (*Record, error) {
	record, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Expired(s.now()) {
		return nil, nil
	}
	return record, nil
}

// Check looks up a key before executing a request. A fresh key returns
// IsNew. A key already recorded with the same fingerprint returns the
// existing record. A key recorded with a different fingerprint is a
// ConflictError, never an overwrite.
func (s *Service) Check(key, fingerprint string) (*CheckResult, error) {
	record, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return &CheckResult{IsNew: true}, nil
	}
	if record.Fingerprint != fingerprint {
		return nil, &ConflictError{Key: key}
	}
	return &CheckResult{IsNew: false, Existing: record}, nil
}

// RecordResponse stores the response for a key. The insert is atomic on the
// key's unique constraint; if another caller won the race, the winning
// record is returned when the fingerprints match and a ConflictError when
// they do not.
func (s *Service) RecordResponse(key, fingerprint string, status int, body, orderID string) (*Record, error) {
	record := &Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      status,
		Body:        body,
		OrderID:     orderID,
		ExpiresAt:   s.now().Add(s.ttl),
	}

	err := s.db.Create(record)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, ErrDuplicateKey) {
		return nil, err
	}

	existing, getErr := s.Get(key)
	if getErr != nil {
		return nil, getErr
	}
	if existing == nil || existing.Fingerprint != fingerprint {
		return nil, &ConflictError{Key: key}
	}
	return existing, nil
}

// Execute wraps check / fn / record so that a retried call with identical
// parameters returns the cached response without re-invoking fn.
func (s *Service) Execute(key string, request interface{}, fn func() (int, string, string, error)) (*Response, error) {
	fingerprint, err := HashRequest(request)
	if err != nil {
		return nil, err
	}

	check, err := s.Check(key, fingerprint)
	if err != nil {
		return nil, err
	}
	if !check.IsNew {
		log.Debug().
			Str("key", key).
			Int("status", check.Existing.Status).
			Msg("idempotent replay served from cache")
		return &Response{
			Status:    check.Existing.Status,
			Body:      check.Existing.Body,
			OrderID:   check.Existing.OrderID,
			FromCache: true,
		}, nil
	}

	status, body, orderID, err := fn()
	if err != nil {
		return nil, err
	}

	record, err := s.RecordResponse(key, fingerprint, status, body, orderID)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status:  record.Status,
		Body:    record.Body,
		OrderID: record.OrderID,
	}, nil
}

// Invalidate removes a key so the next request re-executes.
func (s *Service) Invalidate(key string) error {
	return s.db.Delete(key)
}

// Cleanup removes expired records and returns the count deleted.
func (s *Service) Cleanup() (int64, error) {
	deleted, err := s.db.DeleteExpired(s.now())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("cleaned up expired idempotency records")
	}
	return deleted, nil
}

func truncatedHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:hashLength]
}
