package idempotency

import (
	"time"

	"gorm.io/gorm"
)

// Record maps an idempotency key to the fingerprint of the request that
// claimed it and the response recorded for that request. While a record is
// unexpired, exactly one fingerprint may ever be stored under its key.
type Record struct {
	gorm.Model  `json:"-"`
	Key         string    `gorm:"uniqueIndex" json:"key"`
	Fingerprint string    `json:"fingerprint"`
	Status      int       `json:"status"`
	Body        string    `json:"body,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the record's TTL has passed.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
