package idempotency

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrDuplicateKey is returned by Storage.Create when a record already exists
// under the key. The unique constraint on the key column is what makes the
// check-then-record sequence safe under concurrency: two racing callers both
// reach Create, and exactly one insert wins.
var ErrDuplicateKey = errors.New("idempotency key already recorded")

// Storage is the persistence contract for idempotency records. Create must
// be an atomic unique-constraint insert.
type Storage interface {
	Get(key string) (*Record, error)
	Create(record *Record) error
	Delete(key string) error
	DeleteExpired(now time.Time) (int64, error)
}

// Database implements Storage on gorm.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) Get(key string) (*Record, error) {
	var record Record
	if err := d.db.Where("key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (d *Database) Create(record *Record) error {
	if err := d.db.Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (d *Database) Delete(key string) error {
	return d.db.Unscoped().Where("key = ?", key).Delete(&Record{}).Error
}

func (d *Database) DeleteExpired(now time.Time) (int64, error) {
	result := d.db.Unscoped().Where("expires_at <= ?", now).Delete(&Record{})
	return result.RowsAffected, result.Error
}
