package database

import (
	"fmt"

	"github.com/oddslab/tradegate/internal/database/migrations"
	"github.com/oddslab/tradegate/internal/idempotency"
	"github.com/oddslab/tradegate/internal/killswitch"
	"github.com/oddslab/tradegate/internal/pnl"
	"github.com/oddslab/tradegate/internal/positions"
	"github.com/oddslab/tradegate/internal/strategy"
	"github.com/oddslab/tradegate/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "tradegate.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddOrderAuditTrail(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.Signal{},
		&idempotency.Record{},
		&killswitch.KillSwitch{},
		&killswitch.Config{},
		&positions.Market{},
		&positions.Position{},
		&positions.Cap{},
		&pnl.DailyPnL{},
		&strategy.Config{},
		&strategy.State{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
