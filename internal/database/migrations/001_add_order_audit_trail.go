package migrations

import (
	"github.com/oddslab/tradegate/internal/orders"
	"github.com/oddslab/tradegate/internal/types"
	"gorm.io/gorm"
)

// AddOrderAuditTrail creates the orders and order transitions tables and the
// indexes the admission path queries on.
func AddOrderAuditTrail(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Order{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&orders.Transition{}); err != nil {
		return err
	}

	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Composite index for per-order audit trail reads
		`CREATE INDEX IF NOT EXISTS idx_transitions_order_time
		 ON transitions(order_id, transitioned_at)`,

		// Index for status filtering on open-order sweeps
		`CREATE INDEX IF NOT EXISTS idx_orders_status
		 ON orders(status)`,

		// Composite index for per-strategy order history
		`CREATE INDEX IF NOT EXISTS idx_orders_strategy_created
		 ON orders(strategy_id, created_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
