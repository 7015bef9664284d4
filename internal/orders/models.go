package orders

import (
	"time"

	"github.com/oddslab/tradegate/internal/types"
	"gorm.io/gorm"
)

// Transition is an immutable audit record appended on every order-status
// transition. Transitions are never updated or deleted.
type Transition struct {
	gorm.Model     `json:"-"`
	TransitionID   string            `gorm:"uniqueIndex" json:"transition_id"`
	OrderID        string            `gorm:"index" json:"order_id"`
	FromStatus     types.OrderStatus `json:"from_status"`
	ToStatus       types.OrderStatus `json:"to_status"`
	Reason         string            `json:"reason,omitempty"`
	Metadata       string            `json:"metadata,omitempty"`
	TransitionedAt time.Time         `json:"transitioned_at"`
}
