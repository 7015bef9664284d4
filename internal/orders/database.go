package orders

import (
	"errors"

	"github.com/oddslab/tradegate/internal/types"
	"gorm.io/gorm"
)

// Storage is the persistence contract the order service depends on. Any
// backing store may implement it; the gorm Database below is the default.
type Storage interface {
	CreateOrder(order *types.Order) error
	GetOrder(orderID string) (*types.Order, error)
	UpdateOrder(order *types.Order) error
	ListOrdersByStrategy(strategyID string) ([]types.Order, error)
	AppendTransition(record *Transition) error
	ListTransitions(orderID string) ([]Transition, error)
}

// Database implements Storage on gorm.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateOrder(order *types.Order) error {
	return d.db.Create(order).Error
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) UpdateOrder(order *types.Order) error {
	return d.db.Save(order).Error
}

func (d *Database) ListOrdersByStrategy(strategyID string) ([]types.Order, error) {
	var out []types.Order
	if err := d.db.Where("strategy_id = ?", strategyID).Order("created_at desc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Database) AppendTransition(record *Transition) error {
	return d.db.Create(record).Error
}

func (d *Database) ListTransitions(orderID string) ([]Transition, error) {
	var out []Transition
	if err := d.db.Where("order_id = ?", orderID).Order("transitioned_at asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
