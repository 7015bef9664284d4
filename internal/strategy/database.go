package strategy

import (
	"errors"
	"time"

	"github.com/oddslab/tradegate/internal/types"
	"gorm.io/gorm"
)

// ConfigStorage is the persistence contract for strategy configs.
type ConfigStorage interface {
	GetConfig(strategyID string) (*Config, error)
	ListConfigs() ([]Config, error)
	ListEnabledConfigs() ([]Config, error)
	UpsertConfig(cfg *Config) error
	DeleteConfig(strategyID string) error
}

// StateStorage is the persistence contract for strategy runtime state.
type StateStorage interface {
	GetState(strategyID string) (*State, error)
	SaveState(state *State) error
	ListStates() ([]State, error)
}

// SignalStorage is the persistence contract for signals. Signals are
// historical records; only expired pending signals are ever deleted.
type SignalStorage interface {
	SaveSignal(signal *types.Signal) error
	UpdateSignal(signal *types.Signal) error
	GetSignal(signalID string) (*types.Signal, error)
	CountExecutedSince(strategyID string, since time.Time) (int64, error)
	DeleteExpiredPending(now time.Time) (int64, error)
}

// Database implements the three storage contracts on gorm.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetConfig(strategyID string) (*Config, error) {
	var cfg Config
	if err := d.db.Where("strategy_id = ?", strategyID).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (d *Database) ListConfigs() ([]Config, error) {
	var configs []Config
	if err := d.db.Order("strategy_id asc").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

func (d *Database) ListEnabledConfigs() ([]Config, error) {
	var configs []Config
	if err := d.db.Where("enabled = ?", true).Order("strategy_id asc").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

func (d *Database) UpsertConfig(cfg *Config) error {
	existing, err := d.GetConfig(cfg.StrategyID)
	if err != nil {
		return err
	}
	if existing != nil {
		cfg.ID = existing.ID
	}
	return d.db.Save(cfg).Error
}

func (d *Database) DeleteConfig(strategyID string) error {
	return d.db.Unscoped().Where("strategy_id = ?", strategyID).Delete(&Config{}).Error
}

func (d *Database) GetState(strategyID string) (*State, error) {
	var state State
	if err := d.db.Where("strategy_id = ?", strategyID).First(&state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

func (d *Database) SaveState(state *State) error {
	existing, err := d.GetState(state.StrategyID)
	if err != nil {
		return err
	}
	if existing != nil {
		state.ID = existing.ID
	}
	return d.db.Save(state).Error
}

func (d *Database) ListStates() ([]State, error) {
	var states []State
	if err := d.db.Order("strategy_id asc").Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}

func (d *Database) SaveSignal(signal *types.Signal) error {
	return d.db.Create(signal).Error
}

func (d *Database) UpdateSignal(signal *types.Signal) error {
	return d.db.Save(signal).Error
}

func (d *Database) GetSignal(signalID string) (*types.Signal, error) {
	var signal types.Signal
	if err := d.db.Where("signal_id = ?", signalID).First(&signal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &signal, nil
}

func (d *Database) CountExecutedSince(strategyID string, since time.Time) (int64, error) {
	var count int64
	err := d.db.Model(&types.Signal{}).
		Where("strategy_id = ? AND status = ? AND executed_at >= ?", strategyID, types.SignalStatusExecuted, since).
		Count(&count).Error
	return count, err
}

func (d *Database) DeleteExpiredPending(now time.Time) (int64, error) {
	result := d.db.Unscoped().
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", types.SignalStatusPending, now).
		Delete(&types.Signal{})
	return result.RowsAffected, result.Error
}
