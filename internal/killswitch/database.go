package killswitch

import (
	"errors"

	"gorm.io/gorm"
)

// Storage is the persistence contract for kill switches and their config.
type Storage interface {
	GetActive() ([]KillSwitch, error)
	GetByLevel(level Level) ([]KillSwitch, error)
	GetByID(switchID string) (*KillSwitch, error)
	Create(sw *KillSwitch) error
	Update(sw *KillSwitch) error
	GetConfig(level Level) (*Config, error)
	SetConfig(cfg *Config) error
}

// Database implements Storage on gorm.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetActive() ([]KillSwitch, error) {
	var switches []KillSwitch
	if err := d.db.Where("active = ?", true).Order("triggered_at asc").Find(&switches).Error; err != nil {
		return nil, err
	}
	return switches, nil
}

func (d *Database) GetByLevel(level Level) ([]KillSwitch, error) {
	var switches []KillSwitch
	if err := d.db.Where("level = ? AND active = ?", level, true).Find(&switches).Error; err != nil {
		return nil, err
	}
	return switches, nil
}

func (d *Database) GetByID(switchID string) (*KillSwitch, error) {
	var sw KillSwitch
	if err := d.db.Where("switch_id = ?", switchID).First(&sw).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sw, nil
}

func (d *Database) Create(sw *KillSwitch) error {
	return d.db.Create(sw).Error
}

func (d *Database) Update(sw *KillSwitch) error {
	return d.db.Save(sw).Error
}

func (d *Database) GetConfig(level Level) (*Config, error) {
	var cfg Config
	if err := d.db.Where("level = ?", level).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (d *Database) SetConfig(cfg *Config) error {
	existing, err := d.GetConfig(cfg.Level)
	if err != nil {
		return err
	}
	if existing != nil {
		cfg.ID = existing.ID
	}
	return d.db.Save(cfg).Error
}
