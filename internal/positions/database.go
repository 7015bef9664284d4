package positions

import (
	"errors"

	"gorm.io/gorm"
)

// Storage is the persistence contract for markets, positions and caps.
type Storage interface {
	GetMarket(marketID string) (*Market, error)
	GetMarketByExternalID(externalID string) (*Market, error)
	CreateMarket(market *Market) error
	UpdateMarket(market *Market) error
	ListMarkets() ([]Market, error)
	GetPosition(marketID string) (*Position, error)
	GetAllPositions() ([]Position, error)
	UpsertPosition(position *Position) error
	GetGlobalCaps() ([]Cap, error)
	UpsertCap(cap *Cap) error
	GetTotalPortfolioValue() (float64, error)
}

// Database implements Storage on gorm.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetMarket(marketID string) (*Market, error) {
	var market Market
	if err := d.db.Where("market_id = ?", marketID).First(&market).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &market, nil
}

func (d *Database) GetMarketByExternalID(externalID string) (*Market, error) {
	var market Market
	if err := d.db.Where("external_id = ?", externalID).First(&market).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &market, nil
}

func (d *Database) CreateMarket(market *Market) error {
	return d.db.Create(market).Error
}

func (d *Database) UpdateMarket(market *Market) error {
	return d.db.Save(market).Error
}

func (d *Database) ListMarkets() ([]Market, error) {
	var markets []Market
	if err := d.db.Order("market_id asc").Find(&markets).Error; err != nil {
		return nil, err
	}
	return markets, nil
}

func (d *Database) GetPosition(marketID string) (*Position, error) {
	var position Position
	if err := d.db.Where("market_id = ?", marketID).First(&position).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}

func (d *Database) GetAllPositions() ([]Position, error) {
	var positions []Position
	if err := d.db.Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

func (d *Database) UpsertPosition(position *Position) error {
	existing, err := d.GetPosition(position.MarketID)
	if err != nil {
		return err
	}
	if existing != nil {
		position.ID = existing.ID
	}
	return d.db.Save(position).Error
}

func (d *Database) GetGlobalCaps() ([]Cap, error) {
	var caps []Cap
	if err := d.db.Where("scope = ?", ScopeGlobal).Find(&caps).Error; err != nil {
		return nil, err
	}
	return caps, nil
}

func (d *Database) UpsertCap(cap *Cap) error {
	var existing Cap
	err := d.db.Where("scope = ? AND cap_type = ?", cap.Scope, cap.CapType).First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err == nil {
		cap.ID = existing.ID
	}
	return d.db.Save(cap).Error
}

func (d *Database) GetTotalPortfolioValue() (float64, error) {
	var total float64
	err := d.db.Model(&Position{}).Select("COALESCE(SUM(ABS(notional)), 0)").Scan(&total).Error
	return total, err
}
