package pnl

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// DailyPnL accumulates realized profit and loss per strategy per UTC day.
type DailyPnL struct {
	gorm.Model `json:"-"`
	Day        string  `gorm:"index:idx_daily_pnl_day_strategy,unique" json:"day"`
	StrategyID string  `gorm:"index:idx_daily_pnl_day_strategy,unique" json:"strategy_id"`
	Realized   float64 `json:"realized"`
}

// Storage is the persistence contract for daily P&L rows.
type Storage interface {
	Get(day, strategyID string) (*DailyPnL, error)
	Save(row *DailyPnL) error
	SumDay(day string) (float64, error)
}

// Database implements Storage on gorm.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) Get(day, strategyID string) (*DailyPnL, error) {
	var row DailyPnL
	if err := d.db.Where("day = ? AND strategy_id = ?", day, strategyID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (d *Database) Save(row *DailyPnL) error {
	return d.db.Save(row).Error
}

func (d *Database) SumDay(day string) (float64, error) {
	var total float64
	err := d.db.Model(&DailyPnL{}).Where("day = ?", day).
		Select("COALESCE(SUM(realized), 0)").Scan(&total).Error
	return total, err
}

// Tracker records realized P&L and enforces the daily loss limit the
// pre-trade check consults. A zero limit disables the check.
type Tracker struct {
	db           Storage
	maxDailyLoss float64
	now          func() time.Time
}

// NewTracker creates a tracker with the given daily loss limit (a positive
// number of dollars; losses are compared against its negation).
func NewTracker(db Storage, maxDailyLoss float64) *Tracker {
	return &Tracker{db: db, maxDailyLoss: maxDailyLoss, now: time.Now}
}

// AddRealized records realized P&L for a strategy on today's row.
func (t *Tracker) AddRealized(strategyID string, amount float64) error {
	day := t.day()
	row, err := t.db.Get(day, strategyID)
	if err != nil {
		return err
	}
	if row == nil {
		row = &DailyPnL{Day: day, StrategyID: strategyID}
	}
	row.Realized += amount

	if err := t.db.Save(row); err != nil {
		return fmt.Errorf("failed to record realized pnl: %w", err)
	}

	log.Debug().
		Str("strategy_id", strategyID).
		Float64("amount", amount).
		Float64("day_total", row.Realized).
		Msg("realized pnl recorded")

	return nil
}

// TodayTotal returns the portfolio-wide realized P&L for the current UTC day.
func (t *Tracker) TodayTotal() (float64, error) {
	return t.db.SumDay(t.day())
}

// CheckDailyLoss reports whether today's realized loss has reached the
// configured limit.
func (t *Tracker) CheckDailyLoss() (bool, string, error) {
	if t.maxDailyLoss <= 0 {
		return false, "", nil
	}

	total, err := t.TodayTotal()
	if err != nil {
		return false, "", err
	}

	if total <= -t.maxDailyLoss {
		return true, fmt.Sprintf("daily loss limit reached: realized %.2f against limit %.2f", total, t.maxDailyLoss), nil
	}
	return false, "", nil
}

func (t *Tracker) day() string {
	return t.now().UTC().Format("2006-01-02")
}
