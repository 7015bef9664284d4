package positions

import (
	"gorm.io/gorm"
)

// CapType distinguishes contract-count caps from notional-value caps.
type CapType string

const (
	CapTypePositionSize CapType = "POSITION_SIZE"
	CapTypeNotional     CapType = "NOTIONAL"
)

// ScopeGlobal is the cap scope covering the whole portfolio.
const ScopeGlobal = "GLOBAL"

// Market is a tradeable prediction market with its per-market caps. Caps are
// read-only to the admission path and mutated only by configuration.
type Market struct {
	gorm.Model      `json:"-"`
	MarketID        string  `gorm:"uniqueIndex" json:"market_id"`
	ExternalID      string  `gorm:"uniqueIndex" json:"external_id"`
	Title           string  `json:"title"`
	Category        string  `json:"category"`
	MaxPositionSize float64 `json:"max_position_size"`
	MaxNotional     float64 `json:"max_notional"`
}

// Position is the current signed exposure in one market. YES exposure is
// positive, NO exposure negative.
type Position struct {
	gorm.Model `json:"-"`
	MarketID   string  `gorm:"uniqueIndex" json:"market_id"`
	Quantity   float64 `json:"quantity"`
	AvgPrice   float64 `json:"avg_price"`
	Notional   float64 `json:"notional"`
}

// Cap is a configured exposure ceiling for a scope (GLOBAL or a market ID).
type Cap struct {
	gorm.Model `json:"-"`
	Scope      string  `gorm:"index:idx_caps_scope_type,unique" json:"scope"`
	CapType    CapType `gorm:"index:idx_caps_scope_type,unique" json:"cap_type"`
	LimitValue float64 `json:"limit_value"`
}
