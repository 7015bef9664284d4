package killswitch

import (
	"time"

	"gorm.io/gorm"
)

// Level is the scope a kill switch blocks. A switch at a broader level
// dominates narrower ones: an active GLOBAL switch blocks all order
// admission regardless of STRATEGY or MARKET state.
type Level string

const (
	LevelGlobal   Level = "GLOBAL"
	LevelStrategy Level = "STRATEGY"
	LevelMarket   Level = "MARKET"
)

// KillSwitch is a circuit breaker blocking order admission at its scope
// until reset.
type KillSwitch struct {
	gorm.Model  `json:"-"`
	SwitchID    string     `gorm:"uniqueIndex" json:"switch_id"`
	Level       Level      `gorm:"index" json:"level"`
	TargetID    string     `gorm:"index" json:"target_id,omitempty"`
	Active      bool       `gorm:"index" json:"active"`
	Reason      string     `json:"reason"`
	TriggeredBy string     `json:"triggered_by"`
	TriggeredAt time.Time  `json:"triggered_at"`
	AutoResetAt *time.Time `json:"auto_reset_at,omitempty"`
	ResetBy     string     `json:"reset_by,omitempty"`
	ResetAt     *time.Time `json:"reset_at,omitempty"`
}

// Config holds the per-level thresholds collaborators consult when deciding
// whether to trigger a switch. The admission path never reads these.
type Config struct {
	gorm.Model   `json:"-"`
	Level        Level   `gorm:"uniqueIndex" json:"level"`
	MaxDailyLoss float64 `json:"max_daily_loss"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	MaxErrorRate float64 `json:"max_error_rate"`
	MaxLatencyMs int     `json:"max_latency_ms"`
}
