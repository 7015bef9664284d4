package pretrade

import (
	"github.com/oddslab/tradegate/internal/positions"
	"github.com/oddslab/tradegate/internal/types"
	"github.com/rs/zerolog/log"
)

// KillSwitchChecker is the kill switch capability the checker consumes.
type KillSwitchChecker interface {
	CheckBlocked(strategyID, marketID string) (bool, string, error)
}

// DailyLossChecker is the daily P&L capability the checker consumes.
type DailyLossChecker interface {
	CheckDailyLoss() (bool, string, error)
}

// CapChecker is the position cap capability the checker consumes.
type CapChecker interface {
	CheckCaps(req positions.CapCheckRequest) (*positions.CapDecision, error)
}

// Decision is the combined approve/reject outcome of all pre-trade checks.
type Decision struct {
	Approved       bool   `json:"approved"`
	BlockingReason string `json:"blocking_reason,omitempty"`
}

// Checker orchestrates the independent safety subsystems into one gating
// decision. Checks run cheapest-and-most-catastrophic first: kill switches,
// then the daily loss limit, then cap arithmetic, so an emergency stop never
// pays the cost of a cap computation. An unwired collaborator is skipped,
// not treated as a failure, so the checker supports partial configuration.
type Checker struct {
	killSwitches KillSwitchChecker
	dailyLoss    DailyLossChecker
	caps         CapChecker
}

// NewChecker wires a checker from its collaborators. Any of them may be nil.
func NewChecker(killSwitches KillSwitchChecker, dailyLoss DailyLossChecker, caps CapChecker) *Checker {
	return &Checker{
		killSwitches: killSwitches,
		dailyLoss:    dailyLoss,
		caps:         caps,
	}
}

// CheckOrder evaluates an order intent against every wired check,
// short-circuiting on the first failure. The failing check's reason is
// surfaced verbatim as the blocking reason.
func (c *Checker) CheckOrder(intent types.OrderIntent) (*Decision, error) {
	if c.killSwitches != nil {
		blocked, reason, err := c.killSwitches.CheckBlocked(intent.StrategyID, intent.MarketID)
		if err != nil {
			return nil, err
		}
		if blocked {
			log.Warn().
				Str("strategy_id", intent.StrategyID).
				Str("market_id", intent.MarketID).
				Str("reason", reason).
				Msg("order blocked by kill switch")
			return &Decision{Approved: false, BlockingReason: reason}, nil
		}
	}

	if c.dailyLoss != nil {
		breached, reason, err := c.dailyLoss.CheckDailyLoss()
		if err != nil {
			return nil, err
		}
		if breached {
			log.Warn().
				Str("strategy_id", intent.StrategyID).
				Str("reason", reason).
				Msg("order blocked by daily loss limit")
			return &Decision{Approved: false, BlockingReason: reason}, nil
		}
	}

	if c.caps != nil {
		decision, err := c.caps.CheckCaps(positions.CapCheckRequest{
			MarketID: intent.MarketID,
			Side:     intent.Side,
			Quantity: intent.Quantity,
			Price:    intent.Price,
		})
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			log.Warn().
				Str("strategy_id", intent.StrategyID).
				Str("market_id", intent.MarketID).
				Str("reason", decision.Reason).
				Msg("order blocked by position caps")
			return &Decision{Approved: false, BlockingReason: decision.Reason}, nil
		}
	}

	return &Decision{Approved: true}, nil
}
