package killswitch

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/oddslab/tradegate/internal/metrics"
	"github.com/oddslab/tradegate/pkg/response"
	"github.com/rs/zerolog/log"
)

var ErrSwitchNotFound = errors.New("kill switch not found")

// Service manages the multi-level circuit breaker. Admission paths consult
// CheckBlocked on every order; switches are never cached so one triggered
// mid-run is observed by the next check.
type Service struct {
	db  Storage
	now func() time.Time
}

// NewService creates a kill switch service.
func NewService(db Storage) *Service {
	return &Service{db: db, now: time.Now}
}

// GetActive returns all currently active switches, lazily deactivating any
// whose auto-reset time has passed.
func (s *Service) GetActive() ([]KillSwitch, error) {
	switches, err := s.db.GetActive()
	if err != nil {
		return nil, err
	}

	now := s.now()
	active := switches[:0]
	for i := range switches {
		sw := switches[i]
		if sw.AutoResetAt != nil && !sw.AutoResetAt.After(now) {
			sw.Active = false
			sw.ResetBy = "auto"
			resetAt := now
			sw.ResetAt = &resetAt
			if err := s.db.Update(&sw); err != nil {
				log.Error().Err(err).Str("switch_id", sw.SwitchID).Msg("failed to auto-reset kill switch")
			}
			continue
		}
		active = append(active, sw)
	}
	return active, nil
}

// EmergencyStop creates an active GLOBAL switch, halting all order admission.
func (s *Service) EmergencyStop(triggeredBy, reason string) (*KillSwitch, error) {
	return s.Trigger(LevelGlobal, "", triggeredBy, reason, nil)
}

// Trigger activates a switch at the given level. TargetID scopes STRATEGY
// and MARKET switches and is ignored for GLOBAL.
func (s *Service) Trigger(level Level, targetID, triggeredBy, reason string, autoResetAt *time.Time) (*KillSwitch, error) {
	sw := &KillSwitch{
		SwitchID:    uuid.New().String(),
		Level:       level,
		TargetID:    targetID,
		Active:      true,
		Reason:      reason,
		TriggeredBy: triggeredBy,
		TriggeredAt: s.now(),
		AutoResetAt: autoResetAt,
	}
	if level == LevelGlobal {
		sw.TargetID = ""
	}

	if err := s.db.Create(sw); err != nil {
		return nil, fmt.Errorf("failed to create kill switch: %w", err)
	}

	metrics.KillSwitchActivated(string(level))

	log.Warn().
		Str("switch_id", sw.SwitchID).
		Str("level", string(sw.Level)).
		Str("target_id", sw.TargetID).
		Str("triggered_by", triggeredBy).
		Str("reason", reason).
		Msg("kill switch triggered")

	return sw, nil
}

// Reset deactivates a switch, stamping who reset it and when.
func (s *Service) Reset(switchID, resetBy string) error {
	sw, err := s.db.GetByID(switchID)
	if err != nil {
		return err
	}
	if sw == nil {
		return ErrSwitchNotFound
	}

	now := s.now()
	sw.Active = false
	sw.ResetBy = resetBy
	sw.ResetAt = &now

	if err := s.db.Update(sw); err != nil {
		return fmt.Errorf("failed to reset kill switch %s: %w", switchID, err)
	}

	log.Info().
		Str("switch_id", switchID).
		Str("reset_by", resetBy).
		Msg("kill switch reset")

	return nil
}

// CheckBlocked reports whether an order for the given strategy and market is
// blocked by any active switch. GLOBAL dominates STRATEGY and MARKET.
func (s *Service) CheckBlocked(strategyID, marketID string) (bool, string, error) {
	active, err := s.GetActive()
	if err != nil {
		return false, "", err
	}

	// Global first: an emergency stop must block before any scoped check.
	for _, sw := range active {
		if sw.Level == LevelGlobal {
			return true, fmt.Sprintf("global kill switch active: %s", sw.Reason), nil
		}
	}
	for _, sw := range active {
		if sw.Level == LevelStrategy && sw.TargetID == strategyID {
			return true, fmt.Sprintf("strategy kill switch active for %s: %s", strategyID, sw.Reason), nil
		}
	}
	for _, sw := range active {
		if sw.Level == LevelMarket && sw.TargetID == marketID {
			return true, fmt.Sprintf("market kill switch active for %s: %s", marketID, sw.Reason), nil
		}
	}

	return false, "", nil
}

// GetConfig returns the thresholds for a level, or nil when unset.
func (s *Service) GetConfig(level Level) (*Config, error) {
	return s.db.GetConfig(level)
}

// SetConfig upserts the thresholds for a level.
func (s *Service) SetConfig(cfg *Config) error {
	return s.db.SetConfig(cfg)
}

// GinHandlers contains HTTP handlers for kill switch endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// EmergencyStopHandler handles POST requests to trigger a global stop.
func (h *GinHandlers) EmergencyStopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Reason string `json:"reason" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		triggeredBy := c.GetString("clientID")
		if triggeredBy == "" {
			triggeredBy = "operator"
		}

		sw, err := h.service.EmergencyStop(triggeredBy, request.Reason)
		response.Handle(c, sw, err)
	}
}

// TriggerHandler handles POST requests to trigger a scoped switch.
func (h *GinHandlers) TriggerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Level       Level      `json:"level" binding:"required"`
			TargetID    string     `json:"target_id"`
			Reason      string     `json:"reason" binding:"required"`
			AutoResetAt *time.Time `json:"auto_reset_at"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if request.Level != LevelGlobal && request.TargetID == "" {
			response.BadRequest(c, "target_id is required for scoped kill switches")
			return
		}

		sw, err := h.service.Trigger(request.Level, request.TargetID, c.GetString("clientID"), request.Reason, request.AutoResetAt)
		response.Handle(c, sw, err)
	}
}

// ListActiveHandler handles GET requests for active switches.
func (h *GinHandlers) ListActiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		switches, err := h.service.GetActive()
		response.Handle(c, switches, err)
	}
}

// ResetHandler handles POST requests to reset a switch.
func (h *GinHandlers) ResetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		switchID := c.Param("switch_id")

		resetBy := c.GetString("clientID")
		if resetBy == "" {
			resetBy = "operator"
		}

		if err := h.service.Reset(switchID, resetBy); err != nil {
			if errors.Is(err, ErrSwitchNotFound) {
				response.NotFound(c, "Kill switch not found")
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, gin.H{"message": "kill switch reset"})
	}
}

// SetConfigHandler handles PUT requests for per-level thresholds.
func (h *GinHandlers) SetConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var cfg Config
		if err := c.ShouldBindJSON(&cfg); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if cfg.Level == "" {
			response.BadRequest(c, "level is required")
			return
		}

		if err := h.service.SetConfig(&cfg); err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, cfg)
	}
}
