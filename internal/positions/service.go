package positions

import (
	"fmt"
	"math"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/oddslab/tradegate/internal/types"
	"github.com/oddslab/tradegate/pkg/response"
	"github.com/rs/zerolog/log"
)

// CapCheckRequest is the exposure a caller wants to add.
type CapCheckRequest struct {
	MarketID string
	Side     types.Side
	Quantity float64
	Price    float64
}

// CapDecision is the outcome of a cap check.
type CapDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Service enforces per-market and global exposure limits. Checks compute
// prospective exposure; positions themselves change only after a confirmed
// fill, never speculatively.
type Service struct {
	db Storage
}

// NewService creates a position cap service.
func NewService(db Storage) *Service {
	return &Service{db: db}
}

// EnsureMarket upserts a market by external ID and returns it. Existing
// markets have their metadata and caps refreshed.
func (s *Service) EnsureMarket(externalID, title, category string, maxPositionSize, maxNotional float64) (*Market, error) {
	market, err := s.db.GetMarketByExternalID(externalID)
	if err != nil {
		return nil, err
	}

	if market == nil {
		market = &Market{
			MarketID:        uuid.New().String(),
			ExternalID:      externalID,
			Title:           title,
			Category:        category,
			MaxPositionSize: maxPositionSize,
			MaxNotional:     maxNotional,
		}
		if err := s.db.CreateMarket(market); err != nil {
			return nil, fmt.Errorf("failed to create market: %w", err)
		}
		log.Info().
			Str("market_id", market.MarketID).
			Str("external_id", externalID).
			Msg("market registered")
		return market, nil
	}

	market.Title = title
	market.Category = category
	market.MaxPositionSize = maxPositionSize
	market.MaxNotional = maxNotional
	if err := s.db.UpdateMarket(market); err != nil {
		return nil, fmt.Errorf("failed to update market: %w", err)
	}
	return market, nil
}

// CheckCaps decides whether adding the requested exposure would breach the
// per-market or global caps. YES exposure counts positive, NO negative.
func (s *Service) CheckCaps(req CapCheckRequest) (*CapDecision, error) {
	market, err := s.db.GetMarket(req.MarketID)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return &CapDecision{Allowed: false, Reason: fmt.Sprintf("unknown market %s", req.MarketID)}, nil
	}

	position, err := s.db.GetPosition(req.MarketID)
	if err != nil {
		return nil, err
	}

	var currentQty, currentNotional float64
	if position != nil {
		currentQty = position.Quantity
		currentNotional = position.Notional
	}

	delta := signedDelta(req.Side, req.Quantity)
	prospectiveQty := currentQty + delta
	prospectiveNotional := currentNotional + delta*req.Price

	if market.MaxPositionSize > 0 && math.Abs(prospectiveQty) > market.MaxPositionSize {
		return &CapDecision{
			Allowed: false,
			Reason: fmt.Sprintf("prospective position %.2f exceeds max position size %.2f for market %s",
				math.Abs(prospectiveQty), market.MaxPositionSize, req.MarketID),
		}, nil
	}

	if market.MaxNotional > 0 && math.Abs(prospectiveNotional) > market.MaxNotional {
		return &CapDecision{
			Allowed: false,
			Reason: fmt.Sprintf("prospective notional %.2f exceeds max notional %.2f for market %s",
				math.Abs(prospectiveNotional), market.MaxNotional, req.MarketID),
		}, nil
	}

	globalCaps, err := s.db.GetGlobalCaps()
	if err != nil {
		return nil, err
	}

	for _, cap := range globalCaps {
		switch cap.CapType {
		case CapTypePositionSize:
			total, err := s.totalAbsolutePosition()
			if err != nil {
				return nil, err
			}
			prospective := total - math.Abs(currentQty) + math.Abs(prospectiveQty)
			if cap.LimitValue > 0 && prospective > cap.LimitValue {
				return &CapDecision{
					Allowed: false,
					Reason: fmt.Sprintf("prospective total position %.2f exceeds max global position size %.2f",
						prospective, cap.LimitValue),
				}, nil
			}
		case CapTypeNotional:
			total, err := s.db.GetTotalPortfolioValue()
			if err != nil {
				return nil, err
			}
			prospective := total - math.Abs(currentNotional) + math.Abs(prospectiveNotional)
			if cap.LimitValue > 0 && prospective > cap.LimitValue {
				return &CapDecision{
					Allowed: false,
					Reason: fmt.Sprintf("prospective portfolio notional %.2f exceeds max global notional %.2f",
						prospective, cap.LimitValue),
				}, nil
			}
		}
	}

	return &CapDecision{Allowed: true}, nil
}

// UpdatePosition applies a confirmed fill to the stored position. It returns
// the updated record and the P&L realized by the fill; only fills that offset
// existing exposure realize anything.
func (s *Service) UpdatePosition(marketID string, side types.Side, fillQty, price float64) (*Position, float64, error) {
	position, err := s.db.GetPosition(marketID)
	if err != nil {
		return nil, 0, err
	}
	if position == nil {
		position = &Position{MarketID: marketID}
	}

	delta := signedDelta(side, fillQty)
	newQty := position.Quantity + delta

	var realized float64
	if position.Quantity == 0 || sameSign(position.Quantity, delta) {
		// Average entry price only tracks exposure-increasing fills.
		totalCost := math.Abs(position.Quantity)*position.AvgPrice + math.Abs(delta)*price
		if math.Abs(newQty) > 0 {
			position.AvgPrice = totalCost / (math.Abs(position.Quantity) + math.Abs(delta))
		}
	} else {
		offset := math.Min(math.Abs(delta), math.Abs(position.Quantity))
		direction := 1.0
		if position.Quantity < 0 {
			direction = -1
		}
		realized = offset * (price - position.AvgPrice) * direction

		if newQty == 0 {
			position.AvgPrice = 0
		} else if !sameSign(position.Quantity, newQty) {
			// Crossed through flat; the residual is a fresh entry.
			position.AvgPrice = price
		}
	}

	position.Quantity = newQty
	position.Notional += delta * price

	if err := s.db.UpsertPosition(position); err != nil {
		return nil, 0, fmt.Errorf("failed to update position for market %s: %w", marketID, err)
	}

	log.Debug().
		Str("market_id", marketID).
		Float64("quantity", position.Quantity).
		Float64("realized", realized).
		Float64("notional", position.Notional).
		Msg("position updated")

	return position, realized, nil
}

// ListMarkets returns all registered markets.
func (s *Service) ListMarkets() ([]Market, error) {
	return s.db.ListMarkets()
}

// ListPositions returns all current positions.
func (s *Service) ListPositions() ([]Position, error) {
	return s.db.GetAllPositions()
}

// SetGlobalCap upserts a global exposure cap.
func (s *Service) SetGlobalCap(capType CapType, limit float64) error {
	return s.db.UpsertCap(&Cap{Scope: ScopeGlobal, CapType: capType, LimitValue: limit})
}

func (s *Service) totalAbsolutePosition() (float64, error) {
	all, err := s.db.GetAllPositions()
	if err != nil {
		return 0, err
	}
	var total float64
	for _, p := range all {
		total += math.Abs(p.Quantity)
	}
	return total, nil
}

func signedDelta(side types.Side, qty float64) float64 {
	if side == types.SideNo {
		return -qty
	}
	return qty
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// GinHandlers contains HTTP handlers for market and cap endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// EnsureMarketHandler handles POST requests to register or refresh a market.
func (h *GinHandlers) EnsureMarketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			ExternalID      string  `json:"external_id" binding:"required"`
			Title           string  `json:"title"`
			Category        string  `json:"category"`
			MaxPositionSize float64 `json:"max_position_size"`
			MaxNotional     float64 `json:"max_notional"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		market, err := h.service.EnsureMarket(request.ExternalID, request.Title, request.Category,
			request.MaxPositionSize, request.MaxNotional)
		response.Handle(c, market, err)
	}
}

// ListMarketsHandler handles GET requests for all registered markets.
func (h *GinHandlers) ListMarketsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		markets, err := h.service.ListMarkets()
		response.Handle(c, markets, err)
	}
}

// ListPositionsHandler handles GET requests for current positions.
func (h *GinHandlers) ListPositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		positions, err := h.service.ListPositions()
		response.Handle(c, positions, err)
	}
}

// SetGlobalCapHandler handles PUT requests for global caps.
func (h *GinHandlers) SetGlobalCapHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			CapType CapType `json:"cap_type" binding:"required"`
			Limit   float64 `json:"limit" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.SetGlobalCap(request.CapType, request.Limit); err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, gin.H{"message": "cap updated"})
	}
}
