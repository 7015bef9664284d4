package orders

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/oddslab/tradegate/internal/types"
	"github.com/oddslab/tradegate/pkg/response"
	"github.com/rs/zerolog/log"
)

var ErrOrderNotFound = errors.New("order not found")

// Service owns order persistence and drives orders through the state
// machine. All status changes flow through Advance so that every mutation
// leaves an audit record.
type Service struct {
	db      Storage
	machine *Machine
}

// NewService creates an order service around the given storage.
func NewService(db Storage, machine *Machine) *Service {
	return &Service{db: db, machine: machine}
}

// Machine exposes the state machine for callback registration.
func (s *Service) Machine() *Machine {
	return s.machine
}

// CreateFromSignal builds a new order in PENDING_VALIDATION for an approved
// signal and persists it.
func (s *Service) CreateFromSignal(signal types.Signal, intent types.OrderIntent, idempotencyKey string) (*types.Order, error) {
	order := &types.Order{
		OrderID:        uuid.New().String(),
		IdempotencyKey: idempotencyKey,
		MarketID:       intent.MarketID,
		Side:           intent.Side,
		OrderType:      intent.OrderType,
		TimeInForce:    intent.TimeInForce,
		RequestedQty:   intent.Quantity,
		RemainingQty:   intent.Quantity,
		LimitPrice:     intent.Price,
		Status:         types.OrderStatusPendingValidation,
		StrategyID:     signal.StrategyID,
		SignalID:       signal.SignalID,
	}

	if err := s.db.CreateOrder(order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	log.Debug().
		Str("order_id", order.OrderID).
		Str("signal_id", signal.SignalID).
		Str("market_id", order.MarketID).
		Msg("order created")

	return order, nil
}

// Advance applies one transition and persists both the updated order and the
// audit record.
func (s *Service) Advance(order types.Order, to types.OrderStatus, reason string, metadata map[string]string) (*types.Order, error) {
	updated, record, err := s.machine.Transition(order, to, reason, metadata)
	if err != nil {
		return nil, err
	}
	return s.persist(updated, record)
}

// RecordFill applies a fill through the state machine and persists the result.
func (s *Service) RecordFill(order types.Order, fillQty, fillPrice float64) (*types.Order, error) {
	updated, record, err := s.machine.ProcessFill(order, fillQty, fillPrice)
	if err != nil {
		return nil, err
	}
	return s.persist(updated, record)
}

// Fail marks an order FAILED with an error code and message.
func (s *Service) Fail(order types.Order, code, message string) (*types.Order, error) {
	updated, record, err := s.machine.MarkFailed(order, code, message)
	if err != nil {
		return nil, err
	}
	return s.persist(updated, record)
}

// Cancel cancels an order by ID. Only ACKNOWLEDGED and PARTIALLY_FILLED
// orders can be cancelled.
func (s *Service) Cancel(orderID, reason string) (*types.Order, error) {
	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	updated, record, err := s.machine.Cancel(*order, reason)
	if err != nil {
		return nil, err
	}
	return s.persist(updated, record)
}

// GetOrder retrieves an order by its ID.
func (s *Service) GetOrder(orderID string) (*types.Order, error) {
	return s.db.GetOrder(orderID)
}

// ListTransitions returns the audit trail for an order, oldest first.
func (s *Service) ListTransitions(orderID string) ([]Transition, error) {
	return s.db.ListTransitions(orderID)
}

func (s *Service) persist(order types.Order, record Transition) (*types.Order, error) {
	if err := s.db.UpdateOrder(&order); err != nil {
		return nil, fmt.Errorf("failed to persist order %s: %w", order.OrderID, err)
	}
	if err := s.db.AppendTransition(&record); err != nil {
		return nil, fmt.Errorf("failed to append transition for order %s: %w", order.OrderID, err)
	}
	return &order, nil
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetOrderHandler handles GET requests for a single order, including its
// lifecycle progress.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.service.GetOrder(orderID)
		if err != nil || order == nil {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, gin.H{
			"order":    order,
			"progress": Progress(order.Status),
		})
	}
}

// GetOrderTransitionsHandler handles GET requests for an order's audit trail.
func (h *GinHandlers) GetOrderTransitionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		records, err := h.service.ListTransitions(orderID)
		response.Handle(c, records, err)
	}
}

// CancelOrderHandler handles POST requests to cancel an order.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		var request struct {
			Reason string `json:"reason"`
		}
		// Reason is optional; ignore body decode errors on empty bodies.
		_ = c.ShouldBindJSON(&request)

		order, err := h.service.Cancel(orderID, request.Reason)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				response.NotFound(c, "Order not found")
				return
			}
			response.BadRequest(c, err.Error())
			return
		}

		response.Success(c, order)
	}
}
