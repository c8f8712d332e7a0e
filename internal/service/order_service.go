package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const base36Digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateOrderID builds a human-readable order id: ORD-, the creation time
// in base36 milliseconds and a five character random suffix.
func GenerateOrderID(now time.Time) string {
	random := uuid.New()
	suffix := make([]byte, 5)
	for i := range suffix {
		suffix[i] = base36Digits[int(random[i])%len(base36Digits)]
	}
	return "ORD-" + strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)) + string(suffix)
}

// OrderService handles order business logic
type OrderService struct {
	orders    OrderStore
	leads     LeadStore
	emailLogs EmailLogReader
	publisher EventPublisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	orders OrderStore,
	leads LeadStore,
	emailLogs EmailLogReader,
	publisher EventPublisher,
) *OrderService {
	return &OrderService{
		orders:    orders,
		leads:     leads,
		emailLogs: emailLogs,
		publisher: publisher,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// CreateOrderRequest is a plan selection submitted for checkout
type CreateOrderRequest struct {
	LeadID      string   `json:"leadId" binding:"required"`
	Industry    string   `json:"industry" binding:"required"`
	City        string   `json:"city" binding:"required"`
	Program     string   `json:"program" binding:"required,oneof=basic pro elite"`
	ProgramName string   `json:"programName" binding:"required"`
	PaymentPlan string   `json:"paymentPlan" binding:"required,oneof=one-time split"`
	Amount      float64  `json:"amount" binding:"required,gt=0"`
	TotalAmount *float64 `json:"totalAmount,omitempty" binding:"omitempty,gt=0"`
	Currency    string   `json:"currency,omitempty" binding:"omitempty,len=3"`
	Notes       string   `json:"notes,omitempty" binding:"omitempty,max=2000"`
}

// CreateOrderResponse is returned after an order is persisted
type CreateOrderResponse struct {
	OrderID string `json:"orderId"`
}

// CreateOrder persists a pending order for an existing lead. No money moves here.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	req.Industry = strings.TrimSpace(req.Industry)
	req.City = strings.TrimSpace(req.City)
	req.ProgramName = strings.TrimSpace(req.ProgramName)
	req.Currency = strings.ToLower(strings.TrimSpace(req.Currency))
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	lead, err := s.leads.GetLeadByID(ctx, req.LeadID)
	if err != nil {
		return nil, lookupError("lead", req.LeadID, err)
	}

	plan := models.PaymentPlan(req.PaymentPlan)
	order := &models.Order{
		OrderID:           GenerateOrderID(s.now()),
		LeadID:            lead.ID,
		CustomerName:      lead.Name,
		CustomerEmail:     lead.Email,
		CustomerPhone:     lead.Phone,
		Industry:          req.Industry,
		City:              req.City,
		Program:           req.Program,
		ProgramName:       req.ProgramName,
		PaymentPlan:       plan,
		Amount:            req.Amount,
		TotalAmount:       req.Amount,
		Currency:          req.Currency,
		PaymentStatus:     models.PaymentStatusPending,
		FulfillmentStatus: models.FulfillmentPending,
		Notes:             req.Notes,
	}
	if order.Currency == "" {
		order.Currency = "usd"
	}

	if plan == models.PaymentPlanSplit {
		order.TotalAmount = 2 * req.Amount
		order.FirstPaymentAmount = req.Amount
		order.FirstPaymentStatus = models.InstallmentPending
		order.SecondPaymentAmount = req.Amount
		order.SecondPaymentStatus = models.InstallmentPending
	} else if req.TotalAmount != nil {
		order.TotalAmount = *req.TotalAmount
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.WithLabelValues(string(plan)).Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.OrderID),
		zap.String("lead_id", order.LeadID),
		zap.String("payment_plan", string(plan)),
		zap.Float64("amount", order.Amount))

	publishOrderEvent(ctx, s.publisher, s.logger, models.EventTypeOrderCreated, order, "")

	return &CreateOrderResponse{OrderID: order.OrderID}, nil
}

// GetOrder retrieves an order by its public id
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.orders.GetOrderByOrderID(ctx, orderID)
	if err != nil {
		return nil, lookupError("order", orderID, err)
	}
	return order, nil
}

// OrderList is one page of orders
type OrderList struct {
	Orders []models.Order `json:"orders"`
	Total  int            `json:"total"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
	Pages  int            `json:"pages"`
}

// ListOrders returns a filtered page of orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, filter models.OrderFilter) (*OrderList, error) {
	if filter.PaymentStatus != "" && !filter.PaymentStatus.Valid() {
		return nil, validationError("paymentStatus", "unknown payment status")
	}
	if filter.PaymentPlan != "" && !filter.PaymentPlan.Valid() {
		return nil, validationError("paymentPlan", "must be one of: one-time, split")
	}

	orders, total, err := s.orders.ListOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	page, limit := normalizePage(filter.Page, filter.Limit)
	return &OrderList{
		Orders: orders,
		Total:  total,
		Page:   page,
		Limit:  limit,
		Pages:  (total + limit - 1) / limit,
	}, nil
}

// UpdateOrderRequest is an admin override of an order's statuses or notes
type UpdateOrderRequest struct {
	PaymentStatus     *models.PaymentStatus     `json:"paymentStatus,omitempty"`
	FulfillmentStatus *models.FulfillmentStatus `json:"fulfillmentStatus,omitempty"`
	Notes             *string                   `json:"notes,omitempty" binding:"omitempty,max=2000"`
}

// UpdateOrder applies an admin override. Status changes go through the
// transition tables; an illegal move fails without touching the order.
func (s *OrderService) UpdateOrder(ctx context.Context, orderID string, req *UpdateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrder")
	defer span.End()

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	order, err := s.orders.GetOrderByOrderID(ctx, orderID)
	if err != nil {
		return nil, lookupError("order", orderID, err)
	}

	if req.PaymentStatus != nil {
		next := *req.PaymentStatus
		if !next.Valid() {
			return nil, validationError("paymentStatus", "unknown payment status")
		}
		if !order.PaymentStatus.CanTransitionTo(next) {
			return nil, transitionError("paymentStatus", order.PaymentStatus, next)
		}
		order.PaymentStatus = next
	}

	if req.FulfillmentStatus != nil {
		next := *req.FulfillmentStatus
		if !next.Valid() {
			return nil, validationError("fulfillmentStatus", "unknown fulfillment status")
		}
		if !order.FulfillmentStatus.CanTransitionTo(next) {
			return nil, transitionError("fulfillmentStatus", order.FulfillmentStatus, next)
		}
		order.FulfillmentStatus = next
	}

	if req.Notes != nil {
		order.Notes = *req.Notes
	}

	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	s.logger.Info("Order updated by admin",
		zap.String("order_id", order.OrderID),
		zap.String("payment_status", string(order.PaymentStatus)),
		zap.String("fulfillment_status", string(order.FulfillmentStatus)))

	return order, nil
}

// DeleteOrder removes an order
func (s *OrderService) DeleteOrder(ctx context.Context, orderID string) error {
	if err := s.orders.DeleteOrder(ctx, orderID); err != nil {
		return lookupError("order", orderID, err)
	}
	s.logger.Info("Order deleted", zap.String("order_id", orderID))
	return nil
}

// TutorialAccess reports whether the buyer may open the tutorial
type TutorialAccess struct {
	OrderID string `json:"orderId"`
	Granted bool   `json:"granted"`
	URL     string `json:"url,omitempty"`
}

// GetTutorialAccess grants access once any installment has been collected
func (s *OrderService) GetTutorialAccess(ctx context.Context, orderID string) (*TutorialAccess, error) {
	order, err := s.orders.GetOrderByOrderID(ctx, orderID)
	if err != nil {
		return nil, lookupError("order", orderID, err)
	}

	access := &TutorialAccess{OrderID: order.OrderID, Granted: order.PaymentStatus.Settled()}
	if access.Granted {
		access.URL = order.TutorialAccessURL
	}
	return access, nil
}

// GetEmailLogs returns the notification audit trail of an order
func (s *OrderService) GetEmailLogs(ctx context.Context, orderID string) ([]models.EmailLog, error) {
	if _, err := s.orders.GetOrderByOrderID(ctx, orderID); err != nil {
		return nil, lookupError("order", orderID, err)
	}

	logs, err := s.emailLogs.GetEmailLogsByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load email logs: %w", err)
	}
	return logs, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

// publishOrderEvent emits an order event; publish failures are logged only
func publishOrderEvent(ctx context.Context, publisher EventPublisher, logger *zap.Logger, eventType string, order *models.Order, reason string) {
	event := &models.OrderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now(),
		},
		OrderID:           order.OrderID,
		LeadID:            order.LeadID,
		PaymentPlan:       order.PaymentPlan,
		PaymentStatus:     order.PaymentStatus,
		FulfillmentStatus: order.FulfillmentStatus,
		Amount:            order.Amount,
		PaymentIntentID:   order.StripePaymentIntentID,
		Reason:            reason,
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		logger.Error("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.String("order_id", order.OrderID),
			zap.Error(err))
	}
}
