package service

import (
	"context"
	"time"

	"checkout-service/internal/models"
)

// OrderStore persists orders
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	GetOrderByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error)
	GetOrderBySecondPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	DeleteOrder(ctx context.Context, orderID string) error
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error)
	GetDueSecondPayments(ctx context.Context, dueBefore time.Time) ([]models.Order, error)
	MarkOverdueSecondPayments(ctx context.Context, dueBefore time.Time) (int64, error)
}

// LeadStore persists leads
type LeadStore interface {
	UpsertLead(ctx context.Context, lead *models.Lead) error
	GetLeadByID(ctx context.Context, id string) (*models.Lead, error)
	MarkLeadConverted(ctx context.Context, id string) error
	DeleteLead(ctx context.Context, id string) error
	ListLeads(ctx context.Context, filter models.LeadFilter) ([]models.Lead, int, error)
}

// EmailLogReader exposes the notification audit trail
type EmailLogReader interface {
	GetEmailLogsByOrderID(ctx context.Context, orderID string) ([]models.EmailLog, error)
}

// EventStore remembers which gateway events were reconciled
type EventStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// PaymentGateway is the card processor
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req models.PaymentIntentRequest) (*models.PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	CreateOrRetrieveCustomer(ctx context.Context, email, name, phone string) (string, error)
	ChargeOffSession(ctx context.Context, charge models.OffSessionCharge) (*models.PaymentIntent, error)
	Refund(ctx context.Context, paymentIntentID string, amount *float64) (string, error)
	VerifyWebhook(payload []byte, signatureHeader string) (*models.GatewayEvent, error)
}

// Notifier sends transactional email. Implementations record every
// attempt in the email log before returning.
type Notifier interface {
	SendCustomerConfirmation(ctx context.Context, order *models.Order, lead *models.Lead) error
	SendAdminNotification(ctx context.Context, order *models.Order, lead *models.Lead) error
	SendLeadCaptureNotification(ctx context.Context, lead *models.Lead) error
	SendSecondPaymentConfirmation(ctx context.Context, order *models.Order, lead *models.Lead) error
	SendSecondPaymentFailed(ctx context.Context, order *models.Order, lead *models.Lead, errorMessage string) error
}

// EventPublisher emits domain events
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error
	PublishLeadCaptured(ctx context.Context, event *models.LeadCapturedEvent) error
}

// RateLimiter counts hits per bucket inside a fixed window
type RateLimiter interface {
	Allow(ctx context.Context, bucket string, limit int, window time.Duration) (bool, error)
}
