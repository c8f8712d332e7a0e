package models

import "time"

// Event types
const (
	EventTypeOrderCreated           = "order.created"
	EventTypePaymentConfirmed       = "payment.confirmed"
	EventTypePaymentFailed          = "payment.failed"
	EventTypeSecondPaymentSucceeded = "second_payment.succeeded"
	EventTypeSecondPaymentFailed    = "second_payment.failed"
	EventTypeOrderRefunded          = "order.refunded"
	EventTypeLeadCaptured           = "lead.captured"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent is published on every payment lifecycle change of an order
type OrderEvent struct {
	BaseEvent
	OrderID           string            `json:"order_id"`
	LeadID            string            `json:"lead_id"`
	PaymentPlan       PaymentPlan       `json:"payment_plan"`
	PaymentStatus     PaymentStatus     `json:"payment_status"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillment_status"`
	Amount            float64           `json:"amount"`
	PaymentIntentID   string            `json:"payment_intent_id,omitempty"`
	Reason            string            `json:"reason,omitempty"`
}

// LeadCapturedEvent is published when the capture form is submitted
type LeadCapturedEvent struct {
	BaseEvent
	LeadID string `json:"lead_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Source string `json:"source"`
}

// GatewayEventKind is the event type string sent by the payment gateway
type GatewayEventKind string

const (
	GatewayPaymentSucceeded GatewayEventKind = "payment_intent.succeeded"
	GatewayPaymentFailed    GatewayEventKind = "payment_intent.payment_failed"
	GatewayChargeRefunded   GatewayEventKind = "charge.refunded"
)

// GatewayEvent is a verified webhook event. Exactly one payload is set
// for the kinds this service reconciles; unknown kinds carry none.
type GatewayEvent struct {
	ID            string
	Kind          GatewayEventKind
	PaymentIntent *PaymentIntent
	Charge        *Charge
}

// PaymentIntent is the gateway's view of one attempted charge
type PaymentIntent struct {
	ID              string
	ClientSecret    string
	Status          string
	PaymentMethodID string
	CustomerID      string
	Amount          float64
	Currency        string
	LastError       string
	Metadata        map[string]string
}

// Succeeded reports whether the gateway collected the funds
func (pi *PaymentIntent) Succeeded() bool {
	return pi != nil && pi.Status == PaymentIntentSucceeded
}

const PaymentIntentSucceeded = "succeeded"

// Charge is the refund-relevant part of a gateway charge
type Charge struct {
	ID              string
	PaymentIntentID string
	AmountRefunded  float64
	Refunded        bool
}

// PaymentIntentRequest describes an on-session intent for checkout
type PaymentIntentRequest struct {
	Amount         float64
	Currency       string
	CustomerID     string
	SaveForLater   bool
	Description    string
	ReceiptEmail   string
	Metadata       map[string]string
	IdempotencyKey string
}

// OffSessionCharge describes a merchant-initiated charge on a saved card
type OffSessionCharge struct {
	CustomerID      string
	PaymentMethodID string
	Amount          float64
	Currency        string
	Description     string
	Metadata        map[string]string
	IdempotencyKey  string
}
