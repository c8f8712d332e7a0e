package models

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores when no row matches.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrInUse is returned when a row is still referenced by another.
	ErrInUse = errors.New("record in use")
)

// Lead is a contact captured by the landing page before purchase
type Lead struct {
	ID                  string    `db:"id" json:"id"`
	Name                string    `db:"name" json:"name"`
	Email               string    `db:"email" json:"email"`
	Phone               string    `db:"phone" json:"phone"`
	IPAddress           string    `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent           string    `db:"user_agent" json:"userAgent,omitempty"`
	Source              string    `db:"source" json:"source"`
	ConvertedToCustomer bool      `db:"converted_to_customer" json:"convertedToCustomer"`
	Notes               string    `db:"notes" json:"notes,omitempty"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time `db:"updated_at" json:"updatedAt"`
}

// Order is one purchase and its payment lifecycle
type Order struct {
	ID            int64  `db:"id" json:"-"`
	OrderID       string `db:"order_id" json:"orderId"`
	LeadID        string `db:"lead_id" json:"leadId"`
	CustomerName  string `db:"customer_name" json:"customerName"`
	CustomerEmail string `db:"customer_email" json:"customerEmail"`
	CustomerPhone string `db:"customer_phone" json:"customerPhone"`

	Industry    string      `db:"industry" json:"industry"`
	City        string      `db:"city" json:"city"`
	Program     string      `db:"program" json:"program"`
	ProgramName string      `db:"program_name" json:"programName"`
	PaymentPlan PaymentPlan `db:"payment_plan" json:"paymentPlan"`
	Amount      float64     `db:"amount" json:"amount"`
	TotalAmount float64     `db:"total_amount" json:"totalAmount"`
	Currency    string      `db:"currency" json:"currency"`

	StripePaymentIntentID string `db:"stripe_payment_intent_id" json:"stripePaymentIntentId,omitempty"`
	StripeCustomerID      string `db:"stripe_customer_id" json:"stripeCustomerId,omitempty"`
	StripePaymentMethodID string `db:"stripe_payment_method_id" json:"stripePaymentMethodId,omitempty"`
	SecondPaymentIntentID string `db:"second_payment_intent_id" json:"secondPaymentIntentId,omitempty"`

	PaymentStatus     PaymentStatus     `db:"payment_status" json:"paymentStatus"`
	FulfillmentStatus FulfillmentStatus `db:"fulfillment_status" json:"fulfillmentStatus"`

	FirstPaymentAmount       float64           `db:"first_payment_amount" json:"firstPaymentAmount,omitempty"`
	FirstPaymentDate         *time.Time        `db:"first_payment_date" json:"firstPaymentDate,omitempty"`
	FirstPaymentStatus       InstallmentStatus `db:"first_payment_status" json:"firstPaymentStatus,omitempty"`
	SecondPaymentAmount      float64           `db:"second_payment_amount" json:"secondPaymentAmount,omitempty"`
	SecondPaymentDueDate     *time.Time        `db:"second_payment_due_date" json:"secondPaymentDueDate,omitempty"`
	SecondPaymentDate        *time.Time        `db:"second_payment_date" json:"secondPaymentDate,omitempty"`
	SecondPaymentStatus      InstallmentStatus `db:"second_payment_status" json:"secondPaymentStatus,omitempty"`
	SecondPaymentScheduled   bool              `db:"second_payment_scheduled" json:"secondPaymentScheduled,omitempty"`
	SecondPaymentScheduledAt *time.Time        `db:"second_payment_scheduled_at" json:"secondPaymentScheduledAt,omitempty"`
	SecondPaymentError       string            `db:"second_payment_error" json:"secondPaymentError,omitempty"`
	SecondPaymentRetries     int               `db:"second_payment_retry_count" json:"secondPaymentRetryCount,omitempty"`

	EmailsSent            bool      `db:"emails_sent" json:"emailsSent"`
	TutorialAccessGranted bool      `db:"tutorial_access_granted" json:"tutorialAccessGranted"`
	TutorialAccessURL     string    `db:"tutorial_access_url" json:"tutorialAccessUrl,omitempty"`
	Notes                 string    `db:"notes" json:"notes,omitempty"`
	CreatedAt             time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time `db:"updated_at" json:"updatedAt"`
}

// IsSplit reports whether the order is billed in two installments
func (o *Order) IsSplit() bool {
	return o.PaymentPlan == PaymentPlanSplit
}

// EmailType categorizes a notification
type EmailType string

const (
	EmailTypeConfirmation  EmailType = "confirmation"
	EmailTypeNotification  EmailType = "notification"
	EmailTypeLeadCapture   EmailType = "lead-capture"
	EmailTypeSecondPayment EmailType = "second-payment"
	EmailTypePaymentFailed EmailType = "payment-failed"
	EmailTypeReminder      EmailType = "reminder"
	EmailTypeWelcome       EmailType = "welcome"
	EmailTypeFollowUp      EmailType = "follow-up"
)

// EmailStatus is the delivery outcome of one send attempt
type EmailStatus string

const (
	EmailStatusSent    EmailStatus = "sent"
	EmailStatusFailed  EmailStatus = "failed"
	EmailStatusPending EmailStatus = "pending"
	EmailStatusBounced EmailStatus = "bounced"
)

// EmailLog is an append-only audit row for one notification attempt
type EmailLog struct {
	ID                int64       `db:"id" json:"id"`
	OrderID           string      `db:"order_id" json:"orderId,omitempty"`
	Recipient         string      `db:"recipient" json:"recipient"`
	EmailType         EmailType   `db:"email_type" json:"emailType"`
	Subject           string      `db:"subject" json:"subject"`
	Status            EmailStatus `db:"status" json:"status"`
	Provider          string      `db:"provider" json:"provider"`
	ProviderMessageID string      `db:"provider_message_id" json:"providerMessageId,omitempty"`
	ErrorMessage      string      `db:"error_message" json:"errorMessage,omitempty"`
	SentAt            *time.Time  `db:"sent_at" json:"sentAt,omitempty"`
	CreatedAt         time.Time   `db:"created_at" json:"createdAt"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// OrderFilter narrows the admin order listing
type OrderFilter struct {
	PaymentStatus PaymentStatus
	PaymentPlan   PaymentPlan
	Page          int
	Limit         int
}

// LeadFilter narrows the admin lead listing
type LeadFilter struct {
	Converted *bool
	Page      int
	Limit     int
}

// Offset returns the row offset for a 1-based page
func Offset(page, limit int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * limit
}
