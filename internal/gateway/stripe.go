package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// RequestTimeout bounds every call to the Stripe API
const RequestTimeout = 10 * time.Second

const defaultCurrency = "usd"

// Error is a failed gateway call
type Error struct {
	Op              string
	Code            string
	DeclineCode     string
	Message         string
	PaymentIntentID string
	Timeout         bool
	Err             error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe %s failed (%s): %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("stripe %s failed: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// StripeGateway adapts the Stripe API to the checkout domain
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	logger        *zap.Logger
}

// NewStripeGateway creates a gateway with its own bounded HTTP client
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	httpClient := &http.Client{Timeout: RequestTimeout}
	return newStripeGateway(client.New(secretKey, stripe.NewBackends(httpClient)), webhookSecret)
}

func newStripeGateway(api *client.API, webhookSecret string) *StripeGateway {
	return &StripeGateway{
		api:           api,
		webhookSecret: webhookSecret,
		logger:        util.GetLogger(),
	}
}

// ToMinorUnits converts a major-unit amount (dollars) to minor units (cents)
func ToMinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits converts minor units back to a major-unit amount
func FromMinorUnits(amount int64) float64 {
	f, _ := decimal.New(amount, -2).Float64()
	return f
}

func currencyOrDefault(currency string) string {
	if currency == "" {
		return defaultCurrency
	}
	return currency
}

// CreatePaymentIntent creates an on-session intent for checkout
func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req models.PaymentIntentRequest) (*models.PaymentIntent, error) {
	ctx, span := util.StartSpan(ctx, "StripeGateway.CreatePaymentIntent")
	defer span.End()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(ToMinorUnits(req.Amount)),
		Currency: stripe.String(currencyOrDefault(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.SaveForLater {
		params.SetupFutureUsage = stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession))
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	start := time.Now()
	pi, err := g.api.PaymentIntents.New(params)
	observe("create_payment_intent", start, err)
	if err != nil {
		util.RecordError(span, err)
		return nil, wrapError("create_payment_intent", err)
	}

	g.logger.Info("Payment intent created",
		zap.String("payment_intent_id", pi.ID),
		zap.Int64("amount_minor", pi.Amount),
		zap.Bool("setup_future_usage", req.SaveForLater))

	return toPaymentIntent(pi), nil
}

// RetrievePaymentIntent fetches the current state of an intent
func (g *StripeGateway) RetrievePaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	ctx, span := util.StartSpan(ctx, "StripeGateway.RetrievePaymentIntent")
	defer span.End()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	start := time.Now()
	pi, err := g.api.PaymentIntents.Get(id, params)
	observe("retrieve_payment_intent", start, err)
	if err != nil {
		util.RecordError(span, err)
		return nil, wrapError("retrieve_payment_intent", err)
	}

	return toPaymentIntent(pi), nil
}

// CreateOrRetrieveCustomer returns the customer registered under email,
// creating one when none exists.
func (g *StripeGateway) CreateOrRetrieveCustomer(ctx context.Context, email, name, phone string) (string, error) {
	ctx, span := util.StartSpan(ctx, "StripeGateway.CreateOrRetrieveCustomer")
	defer span.End()

	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Limit = stripe.Int64(1)
	listParams.Context = ctx

	start := time.Now()
	iter := g.api.Customers.List(listParams)
	if iter.Next() {
		observe("list_customers", start, nil)
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		observe("list_customers", start, err)
		util.RecordError(span, err)
		return "", wrapError("list_customers", err)
	}
	observe("list_customers", start, nil)

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	if phone != "" {
		params.Phone = stripe.String(phone)
	}
	params.AddMetadata("source", "funnel")
	params.Context = ctx

	start = time.Now()
	customer, err := g.api.Customers.New(params)
	observe("create_customer", start, err)
	if err != nil {
		util.RecordError(span, err)
		return "", wrapError("create_customer", err)
	}

	g.logger.Info("Stripe customer created", zap.String("customer_id", customer.ID))
	return customer.ID, nil
}

// ChargeOffSession charges a saved payment method without the customer present
func (g *StripeGateway) ChargeOffSession(ctx context.Context, charge models.OffSessionCharge) (*models.PaymentIntent, error) {
	ctx, span := util.StartSpan(ctx, "StripeGateway.ChargeOffSession")
	defer span.End()

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(ToMinorUnits(charge.Amount)),
		Currency:      stripe.String(currencyOrDefault(charge.Currency)),
		Customer:      stripe.String(charge.CustomerID),
		PaymentMethod: stripe.String(charge.PaymentMethodID),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx
	if charge.Description != "" {
		params.Description = stripe.String(charge.Description)
	}
	for k, v := range charge.Metadata {
		params.AddMetadata(k, v)
	}
	if charge.IdempotencyKey != "" {
		params.SetIdempotencyKey(charge.IdempotencyKey)
	}

	start := time.Now()
	pi, err := g.api.PaymentIntents.New(params)
	observe("charge_off_session", start, err)
	if err != nil {
		util.RecordError(span, err)
		return nil, wrapError("charge_off_session", err)
	}

	return toPaymentIntent(pi), nil
}

// Refund refunds an intent in full, or partially when amount is set
func (g *StripeGateway) Refund(ctx context.Context, paymentIntentID string, amount *float64) (string, error) {
	ctx, span := util.StartSpan(ctx, "StripeGateway.Refund")
	defer span.End()

	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)}
	if amount != nil {
		params.Amount = stripe.Int64(ToMinorUnits(*amount))
	}
	params.Context = ctx

	start := time.Now()
	refund, err := g.api.Refunds.New(params)
	observe("refund", start, err)
	if err != nil {
		util.RecordError(span, err)
		return "", wrapError("refund", err)
	}

	g.logger.Info("Refund created",
		zap.String("refund_id", refund.ID),
		zap.String("payment_intent_id", paymentIntentID))
	return refund.ID, nil
}

// VerifyWebhook checks the Stripe-Signature header against the shared
// secret and decodes the event into the domain union.
func (g *StripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*models.GatewayEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}

	ge := &models.GatewayEvent{
		ID:   event.ID,
		Kind: models.GatewayEventKind(event.Type),
	}
	if event.Data == nil {
		return ge, nil
	}

	switch ge.Kind {
	case models.GatewayPaymentSucceeded, models.GatewayPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent from %s: %w", event.ID, err)
		}
		ge.PaymentIntent = toPaymentIntent(&pi)

	case models.GatewayChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("failed to decode charge from %s: %w", event.ID, err)
		}
		ge.Charge = &models.Charge{
			ID:             ch.ID,
			AmountRefunded: FromMinorUnits(ch.AmountRefunded),
			Refunded:       ch.Refunded,
		}
		if ch.PaymentIntent != nil {
			ge.Charge.PaymentIntentID = ch.PaymentIntent.ID
		}
	}

	return ge, nil
}

func toPaymentIntent(pi *stripe.PaymentIntent) *models.PaymentIntent {
	out := &models.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       FromMinorUnits(pi.Amount),
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
	if pi.PaymentMethod != nil {
		out.PaymentMethodID = pi.PaymentMethod.ID
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	if pi.LastPaymentError != nil {
		out.LastError = pi.LastPaymentError.Msg
	}
	return out
}

func wrapError(op string, err error) error {
	gwErr := &Error{Op: op, Message: err.Error(), Err: err}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		gwErr.Code = string(stripeErr.Code)
		gwErr.DeclineCode = string(stripeErr.DeclineCode)
		if stripeErr.Msg != "" {
			gwErr.Message = stripeErr.Msg
		}
		if stripeErr.PaymentIntent != nil {
			gwErr.PaymentIntentID = stripeErr.PaymentIntent.ID
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		gwErr.Timeout = true
		gwErr.Message = "payment gateway timed out"
	}

	return gwErr
}

func observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	util.GatewayRequestLatency.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}
