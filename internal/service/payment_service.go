package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SecondPaymentDelay is the gap between the two installments of a split plan
const SecondPaymentDelay = 30 * 24 * time.Hour

// PaymentConfig holds the tunables of the payment state machine
type PaymentConfig struct {
	FrontendURL  string
	OverdueGrace time.Duration
}

// PaymentService drives the payment lifecycle of orders
type PaymentService struct {
	orders    OrderStore
	leads     LeadStore
	gateway   PaymentGateway
	notifier  Notifier
	publisher EventPublisher
	cfg       PaymentConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	orders OrderStore,
	leads LeadStore,
	gateway PaymentGateway,
	notifier Notifier,
	publisher EventPublisher,
	cfg PaymentConfig,
) *PaymentService {
	return &PaymentService{
		orders:    orders,
		leads:     leads,
		gateway:   gateway,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// CreateIntentRequest asks for a payment intent for the first (or only) installment
type CreateIntentRequest struct {
	OrderID  string  `json:"orderId" binding:"required"`
	Amount   float64 `json:"amount" binding:"required,gt=0"`
	Currency string  `json:"currency,omitempty" binding:"omitempty,len=3"`
}

// CreateIntentResponse carries what the browser needs to confirm the card
type CreateIntentResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
}

// InitiatePayment creates a gateway intent for an order. Split orders ask the
// gateway to keep the card for the second installment.
func (s *PaymentService) InitiatePayment(ctx context.Context, req *CreateIntentRequest) (*CreateIntentResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.InitiatePayment")
	defer span.End()

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	order, err := s.orders.GetOrderByOrderID(ctx, req.OrderID)
	if err != nil {
		return nil, lookupError("order", req.OrderID, err)
	}

	if order.PaymentStatus.Settled() || order.PaymentStatus == models.PaymentStatusRefunded {
		return nil, &Error{
			Kind:    KindInvalidTransition,
			Message: fmt.Sprintf("order %s is already %s", order.OrderID, order.PaymentStatus),
		}
	}
	if !sameAmount(req.Amount, order.Amount) {
		return nil, validationError("amount", fmt.Sprintf("must equal the installment amount %.2f", order.Amount))
	}
	// both installments are charged in the order's currency
	if req.Currency != "" && !strings.EqualFold(req.Currency, order.Currency) {
		return nil, validationError("currency", fmt.Sprintf("must match the order currency %s", order.Currency))
	}

	lead, err := s.leads.GetLeadByID(ctx, order.LeadID)
	if err != nil {
		return nil, lookupError("customer", order.LeadID, err)
	}

	customerID, err := s.gateway.CreateOrRetrieveCustomer(ctx, lead.Email, lead.Name, lead.Phone)
	if err != nil {
		util.RecordError(span, err)
		return nil, gatewayError("failed to create payment customer", err)
	}

	pi, err := s.gateway.CreatePaymentIntent(ctx, models.PaymentIntentRequest{
		Amount:       order.Amount,
		Currency:     order.Currency,
		CustomerID:   customerID,
		SaveForLater: order.IsSplit(),
		Description:  fmt.Sprintf("%s (%s)", order.ProgramName, order.PaymentPlan),
		ReceiptEmail: lead.Email,
		Metadata: map[string]string{
			"orderId":     order.OrderID,
			"leadId":      order.LeadID,
			"paymentPlan": string(order.PaymentPlan),
			"program":     order.Program,
			"installment": installmentFirst,
		},
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, gatewayError("failed to create payment intent", err)
	}

	order.StripePaymentIntentID = pi.ID
	order.StripeCustomerID = customerID
	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to record payment intent: %w", err)
	}

	util.PaymentIntentsCreatedTotal.WithLabelValues(string(order.PaymentPlan)).Inc()
	s.logger.Info("Payment initiated",
		zap.String("order_id", order.OrderID),
		zap.String("payment_intent_id", pi.ID),
		zap.Bool("save_card", order.IsSplit()))

	return &CreateIntentResponse{ClientSecret: pi.ClientSecret, PaymentIntentID: pi.ID}, nil
}

// ConfirmPayment applies a client-reported successful payment. Repeated
// calls for the same intent change nothing and send nothing.
func (s *PaymentService) ConfirmPayment(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ConfirmPayment")
	defer span.End()

	if strings.TrimSpace(paymentIntentID) == "" {
		return nil, validationError("paymentIntentId", "is required")
	}

	pi, err := s.gateway.RetrievePaymentIntent(ctx, paymentIntentID)
	if err != nil {
		util.RecordError(span, err)
		return nil, gatewayError("failed to retrieve payment intent", err)
	}
	if !pi.Succeeded() {
		return nil, &Error{
			Kind:    KindPaymentNotCompleted,
			Message: fmt.Sprintf("payment not completed: intent status is %s", pi.Status),
		}
	}

	order, err := s.orders.GetOrderByPaymentIntentID(ctx, paymentIntentID)
	if err != nil {
		return nil, lookupError("order", paymentIntentID, err)
	}

	if err := s.applyFirstPaymentSuccess(ctx, order, pi, "confirm"); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return order, nil
}

// applyFirstPaymentSuccess moves an order past its first (or only)
// installment. It is a no-op when the order has already advanced.
func (s *PaymentService) applyFirstPaymentSuccess(ctx context.Context, order *models.Order, pi *models.PaymentIntent, source string) error {
	target := models.PaymentStatusPaid
	if order.IsSplit() {
		target = models.PaymentStatusPartiallyPaid
	}

	if order.PaymentStatus == target || !order.PaymentStatus.CanTransitionTo(target) {
		s.logger.Debug("First payment already applied",
			zap.String("order_id", order.OrderID),
			zap.String("payment_status", string(order.PaymentStatus)),
			zap.String("source", source))
		return nil
	}

	now := s.now()
	order.PaymentStatus = target
	if order.IsSplit() {
		order.FirstPaymentStatus = models.InstallmentPaid
		order.FirstPaymentDate = &now
		due := now.Add(SecondPaymentDelay)
		order.SecondPaymentDueDate = &due
		if pi.PaymentMethodID != "" {
			order.StripePaymentMethodID = pi.PaymentMethodID
			order.SecondPaymentScheduled = true
			order.SecondPaymentScheduledAt = &now
		}
	} else if order.FulfillmentStatus.CanTransitionTo(models.FulfillmentInProgress) {
		order.FulfillmentStatus = models.FulfillmentInProgress
	}

	if order.StripePaymentIntentID == "" {
		order.StripePaymentIntentID = pi.ID
	}
	if order.StripeCustomerID == "" && pi.CustomerID != "" {
		order.StripeCustomerID = pi.CustomerID
	}
	order.TutorialAccessGranted = true
	order.TutorialAccessURL = s.tutorialURL(order)

	sendEmails := !order.EmailsSent
	order.EmailsSent = true

	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to record payment for order %s: %w", order.OrderID, err)
	}

	util.PaymentsConfirmedTotal.WithLabelValues(string(order.PaymentPlan), source).Inc()
	s.logger.Info("First payment applied",
		zap.String("order_id", order.OrderID),
		zap.String("payment_status", string(order.PaymentStatus)),
		zap.String("source", source))

	if err := s.leads.MarkLeadConverted(ctx, order.LeadID); err != nil {
		s.logger.Warn("Failed to mark lead converted",
			zap.String("lead_id", order.LeadID),
			zap.Error(err))
	}

	if sendEmails {
		lead := s.leadFor(ctx, order)
		s.notify(order.OrderID, models.EmailTypeConfirmation, s.notifier.SendCustomerConfirmation(ctx, order, lead))
		s.notify(order.OrderID, models.EmailTypeNotification, s.notifier.SendAdminNotification(ctx, order, lead))
	}

	publishOrderEvent(ctx, s.publisher, s.logger, models.EventTypePaymentConfirmed, order, source)
	return nil
}

// applyFirstPaymentFailure records a declined first payment. Orders that
// already collected money are left alone.
func (s *PaymentService) applyFirstPaymentFailure(ctx context.Context, order *models.Order, reason string) error {
	if order.PaymentStatus == models.PaymentStatusFailed || !order.PaymentStatus.CanTransitionTo(models.PaymentStatusFailed) {
		return nil
	}

	order.PaymentStatus = models.PaymentStatusFailed
	if order.IsSplit() && order.FirstPaymentStatus.CanTransitionFirstTo(models.InstallmentFailed) {
		order.FirstPaymentStatus = models.InstallmentFailed
	}

	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to record payment failure for order %s: %w", order.OrderID, err)
	}

	util.PaymentsFailedTotal.WithLabelValues(installmentFirst).Inc()
	s.logger.Warn("First payment failed",
		zap.String("order_id", order.OrderID),
		zap.String("reason", reason))

	publishOrderEvent(ctx, s.publisher, s.logger, models.EventTypePaymentFailed, order, reason)
	return nil
}

// ChargeSecondPayment charges the saved card for the second installment
func (s *PaymentService) ChargeSecondPayment(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ChargeSecondPayment")
	defer span.End()

	order, err := s.orders.GetOrderByOrderID(ctx, orderID)
	if err != nil {
		return nil, lookupError("order", orderID, err)
	}

	if err := s.chargeSecondPayment(ctx, order); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return order, nil
}

// RetrySecondPayment is the manual retry path for a failed second installment
func (s *PaymentService) RetrySecondPayment(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RetrySecondPayment")
	defer span.End()

	order, err := s.orders.GetOrderByOrderID(ctx, orderID)
	if err != nil {
		return nil, lookupError("order", orderID, err)
	}
	if order.SecondPaymentStatus == models.InstallmentPaid {
		return nil, ErrAlreadyPaid
	}

	s.logger.Info("Retrying second payment",
		zap.String("order_id", order.OrderID),
		zap.Int("retry_count", order.SecondPaymentRetries))

	if err := s.chargeSecondPayment(ctx, order); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return order, nil
}

func (s *PaymentService) chargeSecondPayment(ctx context.Context, order *models.Order) error {
	if !order.IsSplit() {
		return validationError("paymentPlan", "order is not on a split payment plan")
	}
	if order.SecondPaymentStatus == models.InstallmentPaid {
		return ErrAlreadyPaid
	}
	if order.StripePaymentMethodID == "" {
		return validationError("paymentMethod", "no saved payment method for the second installment")
	}
	if order.FirstPaymentStatus != models.InstallmentPaid {
		return validationError("firstPaymentStatus", "first installment has not been paid")
	}
	if !order.PaymentStatus.CanTransitionTo(models.PaymentStatusPaid) {
		return transitionError("paymentStatus", order.PaymentStatus, models.PaymentStatusPaid)
	}

	pi, err := s.gateway.ChargeOffSession(ctx, models.OffSessionCharge{
		CustomerID:      order.StripeCustomerID,
		PaymentMethodID: order.StripePaymentMethodID,
		Amount:          order.SecondPaymentAmount,
		Currency:        order.Currency,
		Description:     fmt.Sprintf("%s - second payment", order.ProgramName),
		Metadata: map[string]string{
			"orderId":     order.OrderID,
			"leadId":      order.LeadID,
			"installment": installmentSecond,
		},
		IdempotencyKey: fmt.Sprintf("%s-second-%d", order.OrderID, order.SecondPaymentRetries),
	})
	if err == nil && !pi.Succeeded() {
		err = fmt.Errorf("second payment requires customer action (intent status %s)", pi.Status)
	}

	if err != nil {
		util.SecondPaymentChargesTotal.WithLabelValues("failed").Inc()
		intentID := ""
		if pi != nil {
			intentID = pi.ID
		}
		if recErr := s.applySecondPaymentFailure(ctx, order, err.Error(), intentID); recErr != nil {
			s.logger.Error("Failed to record second payment failure",
				zap.String("order_id", order.OrderID),
				zap.Error(recErr))
		}
		return gatewayError(fmt.Sprintf("second payment for order %s failed", order.OrderID), err)
	}

	util.SecondPaymentChargesTotal.WithLabelValues("succeeded").Inc()
	return s.applySecondPaymentSuccess(ctx, order, pi.ID)
}

// applySecondPaymentSuccess completes a split order. A second delivery of the
// same outcome is a no-op.
func (s *PaymentService) applySecondPaymentSuccess(ctx context.Context, order *models.Order, intentID string) error {
	if order.SecondPaymentStatus == models.InstallmentPaid {
		return nil
	}
	if !order.SecondPaymentStatus.CanTransitionSecondTo(models.InstallmentPaid) {
		return transitionError("secondPaymentStatus", order.SecondPaymentStatus, models.InstallmentPaid)
	}
	if !order.PaymentStatus.CanTransitionTo(models.PaymentStatusPaid) {
		return transitionError("paymentStatus", order.PaymentStatus, models.PaymentStatusPaid)
	}

	now := s.now()
	order.SecondPaymentIntentID = intentID
	order.SecondPaymentStatus = models.InstallmentPaid
	order.SecondPaymentDate = &now
	order.SecondPaymentError = ""
	order.PaymentStatus = models.PaymentStatusPaid
	if order.FulfillmentStatus == models.FulfillmentPending {
		order.FulfillmentStatus = models.FulfillmentInProgress
	}

	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to record second payment for order %s: %w", order.OrderID, err)
	}

	util.PaymentsConfirmedTotal.WithLabelValues(string(order.PaymentPlan), installmentSecond).Inc()
	s.logger.Info("Second payment succeeded",
		zap.String("order_id", order.OrderID),
		zap.String("payment_intent_id", intentID))

	s.notify(order.OrderID, models.EmailTypeSecondPayment,
		s.notifier.SendSecondPaymentConfirmation(ctx, order, s.leadFor(ctx, order)))

	publishOrderEvent(ctx, s.publisher, s.logger, models.EventTypeSecondPaymentSucceeded, order, "")
	return nil
}

// applySecondPaymentFailure records a declined second installment and tells
// the customer. Fulfillment is not touched.
func (s *PaymentService) applySecondPaymentFailure(ctx context.Context, order *models.Order, reason, intentID string) error {
	if !order.SecondPaymentStatus.CanTransitionSecondTo(models.InstallmentFailed) {
		return transitionError("secondPaymentStatus", order.SecondPaymentStatus, models.InstallmentFailed)
	}

	order.SecondPaymentStatus = models.InstallmentFailed
	order.SecondPaymentError = reason
	order.SecondPaymentRetries++
	if intentID != "" {
		order.SecondPaymentIntentID = intentID
	}

	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to record second payment failure for order %s: %w", order.OrderID, err)
	}

	util.PaymentsFailedTotal.WithLabelValues(installmentSecond).Inc()
	s.logger.Warn("Second payment failed",
		zap.String("order_id", order.OrderID),
		zap.Int("retry_count", order.SecondPaymentRetries),
		zap.String("reason", reason))

	s.notify(order.OrderID, models.EmailTypePaymentFailed,
		s.notifier.SendSecondPaymentFailed(ctx, order, s.leadFor(ctx, order), reason))

	publishOrderEvent(ctx, s.publisher, s.logger, models.EventTypeSecondPaymentFailed, order, reason)
	return nil
}

// RefundRequest optionally limits a refund to part of the first installment
type RefundRequest struct {
	Amount *float64 `json:"amount,omitempty" binding:"omitempty,gt=0"`
}

// RefundOrder refunds the collected installments and marks the order refunded.
// An amount below what was collected is only noted on the order. A gateway
// failure leaves the order unchanged.
func (s *PaymentService) RefundOrder(ctx context.Context, orderID string, req *RefundRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RefundOrder")
	defer span.End()

	if req == nil {
		req = &RefundRequest{}
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	order, err := s.orders.GetOrderByOrderID(ctx, orderID)
	if err != nil {
		return nil, lookupError("order", orderID, err)
	}
	if order.PaymentStatus == models.PaymentStatusRefunded {
		return order, nil
	}
	if !order.PaymentStatus.CanTransitionTo(models.PaymentStatusRefunded) {
		return nil, transitionError("paymentStatus", order.PaymentStatus, models.PaymentStatusRefunded)
	}
	if order.StripePaymentIntentID == "" {
		return nil, validationError("paymentIntentId", "order has no payment to refund")
	}

	refundID, err := s.gateway.Refund(ctx, order.StripePaymentIntentID, req.Amount)
	if err != nil {
		util.RecordError(span, err)
		return nil, gatewayError("failed to refund first payment", err)
	}

	secondPaid := order.SecondPaymentStatus == models.InstallmentPaid && order.SecondPaymentIntentID != ""
	if req.Amount != nil && (secondPaid || lessThan(*req.Amount, order.Amount)) {
		if err := s.recordPartialRefund(ctx, order, *req.Amount, refundID, "admin"); err != nil {
			return nil, err
		}
		return order, nil
	}

	if req.Amount == nil && secondPaid {
		if _, err := s.gateway.Refund(ctx, order.SecondPaymentIntentID, nil); err != nil {
			util.RecordError(span, err)
			return nil, gatewayError("failed to refund second payment", err)
		}
	}

	if err := s.applyRefund(ctx, order, "admin"); err != nil {
		return nil, err
	}
	return order, nil
}

// recordPartialRefund notes a refund that leaves money on the order. The
// payment status is unchanged, so access and any pending installment stay.
func (s *PaymentService) recordPartialRefund(ctx context.Context, order *models.Order, amount float64, ref, source string) error {
	note := fmt.Sprintf("Partial refund of %s %s (%s",
		decimal.NewFromFloat(amount).StringFixed(2), strings.ToUpper(order.Currency), source)
	if ref != "" {
		note += " " + ref
	}
	note += ")"

	if order.Notes == "" {
		order.Notes = note
	} else {
		order.Notes += "\n" + note
	}
	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to record partial refund for order %s: %w", order.OrderID, err)
	}

	s.logger.Info("Partial refund recorded",
		zap.String("order_id", order.OrderID),
		zap.Float64("amount", amount),
		zap.String("source", source))
	return nil
}

func (s *PaymentService) applyRefund(ctx context.Context, order *models.Order, source string) error {
	if order.PaymentStatus == models.PaymentStatusRefunded {
		return nil
	}
	if !order.PaymentStatus.CanTransitionTo(models.PaymentStatusRefunded) {
		s.logger.Warn("Ignoring refund for unpaid order",
			zap.String("order_id", order.OrderID),
			zap.String("payment_status", string(order.PaymentStatus)))
		return nil
	}

	order.PaymentStatus = models.PaymentStatusRefunded
	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to record refund for order %s: %w", order.OrderID, err)
	}

	util.OrdersRefundedTotal.Inc()
	s.logger.Info("Order refunded",
		zap.String("order_id", order.OrderID),
		zap.String("source", source))

	publishOrderEvent(ctx, s.publisher, s.logger, models.EventTypeOrderRefunded, order, source)
	return nil
}

// SweepResult summarizes one sweeper run
type SweepResult struct {
	Processed     int   `json:"processed"`
	Succeeded     int   `json:"succeeded"`
	Failed        int   `json:"failed"`
	MarkedOverdue int64 `json:"markedOverdue"`
}

// ProcessDueSecondPayments charges every second installment due today or
// earlier. Per-order failures are logged and counted; they never abort the batch.
func (s *PaymentService) ProcessDueSecondPayments(ctx context.Context) (*SweepResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ProcessDueSecondPayments")
	defer span.End()

	today := startOfDay(s.now())
	orders, err := s.orders.GetDueSecondPayments(ctx, today.AddDate(0, 0, 1))
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to query due second payments: %w", err)
	}

	result := &SweepResult{Processed: len(orders)}
	for i := range orders {
		order := &orders[i]
		if err := s.chargeSecondPayment(ctx, order); err != nil {
			result.Failed++
			s.logger.Warn("Scheduled second payment failed",
				zap.String("order_id", order.OrderID),
				zap.Error(err))
			continue
		}
		result.Succeeded++
	}

	if s.cfg.OverdueGrace > 0 {
		marked, err := s.orders.MarkOverdueSecondPayments(ctx, today.Add(-s.cfg.OverdueGrace))
		if err != nil {
			s.logger.Error("Failed to mark overdue second payments", zap.Error(err))
		}
		result.MarkedOverdue = marked
	}

	util.SweeperOrdersProcessed.Add(float64(result.Processed))
	s.logger.Info("Second payment sweep finished",
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int64("marked_overdue", result.MarkedOverdue))

	return result, nil
}

const (
	installmentFirst  = "first"
	installmentSecond = "second"
)

func (s *PaymentService) tutorialURL(order *models.Order) string {
	return strings.TrimRight(s.cfg.FrontendURL, "/") + "/tutorial?order=" + order.OrderID
}

// leadFor loads the order's lead, falling back to the snapshot on the order
func (s *PaymentService) leadFor(ctx context.Context, order *models.Order) *models.Lead {
	lead, err := s.leads.GetLeadByID(ctx, order.LeadID)
	if err == nil {
		return lead
	}
	s.logger.Warn("Lead unavailable, using order snapshot",
		zap.String("order_id", order.OrderID),
		zap.String("lead_id", order.LeadID),
		zap.Error(err))
	return &models.Lead{
		ID:    order.LeadID,
		Name:  order.CustomerName,
		Email: order.CustomerEmail,
		Phone: order.CustomerPhone,
	}
}

// notify logs a failed notification. Notification errors never fail a payment operation.
func (s *PaymentService) notify(orderID string, emailType models.EmailType, err error) {
	if err == nil {
		return
	}
	notifyErr := &Error{Kind: KindNotification, Message: "notification failed", Err: err}
	s.logger.Warn("Notification failed",
		zap.String("order_id", orderID),
		zap.String("email_type", string(emailType)),
		zap.Error(notifyErr))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func lessThan(a, b float64) bool {
	return decimal.NewFromFloat(a).Round(2).LessThan(decimal.NewFromFloat(b).Round(2))
}

// sameAmount compares amounts at the cent precision the gateway charges
func sameAmount(a, b float64) bool {
	return decimal.NewFromFloat(a).Round(2).Equal(decimal.NewFromFloat(b).Round(2))
}
