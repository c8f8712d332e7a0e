package service

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type eventHandler func(ctx context.Context, event *models.GatewayEvent) error

// WebhookReconciler applies verified gateway events to orders
type WebhookReconciler struct {
	payments *PaymentService
	events   EventStore
	handlers map[models.GatewayEventKind]eventHandler
	logger   *zap.Logger
}

// NewWebhookReconciler creates a reconciler that shares the payment
// service's store, gateway and transition rules.
func NewWebhookReconciler(payments *PaymentService, events EventStore) *WebhookReconciler {
	r := &WebhookReconciler{
		payments: payments,
		events:   events,
		logger:   util.GetLogger(),
	}
	r.handlers = map[models.GatewayEventKind]eventHandler{
		models.GatewayPaymentSucceeded: r.handlePaymentSucceeded,
		models.GatewayPaymentFailed:    r.handlePaymentFailed,
		models.GatewayChargeRefunded:   r.handleChargeRefunded,
	}
	return r
}

// HandleWebhook verifies the signature of a raw webhook delivery and
// reconciles it. Only a signature failure is returned to the caller;
// reconciliation errors are logged and leave the event unmarked so a
// redelivery can apply it.
func (r *WebhookReconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ctx, span := util.StartSpan(ctx, "WebhookReconciler.HandleWebhook")
	defer span.End()

	logger := util.LoggerFromContext(ctx)

	event, err := r.payments.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		logger.Warn("Rejected webhook", zap.Error(err))
		return &Error{Kind: KindSignature, Message: "invalid webhook signature", Err: err}
	}

	span.SetAttributes(
		attribute.String("webhook.event_id", event.ID),
		attribute.String("webhook.kind", string(event.Kind)))

	if err := r.Reconcile(ctx, event); err != nil {
		util.RecordError(span, err)
		logger.Error("Webhook reconciliation failed",
			zap.String("event_id", event.ID),
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
	return nil
}

// Reconcile dispatches a verified event to its handler. Unknown kinds and
// already processed events are acknowledged without effect.
func (r *WebhookReconciler) Reconcile(ctx context.Context, event *models.GatewayEvent) error {
	kind := string(event.Kind)

	handler, ok := r.handlers[event.Kind]
	if !ok {
		util.WebhookEventsTotal.WithLabelValues(kind, "ignored").Inc()
		r.logger.Debug("Ignoring webhook event", zap.String("kind", kind), zap.String("event_id", event.ID))
		return nil
	}

	processed, err := r.events.IsEventProcessed(ctx, event.ID)
	if err != nil {
		r.logger.Warn("Failed to check processed events, relying on status guards",
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
	if processed {
		util.WebhookEventsTotal.WithLabelValues(kind, "duplicate").Inc()
		r.logger.Info("Event already processed, skipping", zap.String("event_id", event.ID))
		return nil
	}

	if err := handler(ctx, event); err != nil {
		util.WebhookEventsTotal.WithLabelValues(kind, "error").Inc()
		return err
	}

	if err := r.events.MarkEventProcessed(ctx, event.ID, kind); err != nil {
		r.logger.Error("Failed to mark event processed",
			zap.String("event_id", event.ID),
			zap.Error(err))
	}

	util.WebhookEventsTotal.WithLabelValues(kind, "processed").Inc()
	return nil
}

func (r *WebhookReconciler) handlePaymentSucceeded(ctx context.Context, event *models.GatewayEvent) error {
	pi := event.PaymentIntent
	if pi == nil {
		return fmt.Errorf("event %s carries no payment intent", event.ID)
	}

	order, installment, err := r.resolveOrder(ctx, pi.ID, pi.Metadata)
	if err != nil || order == nil {
		return err
	}

	if installment == installmentSecond {
		return r.payments.applySecondPaymentSuccess(ctx, order, pi.ID)
	}
	return r.payments.applyFirstPaymentSuccess(ctx, order, pi, "webhook")
}

func (r *WebhookReconciler) handlePaymentFailed(ctx context.Context, event *models.GatewayEvent) error {
	pi := event.PaymentIntent
	if pi == nil {
		return fmt.Errorf("event %s carries no payment intent", event.ID)
	}

	order, installment, err := r.resolveOrder(ctx, pi.ID, pi.Metadata)
	if err != nil || order == nil {
		return err
	}

	reason := pi.LastError
	if reason == "" {
		reason = "payment failed"
	}

	if installment == installmentSecond {
		// the synchronous charge normally records this first
		if order.SecondPaymentStatus == models.InstallmentFailed || order.SecondPaymentStatus == models.InstallmentPaid {
			return nil
		}
		return r.payments.applySecondPaymentFailure(ctx, order, reason, pi.ID)
	}
	return r.payments.applyFirstPaymentFailure(ctx, order, reason)
}

func (r *WebhookReconciler) handleChargeRefunded(ctx context.Context, event *models.GatewayEvent) error {
	ch := event.Charge
	if ch == nil {
		return fmt.Errorf("event %s carries no charge", event.ID)
	}
	if ch.PaymentIntentID == "" {
		r.logger.Warn("Refunded charge has no payment intent", zap.String("charge_id", ch.ID))
		return nil
	}

	order, _, err := r.resolveOrder(ctx, ch.PaymentIntentID, nil)
	if err != nil || order == nil {
		return err
	}
	if !ch.Refunded {
		return r.payments.recordPartialRefund(ctx, order, ch.AmountRefunded, ch.ID, "webhook")
	}
	return r.payments.applyRefund(ctx, order, "webhook")
}

// resolveOrder finds the order an intent belongs to and which installment it
// paid. It falls back to the orderId metadata the service stamps on every
// intent, covering a webhook that outruns the write of the intent id.
// A nil order with a nil error means the intent is not ours.
func (r *WebhookReconciler) resolveOrder(ctx context.Context, intentID string, metadata map[string]string) (*models.Order, string, error) {
	orders := r.payments.orders

	order, err := orders.GetOrderByPaymentIntentID(ctx, intentID)
	if err == nil {
		return order, installmentFirst, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, "", fmt.Errorf("failed to look up order by payment intent: %w", err)
	}

	order, err = orders.GetOrderBySecondPaymentIntentID(ctx, intentID)
	if err == nil {
		return order, installmentSecond, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, "", fmt.Errorf("failed to look up order by second payment intent: %w", err)
	}

	orderID := metadata["orderId"]
	if orderID == "" {
		r.logger.Info("No order for payment intent", zap.String("payment_intent_id", intentID))
		return nil, "", nil
	}

	order, err = orders.GetOrderByOrderID(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		r.logger.Warn("Payment intent references unknown order",
			zap.String("payment_intent_id", intentID),
			zap.String("order_id", orderID))
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up order %s: %w", orderID, err)
	}

	if metadata["installment"] == installmentSecond {
		return order, installmentSecond, nil
	}
	return order, installmentFirst, nil
}
