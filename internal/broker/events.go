package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher writes one keyed event
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderEvent publishes a payment lifecycle event keyed by order, so
// all events of one order land on the same partition in order.
func (ep *EventPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	return ep.producer.PublishEvent(ctx, "order-"+event.OrderID, event)
}

// PublishLeadCaptured publishes LeadCaptured event
func (ep *EventPublisher) PublishLeadCaptured(ctx context.Context, event *models.LeadCapturedEvent) error {
	return ep.producer.PublishEvent(ctx, "lead-"+event.LeadID, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onLeadCaptured func(context.Context, *models.LeadCapturedEvent) error
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnLeadCaptured registers a handler for LeadCaptured events
func (eh *EventHandler) OnLeadCaptured(handler func(context.Context, *models.LeadCapturedEvent) error) {
	eh.onLeadCaptured = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeLeadCaptured:
		if eh.onLeadCaptured != nil {
			var event models.LeadCapturedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal LeadCaptured event: %w", err)
			}
			return eh.onLeadCaptured(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
