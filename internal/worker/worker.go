package worker

import (
	"context"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/util"
)

// MessageSource is the consuming side of the event topic
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// LeadHandler reacts to a captured lead
type LeadHandler func(ctx context.Context, event *models.LeadCapturedEvent) error

// LeadNotificationWorker sends the admin lead-capture email off the
// request path by consuming lead.captured events
type LeadNotificationWorker struct {
	source       MessageSource
	eventHandler *broker.EventHandler
}

// NewLeadNotificationWorker creates a new lead notification worker
func NewLeadNotificationWorker(source MessageSource, onLead LeadHandler) *LeadNotificationWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnLeadCaptured(onLead)

	return &LeadNotificationWorker{
		source:       source,
		eventHandler: eventHandler,
	}
}

// Start consumes until ctx is cancelled
func (w *LeadNotificationWorker) Start(ctx context.Context) error {
	util.GetLogger().Info("Starting lead notification worker")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the underlying consumer
func (w *LeadNotificationWorker) Stop() error {
	util.GetLogger().Info("Stopping lead notification worker")
	return w.source.Close()
}
