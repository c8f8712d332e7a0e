package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	keys   []string
	events []interface{}
}

func (p *recordingPublisher) PublishEvent(_ context.Context, key string, event interface{}) error {
	p.keys = append(p.keys, key)
	p.events = append(p.events, event)
	return nil
}

func TestEventPublisherKeys(t *testing.T) {
	rec := &recordingPublisher{}
	ep := NewEventPublisher(rec)

	require.NoError(t, ep.PublishOrderEvent(context.Background(), &models.OrderEvent{OrderID: "ORD-1"}))
	require.NoError(t, ep.PublishLeadCaptured(context.Background(), &models.LeadCapturedEvent{LeadID: "lead-1"}))

	assert.Equal(t, []string{"order-ORD-1", "lead-lead-1"}, rec.keys)
}

func TestHandleMessageRoutesLeadCaptured(t *testing.T) {
	eh := NewEventHandler()

	var got *models.LeadCapturedEvent
	eh.OnLeadCaptured(func(_ context.Context, e *models.LeadCapturedEvent) error {
		got = e
		return nil
	})

	payload, err := json.Marshal(&models.LeadCapturedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypeLeadCaptured, Timestamp: time.Now()},
		LeadID:    "lead-1",
		Name:      "Jane",
		Email:     "jane@example.com",
	})
	require.NoError(t, err)

	require.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: payload}))
	require.NotNil(t, got)
	assert.Equal(t, "jane@example.com", got.Email)
}

func TestHandleMessageIgnoresOtherEvents(t *testing.T) {
	eh := NewEventHandler()
	eh.OnLeadCaptured(func(context.Context, *models.LeadCapturedEvent) error {
		return errors.New("should not be called")
	})

	payload, err := json.Marshal(&models.OrderEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypeOrderCreated},
		OrderID:   "ORD-1",
	})
	require.NoError(t, err)

	assert.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: payload}))
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	eh := NewEventHandler()
	assert.Error(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")}))
}
