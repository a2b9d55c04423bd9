package observability

import (
	"context"

	"go.uber.org/zap"
)

// Subscriber receives events fanned out by the EventBus.
type Subscriber interface {
	Publish(ctx context.Context, eventType string, data map[string]interface{})
}

// EventBus implements the EventPublisher interface.
// Every event is logged at debug level and then handed to each subscriber.
type EventBus struct {
	subscribers []Subscriber
}

// NewEventBus creates a new event bus.
func NewEventBus(subscribers ...Subscriber) *EventBus {
	return &EventBus{
		subscribers: subscribers,
	}
}

// Publish publishes an event with the given type and data.
func (e *EventBus) Publish(ctx context.Context, eventType string, data map[string]interface{}) {
	logger := FromContext(ctx)
	if ce := logger.Check(zap.DebugLevel, eventType); ce != nil {
		fields := make([]zap.Field, 0, len(data))
		for k, v := range data {
			fields = append(fields, zap.Any(k, v))
		}
		ce.Write(fields...)
	}

	for _, sub := range e.subscribers {
		sub.Publish(ctx, eventType, data)
	}
}
