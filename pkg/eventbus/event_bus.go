// Package eventbus provides the publish/subscribe backbone carrying
// conversation events between gateway instances and consumers.
package eventbus

import (
	"context"

	"github.com/dialora/dialora/pkg/events"
)

// Event is anything routable by its event type.
type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes one event keyed for partitioning (tenant id
// in practice).
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventHandler consumes one decoded event.
type EventHandler func(ctx context.Context, event any) error

// EventSubscriber registers handlers and starts consumption.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventBus is the full bus contract.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
