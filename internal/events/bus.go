package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers. A nil bus drops the event.
// Usage: bus.Publish(ProfileStateChangedEvent{...})
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	// kelindar/event dispatches on the concrete type
	switch e := ev.(type) {
	case ProfileCreatedEvent:
		event.Publish(b.dispatcher, e)
	case ProfileDeletedEvent:
		event.Publish(b.dispatcher, e)
	case ProfileStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	case StatusSnapshotEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e ProfileStateChangedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(ProfileCreatedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ProfileDeletedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ProfileStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StatusSnapshotEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Unknown handler types receive nothing
		return func() {}
	}
}
