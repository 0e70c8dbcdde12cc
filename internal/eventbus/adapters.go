package eventbus

import (
	"context"
	"math"

	"github.com/zjrosen/diagwire/internal/pubsub"
)

// streamListener is the registration name used by Stream. It runs last so
// channel subscribers observe an event after every callback listener.
const streamListener = "eventbus.stream"

// Subscribe registers a callback that cannot fail, at default priority.
// It serves call sites written against the older void-callback shape.
func (b *Bus) Subscribe(eventType EventType, name string, fn func(Event)) {
	b.Register(eventType, name, func(_ context.Context, e Event) error {
		fn(e)
		return nil
	})
}

// Publish builds and emits an event in one call.
func (b *Bus) Publish(ctx context.Context, eventType EventType, source string, metadata map[string]any) error {
	return b.Emit(ctx, Event{Type: eventType, Source: source, Metadata: metadata})
}

// Stream returns a channel receiving events of the given types (all three
// built-in types when none are given). Delivery is non-blocking: a slow
// reader misses events rather than stalling emitters. The channel closes
// when ctx is cancelled or the bus is closed.
func (b *Bus) Stream(ctx context.Context, eventTypes ...EventType) <-chan pubsub.Event[Event] {
	if len(eventTypes) == 0 {
		eventTypes = []EventType{VariableChanged, ErrorOccurred, StatusChanged}
	}

	b.streamMu.Lock()
	if b.stream == nil {
		b.stream = pubsub.NewBroker[Event]()
	}
	broker := b.stream
	for _, et := range eventTypes {
		if b.streamed[et] {
			continue
		}
		b.streamed[et] = true
		b.Register(et, streamListener, func(_ context.Context, e Event) error {
			broker.Publish(pubsub.BusEmitted, e)
			return nil
		}, WithPriority(math.MinInt))
	}
	b.streamMu.Unlock()

	wanted := make(map[EventType]bool, len(eventTypes))
	for _, et := range eventTypes {
		wanted[et] = true
	}
	return broker.SubscribeFunc(ctx, func(e Event) bool { return wanted[e.Type] })
}
