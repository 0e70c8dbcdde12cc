// Package pubsub provides a generic channel-based publish/subscribe broker.
// It backs the log line feed and the channel-style Event Bus adapter.
package pubsub

import "time"

// EventType labels what a published payload is.
type EventType string

const (
	// LineLogged carries one formatted debug log line.
	LineLogged EventType = "line-logged"
	// BusEmitted carries an event bus event copied onto a stream.
	BusEmitted EventType = "bus-emitted"
)

// Event is a published payload with its type and publish time.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}
