// Package eventbus is the in-process publish/subscribe core that drives live
// status updates in the producer process.
//
// Listeners register per event type with a priority and an optional filter.
// Emission snapshots the listener list under a lock and runs callbacks
// outside it, highest priority first, registration order among equals, so a
// callback may itself register listeners or emit without deadlocking.
package eventbus

import (
	"fmt"
	"time"
)

// EventType names what happened.
type EventType string

const (
	VariableChanged EventType = "variable_changed"
	ErrorOccurred   EventType = "error_occurred"
	StatusChanged   EventType = "status_changed"
)

// Metadata keys with a fixed meaning.
const (
	MetaField    = "field"
	MetaOld      = "old"
	MetaNew      = "new"
	MetaStatus   = "status"
	MetaError    = "error"
	MetaErrorTyp = "error_type"
)

// Event is one in-process notification. Events are never persisted.
type Event struct {
	Type      EventType
	Source    string
	Timestamp time.Time
	Metadata  map[string]any
	// Seq is assigned by the bus on first emission and never reused. It
	// makes the identity key unique even when two changes share a
	// timestamp.
	Seq uint64
}

// Field returns the "field" metadata value, or "".
func (e Event) Field() string {
	if v, ok := e.Metadata[MetaField].(string); ok {
		return v
	}
	return ""
}

// Key is the stable identity of this logical change: source, field and
// sequence number. Re-emitting the same Event value yields the same key.
func (e Event) Key() string {
	return fmt.Sprintf("%s|%s|%d", e.Source, e.Field(), e.Seq)
}
