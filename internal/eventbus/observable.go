package eventbus

import (
	"context"
	"sync"
)

// Observable is a value whose changes are announced on the bus. Set
// compares the new value with the current one and emits VariableChanged
// only when they differ.
type Observable[T comparable] struct {
	mu     sync.Mutex
	value  T
	bus    *Bus
	source string
	field  string
}

// NewObservable creates an observable owned by source under the name field.
func NewObservable[T comparable](bus *Bus, source, field string, initial T) *Observable[T] {
	return &Observable[T]{bus: bus, source: source, field: field, value: initial}
}

// Get returns the current value.
func (o *Observable[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// Set stores v and, if it differs from the previous value, emits a
// VariableChanged event carrying field, old and new. It reports whether the
// value changed; the error is the emission result.
func (o *Observable[T]) Set(ctx context.Context, v T) (bool, error) {
	o.mu.Lock()
	old := o.value
	if old == v {
		o.mu.Unlock()
		return false, nil
	}
	o.value = v
	o.mu.Unlock()

	return true, o.bus.Emit(ctx, Event{
		Type:   VariableChanged,
		Source: o.source,
		Metadata: map[string]any{
			MetaField: o.field,
			MetaOld:   old,
			MetaNew:   v,
		},
	})
}
