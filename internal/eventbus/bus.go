package eventbus

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zjrosen/diagwire/internal/log"
	"github.com/zjrosen/diagwire/internal/pubsub"
)

// ErrClosed is returned when emitting on a closed bus.
var ErrClosed = errors.New("event bus closed")

// Callback handles one event. A returned error (or a panic) is logged and
// reported to the synchronous emitter as part of a *ListenerError.
type Callback func(ctx context.Context, e Event) error

// Filter decides whether a listener sees an event.
type Filter func(e Event) bool

// Option configures a registration.
type Option func(*listener)

// WithPriority sets the listener priority. Higher runs first; default 0.
func WithPriority(p int) Option {
	return func(l *listener) { l.priority = p }
}

// WithFilter sets a predicate evaluated before the callback.
func WithFilter(f Filter) Option {
	return func(l *listener) { l.filter = f }
}

type listener struct {
	name     string
	callback Callback
	priority int
	filter   Filter
	order    uint64
}

// Bus is the event bus. The zero value is not usable; call New.
type Bus struct {
	mu        sync.RWMutex
	listeners map[EventType][]listener
	order     uint64

	seq atomic.Uint64

	// lifeMu orders async.Add against Close so no Add races with Wait.
	lifeMu sync.RWMutex
	closed atomic.Bool
	async  sync.WaitGroup

	streamMu sync.Mutex
	stream   *pubsub.Broker[Event]
	streamed map[EventType]bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		listeners: make(map[EventType][]listener),
		streamed:  make(map[EventType]bool),
	}
}

// Register adds a listener named name for eventType. Registering a name that
// already exists for the type replaces that registration in place: the
// callback, priority and filter change but the original registration order
// is kept and no second entry is created.
func (b *Bus) Register(eventType EventType, name string, cb Callback, opts ...Option) {
	l := listener{name: name, callback: cb}
	for _, opt := range opts {
		opt(&l)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.listeners[eventType]
	next := make([]listener, 0, len(current)+1)
	replaced := false
	for _, existing := range current {
		if existing.name == name {
			l.order = existing.order
			next = append(next, l)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		b.order++
		l.order = b.order
		next = append(next, l)
	}

	slices.SortStableFunc(next, func(a, c listener) int {
		if n := cmp.Compare(c.priority, a.priority); n != 0 {
			return n
		}
		return cmp.Compare(a.order, c.order)
	})
	b.listeners[eventType] = next

	log.Debug(log.CatBus, "listener registered", "eventType", eventType, "listener", name, "priority", l.priority, "replaced", replaced)
}

// Unregister removes the named listener. It reports whether one was removed.
func (b *Bus) Unregister(eventType EventType, name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.listeners[eventType]
	idx := slices.IndexFunc(current, func(l listener) bool { return l.name == name })
	if idx < 0 {
		return false
	}
	b.listeners[eventType] = slices.Delete(slices.Clone(current), idx, idx+1)
	log.Debug(log.CatBus, "listener unregistered", "eventType", eventType, "listener", name)
	return true
}

// Listeners returns listener names for eventType in invocation order.
func (b *Bus) Listeners(eventType EventType) []string {
	snapshot := b.snapshot(eventType)
	names := make([]string, len(snapshot))
	for i, l := range snapshot {
		names[i] = l.name
	}
	return names
}

// snapshot returns the listener slice for eventType. Register and
// Unregister never mutate a published slice, so callers may read it
// without holding the lock.
func (b *Bus) snapshot(eventType EventType) []listener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.listeners[eventType]
}

// stamp assigns the sequence number and timestamp of a new event.
func (b *Bus) stamp(e *Event) {
	if e.Seq == 0 {
		e.Seq = b.seq.Add(1)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
}

// Emit delivers e to its listeners synchronously.
//
// Listeners whose filter panics are skipped. Callback failures are logged;
// once the priority tier containing a failure has finished, Emit returns a
// *ListenerError and lower-priority tiers are not invoked.
func (b *Bus) Emit(ctx context.Context, e Event) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.stamp(&e)
	return b.deliver(ctx, e)
}

func (b *Bus) deliver(ctx context.Context, e Event) error {
	snapshot := b.snapshot(e.Type)
	var failures []ListenerFailure

	for i, l := range snapshot {
		if i > 0 && l.priority != snapshot[i-1].priority && len(failures) > 0 {
			break
		}

		if l.filter != nil {
			accept, err := runFilter(l, e)
			if err != nil {
				log.ErrorErr(log.CatBus, "listener filter failed, skipping listener", err,
					"listener", l.name, "eventType", e.Type, "source", e.Source, "seq", e.Seq)
				continue
			}
			if !accept {
				continue
			}
		}

		if err := runCallback(ctx, l, e); err != nil {
			log.ErrorErr(log.CatBus, "listener failed", err,
				"listener", l.name, "eventType", e.Type, "source", e.Source,
				"priority", l.priority, "seq", e.Seq, "metadata", e.Metadata)
			failures = append(failures, ListenerFailure{Listener: l.name, Priority: l.priority, Err: err})
		}
	}

	if len(failures) > 0 {
		return &ListenerError{Event: e, Failures: failures}
	}
	return nil
}

// EmitAsync delivers e on a detached goroutine. The caller never blocks;
// failures are only logged. Close waits for in-flight deliveries.
func (b *Bus) EmitAsync(ctx context.Context, e Event) {
	b.lifeMu.RLock()
	if b.closed.Load() {
		b.lifeMu.RUnlock()
		log.Warn(log.CatBus, "async emit on closed bus dropped", "eventType", e.Type, "source", e.Source)
		return
	}
	b.async.Add(1)
	b.lifeMu.RUnlock()

	b.stamp(&e)
	ctx = context.WithoutCancel(ctx)
	log.SafeGo(fmt.Sprintf("eventbus.emitAsync[%s]", e.Type), func() {
		defer b.async.Done()
		if err := b.deliver(ctx, e); err != nil {
			log.ErrorErr(log.CatBus, "async emit failed", err, "eventType", e.Type, "source", e.Source, "seq", e.Seq)
		}
	})
}

// Close stops accepting events and waits for in-flight async deliveries
// until ctx is done.
func (b *Bus) Close(ctx context.Context) error {
	b.lifeMu.Lock()
	b.closed.Store(true)
	b.lifeMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.async.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for async emissions: %w", ctx.Err())
	}

	b.streamMu.Lock()
	defer b.streamMu.Unlock()
	if b.stream != nil {
		b.stream.Close()
	}
	return nil
}

func runFilter(l listener, e Event) (accept bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return l.filter(e), nil
}

func runCallback(ctx context.Context, l listener, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return l.callback(ctx, e)
}

// PanicError wraps a value recovered from a listener.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("listener panicked: %v", e.Value)
}

// ListenerFailure is one failed callback.
type ListenerFailure struct {
	Listener string
	Priority int
	Err      error
}

// ListenerError reports callback failures from one Emit.
type ListenerError struct {
	Event    Event
	Failures []ListenerFailure
}

func (e *ListenerError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Listener, f.Err)
	}
	return fmt.Sprintf("%s event from %q: %d listener(s) failed: %s",
		e.Event.Type, e.Event.Source, len(e.Failures), strings.Join(parts, "; "))
}

func (e *ListenerError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}
