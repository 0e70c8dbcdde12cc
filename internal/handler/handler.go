// Package handler holds the console-side consumers of routed log entries
// and the registry the dispatcher consults for each entry.
package handler

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/zjrosen/diagwire/internal/log"
	"github.com/zjrosen/diagwire/internal/logentry"
)

// Handler decides independently whether it applies to an entry. Each
// handler gets its own copy of the entry and of its top-level Metadata
// map; nested metadata values and the source Envelope are shared and must
// not be modified.
type Handler interface {
	Name() string
	ShouldHandle(entry logentry.Entry) bool
	Handle(entry logentry.Entry)
}

// Registry errors.
var (
	ErrDuplicateHandler = errors.New("handler already registered")
	ErrHandlerNotFound  = errors.New("handler not found")
)

// RegistryError reports a failed registry operation on a named handler.
type RegistryError struct {
	Op   string
	Name string
	Err  error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("%s handler %q: %v", e.Op, e.Name, e.Err)
}

func (e *RegistryError) Unwrap() error { return e.Err }

// Registry is a thread-safe, insertion-ordered set of named handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds h. It fails with ErrDuplicateHandler when the name is taken.
func (r *Registry) Register(h Handler) error {
	name := h.Name()
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return &RegistryError{Op: "register", Name: name, Err: ErrDuplicateHandler}
	}
	r.handlers[name] = h
	r.order = append(r.order, name)
	log.Debug(log.CatDispatch, "handler registered", "handler", name)
	return nil
}

// Get returns the named handler.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return nil, &RegistryError{Op: "get", Name: name, Err: ErrHandlerNotFound}
	}
	return h, nil
}

// Unregister removes the named handler.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[name]; !ok {
		return &RegistryError{Op: "unregister", Name: name, Err: ErrHandlerNotFound}
	}
	delete(r.handlers, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	return nil
}

// UnregisterAll removes every handler.
func (r *Registry) UnregisterAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string]Handler)
	r.order = nil
}

// List returns handler names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Handlers returns the registered handlers in registration order.
func (r *Registry) Handlers() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, len(r.order))
	for i, name := range r.order {
		out[i] = r.handlers[name]
	}
	return out
}

// Func adapts plain functions to Handler. A nil should accepts every entry.
func Func(name string, should func(logentry.Entry) bool, handle func(logentry.Entry)) Handler {
	return funcHandler{name: name, should: should, handle: handle}
}

type funcHandler struct {
	name   string
	should func(logentry.Entry) bool
	handle func(logentry.Entry)
}

func (f funcHandler) Name() string { return f.name }

func (f funcHandler) ShouldHandle(e logentry.Entry) bool {
	return f.should == nil || f.should(e)
}

func (f funcHandler) Handle(e logentry.Entry) { f.handle(e) }
