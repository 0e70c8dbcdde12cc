// Package exit gates graceful shutdown on a number of independent exit
// tickets. Each part of the program that is finished issues a ticket; when
// the required count is reached the trigger runs exactly once.
package exit

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/diagwire/internal/log"
)

// DefaultRequired is the ticket count that triggers shutdown.
const DefaultRequired = 2

// Ticket records one exit request. Tickets are append-only.
type Ticket struct {
	ID       string
	Source   string
	IssuedAt time.Time
}

// Coordinator counts exit tickets. It is safe for concurrent use.
type Coordinator struct {
	required int
	trigger  func([]Ticket)

	mu        sync.Mutex
	tickets   []Ticket
	triggered bool
	done      chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRequired sets how many tickets trigger shutdown. Values below 1 are
// ignored.
func WithRequired(n int) Option {
	return func(c *Coordinator) {
		if n >= 1 {
			c.required = n
		}
	}
}

// WithTrigger sets the function run once when the count is reached. It
// receives the tickets issued so far and runs outside the lock.
func WithTrigger(fn func([]Ticket)) Option {
	return func(c *Coordinator) { c.trigger = fn }
}

// New creates a coordinator requiring DefaultRequired tickets.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		required: DefaultRequired,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IssueTicket appends a ticket from source. It reports whether this ticket
// caused the trigger; tickets issued after that are only recorded. The same
// source may issue more than one ticket and each counts.
func (c *Coordinator) IssueTicket(source string) bool {
	ticket := Ticket{ID: uuid.NewString(), Source: source, IssuedAt: time.Now()}

	c.mu.Lock()
	c.tickets = append(c.tickets, ticket)
	count := len(c.tickets)
	fire := !c.triggered && count >= c.required
	if fire {
		c.triggered = true
	}
	var snapshot []Ticket
	if fire {
		snapshot = append([]Ticket(nil), c.tickets...)
	}
	c.mu.Unlock()

	log.Info(log.CatExit, "exit ticket issued", "source", source, "count", count, "required", c.required)
	if !fire {
		return false
	}

	log.Info(log.CatExit, "exit triggered", "tickets", count)
	if c.trigger != nil {
		c.trigger(snapshot)
	}
	close(c.done)
	return true
}

// Done is closed after the trigger has run.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Triggered reports whether the required count has been reached.
func (c *Coordinator) Triggered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggered
}

// Tickets returns a copy of every ticket issued, in issue order.
func (c *Coordinator) Tickets() []Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Ticket(nil), c.tickets...)
}

// Required returns the ticket count that triggers shutdown.
func (c *Coordinator) Required() int {
	return c.required
}
