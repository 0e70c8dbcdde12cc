// Package transport owns the single outbound connection from a producer
// process to the console process.
//
// The connection is made lazily on the first Send. When the console cannot
// be reached the manager spawns it, waits a grace period and dials once
// more. If that also fails the envelope is written to a local fallback
// sink instead, so producers never observe transport failures.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/diagwire/internal/envelope"
	"github.com/zjrosen/diagwire/internal/log"
	"github.com/zjrosen/diagwire/internal/tracing"
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Provisioning
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Provisioning:
		return "provisioning"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("transport closed")

// ConnectionError reports that the console endpoint could not be reached,
// after spawning when spawning is enabled.
type ConnectionError struct {
	Addr    string
	Spawned bool
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("console %s unreachable (spawned=%t): %v", e.Addr, e.Spawned, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Dialer opens the connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Spawner starts the console process. Spawn must be idempotent: when a
// previously spawned console is still alive it returns started=false and
// no error.
type Spawner interface {
	Spawn(ctx context.Context) (started bool, err error)
}

// Config holds the connection parameters.
type Config struct {
	Addr           string
	ConnectTimeout time.Duration
	RetryTimeout   time.Duration
	SpawnGrace     time.Duration
	WriteTimeout   time.Duration
	// Cooldown suppresses new provisioning attempts for this long after a
	// failed one; sends during the cooldown go straight to the fallback.
	// Zero retries on every send.
	Cooldown time.Duration
}

// DefaultConfig returns the default timeouts for addr.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:           addr,
		ConnectTimeout: 500 * time.Millisecond,
		RetryTimeout:   2 * time.Second,
		SpawnGrace:     750 * time.Millisecond,
		WriteTimeout:   2 * time.Second,
	}
}

// Stats is a snapshot of transport counters.
type Stats struct {
	Sent          uint64
	Fallback      uint64
	Spawns        uint64
	Connects      uint64
	Reconnects    uint64
	DialFailures  uint64
	WriteFailures uint64
}

// Manager is safe for concurrent use by any number of producers.
type Manager struct {
	cfg       Config
	dialer    Dialer
	spawner   Spawner
	fallback  io.Writer
	formatter func(envelope.Envelope) string
	tracer    trace.Tracer
	sleep     func(ctx context.Context, d time.Duration) error

	// provMu serializes provisioning; writers never take it.
	provMu      sync.Mutex
	lastFailure time.Time

	// mu guards conn and makes writes exclusive.
	mu   sync.Mutex
	conn net.Conn

	fallbackMu sync.Mutex

	state  atomic.Int32
	closed atomic.Bool

	sent          atomic.Uint64
	fellBack      atomic.Uint64
	spawns        atomic.Uint64
	connects      atomic.Uint64
	reconnects    atomic.Uint64
	dialFailures  atomic.Uint64
	writeFailures atomic.Uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the network dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithSpawner enables spawning the console when it is unreachable.
func WithSpawner(s Spawner) Option {
	return func(m *Manager) { m.spawner = s }
}

// WithFallback sets the local sink. Default os.Stdout.
func WithFallback(w io.Writer) Option {
	return func(m *Manager) { m.fallback = w }
}

// WithFallbackFormatter sets how envelopes are printed to the fallback
// sink. Default envelope.Envelope.Text.
func WithFallbackFormatter(fn func(envelope.Envelope) string) Option {
	return func(m *Manager) { m.formatter = fn }
}

// WithTracer sets the tracer for send and connect spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// NewManager creates a disconnected manager.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		dialer:    &net.Dialer{},
		fallback:  os.Stdout,
		formatter: envelope.Envelope.Text,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = tracing.Default()
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Sent:          m.sent.Load(),
		Fallback:      m.fellBack.Load(),
		Spawns:        m.spawns.Load(),
		Connects:      m.connects.Load(),
		Reconnects:    m.reconnects.Load(),
		DialFailures:  m.dialFailures.Load(),
		WriteFailures: m.writeFailures.Load(),
	}
}

// Send ships env to the console, connecting first if needed. Any failure
// degrades this call to the fallback sink. It reports whether the
// envelope went over the connection.
func (m *Manager) Send(ctx context.Context, env envelope.Envelope) bool {
	ctx, span := m.tracer.Start(ctx, tracing.SpanTransportSend)
	defer span.End()

	data, err := envelope.Encode(env)
	if err != nil {
		log.ErrorErr(log.CatCodec, "encode failed, printing locally", err, "dataKind", env.DataKind)
		tracing.RecordError(span, err)
		m.writeFallback(span, env)
		return false
	}
	span.SetAttributes(tracing.KindAttrs(string(env.ObjectKind), string(env.DataKind), len(data))...)

	if m.State() != Connected {
		if err := m.Connect(ctx); err != nil {
			tracing.RecordError(span, err)
			m.writeFallback(span, env)
			return false
		}
	}

	if err := m.write(data); err != nil {
		span.AddEvent(tracing.EventWriteFailed)
		tracing.RecordError(span, err)
		m.writeFallback(span, env)
		return false
	}
	m.sent.Add(1)
	return true
}

func (m *Manager) write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return errors.New("connection lost before write")
	}
	if m.cfg.WriteTimeout > 0 {
		_ = m.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	}
	if _, err := m.conn.Write(data); err != nil {
		m.writeFailures.Add(1)
		log.Warn(log.CatTransport, "write failed, tearing connection down", "addr", m.cfg.Addr, "error", err)
		_ = m.conn.Close()
		m.conn = nil
		m.state.Store(int32(Disconnected))
		return fmt.Errorf("writing envelope: %w", err)
	}
	return nil
}

// Connect establishes the connection if there is none. Only one
// provisioning attempt runs at a time; callers that waited for it return
// as soon as they see the connection it made.
func (m *Manager) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.State() == Connected {
		return nil
	}

	m.provMu.Lock()
	defer m.provMu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	if m.State() == Connected {
		return nil
	}
	if m.cfg.Cooldown > 0 && !m.lastFailure.IsZero() && time.Since(m.lastFailure) < m.cfg.Cooldown {
		return &ConnectionError{Addr: m.cfg.Addr, Err: errors.New("cooling down after failed provisioning")}
	}

	ctx, span := m.tracer.Start(ctx, tracing.SpanTransportConnect,
		trace.WithAttributes(attribute.String(tracing.AttrEndpoint, m.cfg.Addr)))
	defer span.End()

	m.state.Store(int32(Provisioning))
	conn, spawned, err := m.provision(ctx)
	span.SetAttributes(attribute.Bool(tracing.AttrSpawned, spawned))
	if err != nil {
		m.state.Store(int32(Disconnected))
		m.lastFailure = time.Now()
		cerr := &ConnectionError{Addr: m.cfg.Addr, Spawned: spawned, Err: err}
		tracing.RecordError(span, cerr)
		log.Warn(log.CatTransport, "console unreachable, using local output", "addr", m.cfg.Addr, "spawned", spawned, "error", err)
		return cerr
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.lastFailure = time.Time{}
	if m.connects.Add(1) > 1 {
		m.reconnects.Add(1)
		span.AddEvent(tracing.EventReconnect)
	}
	m.state.Store(int32(Connected))
	log.Info(log.CatTransport, "connected to console", "addr", m.cfg.Addr, "spawned", spawned)
	return nil
}

func (m *Manager) provision(ctx context.Context) (net.Conn, bool, error) {
	conn, err := m.dial(ctx, m.cfg.ConnectTimeout)
	if err == nil {
		return conn, false, nil
	}
	if m.spawner == nil {
		return nil, false, err
	}

	log.Debug(log.CatTransport, "console unreachable, spawning", "addr", m.cfg.Addr, "error", err)
	started, spawnErr := m.spawn(ctx)
	if spawnErr != nil {
		return nil, false, errors.Join(err, spawnErr)
	}
	if started {
		if err := m.sleep(ctx, m.cfg.SpawnGrace); err != nil {
			return nil, true, err
		}
	}

	conn, err = m.dial(ctx, m.cfg.RetryTimeout)
	if err != nil {
		return nil, started, err
	}
	return conn, started, nil
}

func (m *Manager) spawn(ctx context.Context) (bool, error) {
	ctx, span := m.tracer.Start(ctx, tracing.SpanTransportSpawn)
	defer span.End()

	started, err := m.spawner.Spawn(ctx)
	if err != nil {
		tracing.RecordError(span, err)
		return false, fmt.Errorf("spawning console: %w", err)
	}
	if started {
		m.spawns.Add(1)
	}
	span.SetAttributes(attribute.Bool(tracing.AttrSpawned, started))
	return started, nil
}

func (m *Manager) dial(ctx context.Context, timeout time.Duration) (net.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, err := m.dialer.DialContext(ctx, "tcp", m.cfg.Addr)
	if err != nil {
		m.dialFailures.Add(1)
		return nil, fmt.Errorf("dial %s: %w", m.cfg.Addr, err)
	}
	return conn, nil
}

func (m *Manager) writeFallback(span trace.Span, env envelope.Envelope) {
	m.fellBack.Add(1)
	span.SetAttributes(attribute.Bool(tracing.AttrFallback, true))

	m.fallbackMu.Lock()
	defer m.fallbackMu.Unlock()
	if _, err := fmt.Fprintln(m.fallback, m.formatter(env)); err != nil {
		log.ErrorErr(log.CatTransport, "fallback write failed", err)
	}
}

// Close drops the connection. Later sends go to the fallback sink.
func (m *Manager) Close() error {
	m.closed.Store(true)
	m.provMu.Lock()
	defer m.provMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Store(int32(Disconnected))
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
