// Package dispatch runs the console-side pipeline: bytes from the
// connection are split into frames, decoded, adapted to log entries,
// classified and handed to every interested handler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"runtime/debug"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/diagwire/internal/envelope"
	"github.com/zjrosen/diagwire/internal/frame"
	"github.com/zjrosen/diagwire/internal/handler"
	"github.com/zjrosen/diagwire/internal/log"
	"github.com/zjrosen/diagwire/internal/logentry"
	"github.com/zjrosen/diagwire/internal/router"
	"github.com/zjrosen/diagwire/internal/tracing"
)

const defaultReadSize = 32 << 10

// ErrStray is reported to the unparsable sink for non-whitespace bytes
// found outside any frame.
var ErrStray = errors.New("stray bytes outside a frame")

// UnparsableFunc receives bytes that could not become an entry, with the
// reason.
type UnparsableFunc func(raw []byte, err error)

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Bytes           uint64
	Frames          uint64
	Decoded         uint64
	Unparsable      uint64
	Handled         uint64
	HandlerFailures uint64
}

// Dispatcher is safe to share; Run may be called for successive
// connections, one at a time.
type Dispatcher struct {
	registry   *handler.Registry
	router     *router.Router
	unparsable UnparsableFunc
	tracer     trace.Tracer
	maxFrame   int
	readSize   int

	bytes           atomic.Uint64
	frames          atomic.Uint64
	decoded         atomic.Uint64
	unparsed        atomic.Uint64
	handled         atomic.Uint64
	handlerFailures atomic.Uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithUnparsable sets the sink for malformed input. The default logs a
// warning.
func WithUnparsable(fn UnparsableFunc) Option {
	return func(d *Dispatcher) { d.unparsable = fn }
}

// WithTracer sets the tracer used for stream and frame spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithMaxFrameSize bounds buffered partial frames.
func WithMaxFrameSize(n int) Option {
	return func(d *Dispatcher) { d.maxFrame = n }
}

// WithReadSize sets the read buffer size.
func WithReadSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.readSize = n
		}
	}
}

// New creates a dispatcher over registry, classifying with rt.
func New(registry *handler.Registry, rt *router.Router, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		router:   rt,
		maxFrame: frame.DefaultMaxFrameSize,
		readSize: defaultReadSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracer == nil {
		d.tracer = tracing.Default()
	}
	if d.unparsable == nil {
		d.unparsable = func(raw []byte, err error) {
			log.Warn(log.CatDispatch, "unparsable input", "error", err, "bytes", len(raw))
		}
	}
	return d
}

// Run reads r until end of stream. Malformed input never stops the loop.
// At end of stream an unterminated frame is reported as unparsable. Run
// returns nil at end of stream, ctx.Err() when cancelled between reads,
// and any other read error wrapped.
func (d *Dispatcher) Run(ctx context.Context, r io.Reader) error {
	ctx, span := d.tracer.Start(ctx, tracing.SpanDispatchStream)
	defer span.End()

	splitter := frame.NewSplitterWithLimit(d.maxFrame)
	buf := make([]byte, d.readSize)

	for {
		if err := ctx.Err(); err != nil {
			d.finish(splitter)
			return err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			d.bytes.Add(uint64(n))
			d.consume(ctx, splitter.Feed(buf[:n]))
		}

		if readErr != nil {
			d.finish(splitter)
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, net.ErrClosed) {
				log.Debug(log.CatDispatch, "end of stream", "stats", fmt.Sprintf("%+v", d.Stats()))
				return nil
			}
			tracing.RecordError(span, readErr)
			return fmt.Errorf("reading stream: %w", readErr)
		}
	}
}

func (d *Dispatcher) finish(splitter *frame.Splitter) {
	if err := splitter.Flush(); err != nil {
		var fe *frame.FramingError
		errors.As(err, &fe)
		log.Warn(log.CatFrame, "dropping unterminated frame", "error", err)
		d.reportUnparsable(fe.Partial, err)
	}
}

func (d *Dispatcher) consume(ctx context.Context, res frame.Result) {
	for _, stray := range res.Stray {
		d.reportUnparsable(stray, ErrStray)
	}
	if res.Overflow != nil {
		log.Warn(log.CatFrame, "discarding oversized frame", "error", res.Overflow)
		d.reportUnparsable(res.Overflow.Partial, res.Overflow)
	}
	for _, f := range res.Frames {
		d.Dispatch(ctx, f)
	}
}

// Dispatch decodes one frame and routes it to handlers.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) {
	d.frames.Add(1)
	_, span := d.tracer.Start(ctx, tracing.SpanDispatchFrame)
	defer span.End()

	env, err := envelope.Decode(data)
	if err != nil {
		span.SetAttributes(attribute.Bool(tracing.AttrUnparsable, true))
		log.Debug(log.CatCodec, "decode failed", "error", err)
		d.reportUnparsable(data, err)
		return
	}
	d.decoded.Add(1)
	span.SetAttributes(tracing.KindAttrs(string(env.ObjectKind), string(env.DataKind), len(data))...)

	entry := d.router.Classify(logentry.FromEnvelope(env))
	span.SetAttributes(
		attribute.String(tracing.AttrCategory, string(entry.Category)),
		attribute.String(tracing.AttrLevel, entry.Level.String()),
	)

	count := 0
	for _, h := range d.registry.Handlers() {
		own := *entry
		own.Metadata = maps.Clone(entry.Metadata)
		if d.invoke(span, h, own) {
			count++
		}
	}
	span.SetAttributes(attribute.Int(tracing.AttrHandlerCount, count))
}

// invoke runs one handler, isolating its panics. It reports whether the
// handler accepted the entry.
func (d *Dispatcher) invoke(span trace.Span, h handler.Handler, entry logentry.Entry) (accepted bool) {
	defer func() {
		if r := recover(); r != nil {
			d.handlerFailures.Add(1)
			log.Error(log.CatDispatch, "handler panicked", "handler", h.Name(), "panic", r,
				"category", entry.Category, "stack", string(debug.Stack()))
			span.AddEvent(tracing.EventHandlerFailed, trace.WithAttributes(attribute.String("handler", h.Name())))
		}
	}()

	if !h.ShouldHandle(entry) {
		return false
	}
	accepted = true
	h.Handle(entry)
	d.handled.Add(1)
	return accepted
}

func (d *Dispatcher) reportUnparsable(raw []byte, err error) {
	d.unparsed.Add(1)
	d.unparsable(raw, err)
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Bytes:           d.bytes.Load(),
		Frames:          d.frames.Load(),
		Decoded:         d.decoded.Load(),
		Unparsable:      d.unparsed.Load(),
		Handled:         d.handled.Load(),
		HandlerFailures: d.handlerFailures.Load(),
	}
}
