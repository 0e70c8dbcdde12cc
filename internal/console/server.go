// Package console is the receiving end of the pipeline. A Server listens
// on a TCP endpoint, serves one producer connection at a time through the
// dispatcher, and prints routed entries.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/diagwire/internal/dispatch"
	"github.com/zjrosen/diagwire/internal/handler"
	"github.com/zjrosen/diagwire/internal/log"
	"github.com/zjrosen/diagwire/internal/logentry"
	"github.com/zjrosen/diagwire/internal/render"
	"github.com/zjrosen/diagwire/internal/router"
	"github.com/zjrosen/diagwire/internal/tracing"
	"github.com/zjrosen/diagwire/internal/watcher"
)

// Config configures a Server.
type Config struct {
	Addr string
	// KeepAlive keeps accepting producers after the first disconnects.
	KeepAlive bool
	MinLevel  logentry.Level
	// Overrides are layered over the default routing table.
	Overrides []router.Rule
	// OverridesFile is a YAML rule file layered over Overrides and
	// reloaded when it changes. Empty disables it.
	OverridesFile string
	Render        render.Options
	MaxFrameSize  int
}

// Server is the console process.
type Server struct {
	cfg        Config
	out        io.Writer
	tracer     trace.Tracer
	extra      []handler.Handler
	renderer   *render.Renderer
	router     *router.Router
	registry   *handler.Registry
	display    *handler.Display
	tally      *handler.Tally
	dispatcher *dispatch.Dispatcher

	mu       sync.Mutex
	listener net.Listener
	active   net.Conn
	clients  int
}

// Option configures a Server.
type Option func(*Server)

// WithOutput sets where entries are printed. Default os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(s *Server) { s.out = w }
}

// WithTracer sets the tracer for dispatcher spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// WithHandlers registers extra handlers after the built-in ones.
func WithHandlers(handlers ...handler.Handler) Option {
	return func(s *Server) { s.extra = append(s.extra, handlers...) }
}

// New builds a server and its handler registry. It does not bind yet.
func New(cfg Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg, out: os.Stdout}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = tracing.Default()
	}

	s.renderer = render.New(s.out, cfg.Render)
	s.router = router.New(cfg.Overrides...)
	s.registry = handler.NewRegistry()
	s.display = handler.NewDisplay(s.out, s.renderer, cfg.MinLevel)
	s.tally = handler.NewTally()

	for _, h := range append([]handler.Handler{s.display, s.tally}, s.extra...) {
		if err := s.registry.Register(h); err != nil {
			return nil, err
		}
	}

	dOpts := []dispatch.Option{
		dispatch.WithTracer(s.tracer),
		dispatch.WithUnparsable(func(raw []byte, err error) {
			s.display.Print(s.renderer.RenderUnparsable(raw, err))
		}),
	}
	if cfg.MaxFrameSize > 0 {
		dOpts = append(dOpts, dispatch.WithMaxFrameSize(cfg.MaxFrameSize))
	}
	s.dispatcher = dispatch.New(s.registry, s.router, dOpts...)

	if cfg.OverridesFile != "" {
		if err := s.ReloadOverrides(); err != nil {
			log.Warn(log.CatConsole, "router overrides file not loaded", "path", cfg.OverridesFile, "error", err)
		}
	}
	return s, nil
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("console listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	log.Info(log.CatConsole, "listening", "addr", ln.Addr().String(), "keepAlive", s.cfg.KeepAlive)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts producers one at a time and dispatches each stream until
// it ends. Without KeepAlive it returns after the first producer
// disconnects. Cancelling ctx closes the listener and the active
// connection; Serve then returns nil.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("console: Serve called before Listen")
	}

	stop := context.AfterFunc(ctx, s.Close)
	defer stop()
	defer func() { _ = ln.Close() }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("console accept: %w", err)
		}

		s.serveConn(ctx, conn)

		if !s.cfg.KeepAlive || ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	s.mu.Lock()
	s.active = conn
	s.clients++
	n := s.clients
	s.mu.Unlock()

	remote := conn.RemoteAddr().String()
	log.Info(log.CatConsole, "producer connected", "remote", remote, "client", n)

	err := s.dispatcher.Run(ctx, conn)

	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
	_ = conn.Close()

	if err != nil && ctx.Err() == nil {
		log.Warn(log.CatConsole, "producer stream failed", "remote", remote, "error", err)
	}
	log.Info(log.CatConsole, "producer disconnected", "remote", remote, "stats", fmt.Sprintf("%+v", s.dispatcher.Stats()))
}

// Close stops accepting and drops the active connection.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.active != nil {
		_ = s.active.Close()
	}
}

// Run listens, watches the overrides file, serves until done and prints
// the session summary.
func (s *Server) Run(ctx context.Context) error {
	stopWatch, err := s.watchOverrides(ctx)
	if err != nil {
		log.Warn(log.CatConsole, "router overrides not watched", "path", s.cfg.OverridesFile, "error", err)
	}
	defer stopWatch()
	if err := s.Listen(); err != nil {
		return err
	}

	s.display.Print(s.renderer.Panel("diagwire console", fmt.Sprintf("listening on %s", s.Addr())))
	err = s.Serve(ctx)
	s.PrintSummary()
	return err
}

// PrintSummary prints the entry counts seen so far.
func (s *Server) PrintSummary() {
	s.display.Print(s.renderer.Panel("Session summary", s.tally.Summary()))
}

// ReloadOverrides reads the overrides file and swaps the router table.
// The previous table stays in effect when the file cannot be loaded.
func (s *Server) ReloadOverrides() error {
	rules, err := router.LoadOverrides(s.cfg.OverridesFile)
	if err != nil {
		return err
	}
	s.router.SetOverrides(append(append([]router.Rule{}, s.cfg.Overrides...), rules...)...)
	log.Info(log.CatConsole, "router overrides loaded", "path", s.cfg.OverridesFile, "rules", len(rules))
	return nil
}

// watchOverrides reloads the overrides file on change until ctx is done.
// The returned stop function is always safe to call.
func (s *Server) watchOverrides(ctx context.Context) (func(), error) {
	noop := func() {}
	if s.cfg.OverridesFile == "" {
		return noop, nil
	}
	w, err := watcher.New(watcher.DefaultConfig(s.cfg.OverridesFile))
	if err != nil {
		return noop, err
	}
	changes, err := w.Start()
	if err != nil {
		_ = w.Stop()
		return noop, err
	}

	ctx, cancel := context.WithCancel(ctx)
	log.SafeGo("console.reloadOverrides", func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				if err := s.ReloadOverrides(); err != nil {
					log.Warn(log.CatConsole, "router overrides reload failed", "path", s.cfg.OverridesFile, "error", err)
				}
			}
		}
	})
	return func() {
		cancel()
		_ = w.Stop()
	}, nil
}

// Router returns the live router.
func (s *Server) Router() *router.Router { return s.router }

// Tally returns the counting handler.
func (s *Server) Tally() *handler.Tally { return s.tally }

// Stats returns dispatcher counters across all producers.
func (s *Server) Stats() dispatch.Stats { return s.dispatcher.Stats() }

// Registry returns the handler registry.
func (s *Server) Registry() *handler.Registry { return s.registry }
