// Package app builds the producer-side object graph once and hands it to
// callers explicitly: tracing, the event bus, the transport, the diag client,
// the status reporter and the exit coordinator.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/zjrosen/diagwire/internal/config"
	"github.com/zjrosen/diagwire/internal/diag"
	"github.com/zjrosen/diagwire/internal/eventbus"
	"github.com/zjrosen/diagwire/internal/exit"
	"github.com/zjrosen/diagwire/internal/flags"
	"github.com/zjrosen/diagwire/internal/log"
	"github.com/zjrosen/diagwire/internal/render"
	"github.com/zjrosen/diagwire/internal/tracing"
	"github.com/zjrosen/diagwire/internal/transport"
)

// StatusPriority is where the status reporter sits among bus listeners.
// Application listeners at the default priority run before it.
const StatusPriority = -10

// App is the producer-side application context.
type App struct {
	Config    config.Config
	SessionID string
	Flags     *flags.Registry
	Tracing   *tracing.Provider
	Bus       *eventbus.Bus
	Renderer  *render.Renderer
	Transport *transport.Manager
	Diag      *diag.Client
	Status    *diag.StatusReporter
	Exit      *exit.Coordinator

	spawnLog io.Closer
}

type options struct {
	out           io.Writer
	spawner       transport.Spawner
	dialer        transport.Dialer
	provider      *tracing.Provider
	exitTrigger   func([]exit.Ticket)
	exitsRequired int
}

// Option customizes New.
type Option func(*options)

// WithOutput sets the local output used when the console is unreachable.
// Default os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithSpawner replaces the console spawner. It is only used when the
// console-autospawn flag is on.
func WithSpawner(s transport.Spawner) Option {
	return func(o *options) { o.spawner = s }
}

// WithDialer replaces the transport dialer.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithTracingProvider uses p instead of building one from config.
func WithTracingProvider(p *tracing.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithExitTrigger sets what runs when enough exit tickets are issued.
func WithExitTrigger(fn func([]exit.Ticket)) Option {
	return func(o *options) { o.exitTrigger = fn }
}

// WithExitsRequired overrides how many exit tickets trigger shutdown.
func WithExitsRequired(n int) Option {
	return func(o *options) { o.exitsRequired = n }
}

// New validates cfg and builds the application context.
func New(cfg config.Config, opts ...Option) (*App, error) {
	o := options{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.Tracing.FilePath == "" && cfg.Tracing.Exporter == "file" {
		cfg.Tracing.FilePath = config.DefaultTracesFilePath()
	}
	cfg.Tracing.FilePath = config.ExpandHome(cfg.Tracing.FilePath)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		Config:    cfg,
		SessionID: uuid.NewString(),
		Flags:     flags.New(cfg.Flags),
	}

	a.Tracing = o.provider
	if a.Tracing == nil {
		p, err := tracing.NewProvider(cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		a.Tracing = p
	}

	a.Bus = eventbus.New()
	a.Renderer = render.New(o.out, render.Options{
		Width:    cfg.Render.Width,
		NoColor:  cfg.Render.NoColor,
		Markdown: cfg.Render.Markdown || a.Flags.Enabled(flags.FlagMarkdownBodies),
	})

	tOpts := []transport.Option{
		transport.WithFallback(o.out),
		transport.WithFallbackFormatter(a.Renderer.Render),
		transport.WithTracer(a.Tracing.Tracer()),
	}
	if o.dialer != nil {
		tOpts = append(tOpts, transport.WithDialer(o.dialer))
	}
	if a.Flags.Enabled(flags.FlagConsoleAutospawn) {
		spawner := o.spawner
		if spawner == nil {
			exe, args, err := transport.ConsoleCommand(cfg.Transport.SpawnCommand, cfg.Console.Addr())
			if err != nil {
				return nil, fmt.Errorf("console command: %w", err)
			}
			spawnOut, closer, err := openSpawnOutput(cfg.Transport.SpawnOutput, o.out)
			if err != nil {
				return nil, fmt.Errorf("transport.spawn_output: %w", err)
			}
			a.spawnLog = closer
			spawner = transport.NewProcessSpawner(exe, args).WithOutput(spawnOut)
		}
		tOpts = append(tOpts, transport.WithSpawner(spawner))
	}
	a.Transport = transport.NewManager(cfg.TransportSettings(), tOpts...)

	a.Diag = diag.NewClient(a.Transport, a.Renderer)

	var dedupe *eventbus.Deduper
	if a.Flags.Enabled(flags.FlagStatusDedupe) {
		dedupe = eventbus.NewDeduper(eventbus.DefaultDedupeWindow)
	}
	a.Status = diag.NewStatusReporter(a.Diag, a.Renderer, dedupe)
	a.Status.Attach(a.Bus, StatusPriority)

	exitOpts := []exit.Option{exit.WithTrigger(o.exitTrigger)}
	if o.exitsRequired > 0 {
		exitOpts = append(exitOpts, exit.WithRequired(o.exitsRequired))
	}
	a.Exit = exit.New(exitOpts...)

	log.Info(log.CatConfig, "application context ready",
		"session", a.SessionID,
		"console", cfg.Console.Addr(),
		"autospawn", a.Flags.Enabled(flags.FlagConsoleAutospawn),
		"tracing", a.Tracing.Enabled())
	return a, nil
}

// Shutdown tears the context down. The bus is drained first, until ctx is
// done, so pending async emissions still reach the console; then the
// transport and tracing close.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Bus.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing event bus: %w", err))
	}
	a.Status.Detach(a.Bus)
	if err := a.Transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing transport: %w", err))
	}
	if err := a.Tracing.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing traces: %w", err))
	}
	if a.spawnLog != nil {
		if err := a.spawnLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing spawn output: %w", err))
		}
	}
	stats := a.Transport.Stats()
	log.Info(log.CatConfig, "application shut down",
		"session", a.SessionID, "sent", stats.Sent, "fallback", stats.Fallback, "spawns", stats.Spawns)
	return errors.Join(errs...)
}

// openSpawnOutput resolves transport.spawn_output. The returned closer is
// nil unless a file was opened.
func openSpawnOutput(target string, inherit io.Writer) (io.Writer, io.Closer, error) {
	switch target {
	case "", config.SpawnOutputInherit:
		return inherit, nil, nil
	case config.SpawnOutputDiscard:
		return nil, nil, nil
	}
	path := config.ExpandHome(target)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // path comes from user config
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}
