package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/diagwire/internal/config"
	"github.com/zjrosen/diagwire/internal/console"
	"github.com/zjrosen/diagwire/internal/flags"
	"github.com/zjrosen/diagwire/internal/log"
	"github.com/zjrosen/diagwire/internal/render"
	"github.com/zjrosen/diagwire/internal/tracing"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Run the diagnostics console",
	Long: `Run the console process. It listens on the configured endpoint, accepts
one producer at a time and prints each routed entry. Without --keep-alive
it exits when the first producer disconnects.

Example:
  diagwire console                          # listen on console.host:console.port
  diagwire console --addr 127.0.0.1:9555    # override the endpoint
  diagwire console --keep-alive --min-level warning`,
	RunE: runConsole,
}

var consoleAddr string

func init() {
	rootCmd.AddCommand(consoleCmd)

	consoleCmd.Flags().StringVar(&consoleAddr, "addr", "", "host:port to listen on (overrides config)")
	consoleCmd.Flags().Bool("keep-alive", false, "keep accepting producers after one disconnects")
	consoleCmd.Flags().String("min-level", "", "lowest level displayed: debug, info, warning, error, critical")
	consoleCmd.Flags().String("overrides-file", "", "YAML router overrides file, reloaded on change")
	consoleCmd.Flags().Bool("no-color", false, "disable colors")

	_ = viper.BindPFlag("console.keep_alive", consoleCmd.Flags().Lookup("keep-alive"))
	_ = viper.BindPFlag("console.min_level", consoleCmd.Flags().Lookup("min-level"))
	_ = viper.BindPFlag("router.overrides_file", consoleCmd.Flags().Lookup("overrides-file"))
	_ = viper.BindPFlag("render.no_color", consoleCmd.Flags().Lookup("no-color"))
}

// applyAddr overrides the console host and port from a host:port string.
func applyAddr(c *config.Config, addr string) error {
	if addr == "" {
		return nil
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid --addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid --addr port %q: %w", portStr, err)
	}
	if host != "" {
		c.Console.Host = host
	}
	c.Console.Port = port
	return nil
}

// consoleConfig converts the loaded configuration into server settings.
func consoleConfig(c config.Config) (console.Config, error) {
	overrides, err := c.RouterRules()
	if err != nil {
		return console.Config{}, fmt.Errorf("router.overrides: %w", err)
	}
	registry := flags.New(c.Flags)
	return console.Config{
		Addr:          c.Console.Addr(),
		KeepAlive:     c.Console.KeepAlive,
		MinLevel:      c.MinLevel(),
		Overrides:     overrides,
		OverridesFile: c.Router.OverridesFile,
		Render: render.Options{
			Width:    c.Render.Width,
			NoColor:  c.Render.NoColor,
			Markdown: c.Render.Markdown || registry.Enabled(flags.FlagMarkdownBodies),
		},
	}, nil
}

func runConsole(_ *cobra.Command, _ []string) error {
	cleanup, err := initLogging("diagwire-console")
	if err != nil {
		return err
	}
	defer cleanup()

	if err := applyAddr(&cfg, consoleAddr); err != nil {
		return err
	}
	if cfg.Tracing.Exporter == "file" && cfg.Tracing.FilePath == "" {
		cfg.Tracing.FilePath = config.DefaultTracesFilePath()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	serverCfg, err := consoleConfig(cfg)
	if err != nil {
		return err
	}
	server, err := console.New(serverCfg, console.WithTracer(provider.Tracer()))
	if err != nil {
		return fmt.Errorf("creating console: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := server.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := provider.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatTrace, "flushing traces failed", err)
	}
	return runErr
}
