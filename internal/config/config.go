// Package config provides configuration types and defaults for diagwire.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zjrosen/diagwire/internal/flags"
	"github.com/zjrosen/diagwire/internal/log"
	"github.com/zjrosen/diagwire/internal/logentry"
	"github.com/zjrosen/diagwire/internal/router"
	"github.com/zjrosen/diagwire/internal/tracing"
	"github.com/zjrosen/diagwire/internal/transport"
)

// Config holds all configuration options for diagwire.
type Config struct {
	Console   ConsoleConfig   `mapstructure:"console"`
	Transport TransportConfig `mapstructure:"transport"`
	Router    RouterConfig    `mapstructure:"router"`
	Render    RenderConfig    `mapstructure:"render"`
	Tracing   tracing.Config  `mapstructure:"tracing"`
	Flags     map[string]bool `mapstructure:"flags"`
}

// ConsoleConfig configures the console process and where producers find it.
type ConsoleConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	KeepAlive bool   `mapstructure:"keep_alive"` // accept another client after one disconnects
	MinLevel  string `mapstructure:"min_level"`  // entries below this level are not displayed
}

// Addr returns host:port.
func (c ConsoleConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TransportConfig holds producer connection settings.
type TransportConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RetryTimeout   time.Duration `mapstructure:"retry_timeout"`
	SpawnGrace     time.Duration `mapstructure:"spawn_grace"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	// SpawnCommand overrides the command that starts a console. Empty means
	// this executable's "console" subcommand.
	SpawnCommand string `mapstructure:"spawn_command"`
	// SpawnOutput is where a spawned console prints: empty or "inherit" for
	// the producer's terminal, "discard", or a file path opened for append.
	SpawnOutput string `mapstructure:"spawn_output"`
}

// Spawn output targets that are not file paths.
const (
	SpawnOutputInherit = "inherit"
	SpawnOutputDiscard = "discard"
)

// RouterConfig holds keyword routing overrides.
type RouterConfig struct {
	// Overrides maps keyword to category and is layered over the default
	// table.
	Overrides map[string]string `mapstructure:"overrides"`
	// OverridesFile is a YAML rule file layered over Overrides. The
	// console reloads it when it changes.
	OverridesFile string `mapstructure:"overrides_file"`
}

// RenderConfig holds console output settings.
type RenderConfig struct {
	Width    int  `mapstructure:"width"`
	NoColor  bool `mapstructure:"no_color"`
	Markdown bool `mapstructure:"markdown"`
}

// DefaultHost and DefaultPort are where the console listens by default.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 9020
)

// DefaultTracesFilePath returns ~/.config/diagwire/traces/traces.jsonl, or
// "" when the home directory is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "diagwire", "traces", "traces.jsonl")
}

// Defaults returns a Config with default values.
func Defaults() Config {
	t := transport.DefaultConfig("")
	return Config{
		Console: ConsoleConfig{
			Host:     DefaultHost,
			Port:     DefaultPort,
			MinLevel: "debug",
		},
		Transport: TransportConfig{
			ConnectTimeout: t.ConnectTimeout,
			RetryTimeout:   t.RetryTimeout,
			SpawnGrace:     t.SpawnGrace,
			WriteTimeout:   t.WriteTimeout,
		},
		Render: RenderConfig{
			Width: 100,
		},
		Tracing: tracing.DefaultConfig(),
		Flags:   flags.Defaults(),
	}
}

// TransportSettings converts the transport section into transport.Config.
func (c Config) TransportSettings() transport.Config {
	return transport.Config{
		Addr:           c.Console.Addr(),
		ConnectTimeout: c.Transport.ConnectTimeout,
		RetryTimeout:   c.Transport.RetryTimeout,
		SpawnGrace:     c.Transport.SpawnGrace,
		WriteTimeout:   c.Transport.WriteTimeout,
		Cooldown:       c.Transport.Cooldown,
	}
}

// MinLevel returns the parsed console.min_level.
func (c Config) MinLevel() logentry.Level {
	if c.Console.MinLevel == "" {
		return logentry.LevelDebug
	}
	level, _ := logentry.ParseLevel(c.Console.MinLevel)
	return level
}

// RouterRules returns the configured overrides, without the overrides file.
func (c Config) RouterRules() ([]router.Rule, error) {
	return router.RulesFromMap(c.Router.Overrides)
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if err := ValidateConsole(c.Console); err != nil {
		return err
	}
	if err := ValidateTransport(c.Transport); err != nil {
		return err
	}
	if _, err := c.RouterRules(); err != nil {
		return fmt.Errorf("router.overrides: %w", err)
	}
	if c.Render.Width < 0 {
		return fmt.Errorf("render.width must not be negative, got %d", c.Render.Width)
	}
	return ValidateTracing(c.Tracing)
}

// ValidateConsole checks console settings.
func ValidateConsole(c ConsoleConfig) error {
	if c.Host == "" {
		return fmt.Errorf("console.host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("console.port must be between 1 and 65535, got %d", c.Port)
	}
	if c.MinLevel != "" {
		if _, ok := logentry.ParseLevel(c.MinLevel); !ok {
			return fmt.Errorf("console.min_level %q is not a level (debug, info, warning, error, critical)", c.MinLevel)
		}
	}
	return nil
}

// ValidateTransport checks transport timeouts.
func ValidateTransport(t TransportConfig) error {
	for name, d := range map[string]time.Duration{
		"connect_timeout": t.ConnectTimeout,
		"retry_timeout":   t.RetryTimeout,
		"spawn_grace":     t.SpawnGrace,
		"write_timeout":   t.WriteTimeout,
		"cooldown":        t.Cooldown,
	} {
		if d < 0 {
			return fmt.Errorf("transport.%s must not be negative, got %s", name, d)
		}
	}
	if t.ConnectTimeout == 0 {
		return fmt.Errorf("transport.connect_timeout must be positive")
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing tracing.Config) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	// Path requirements only matter when tracing is on.
	if tracing.Enabled {
		if tracing.Exporter == "file" && tracing.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# diagwire configuration

# Console process: where it listens and what it shows
console:
  host: 127.0.0.1
  port: 9020
  keep_alive: false   # accept the next producer after one disconnects
  min_level: debug    # debug, info, warning, error, critical

# Producer connection to the console
transport:
  connect_timeout: 500ms
  retry_timeout: 2s     # dial timeout after spawning a console
  spawn_grace: 750ms    # wait for a spawned console to start listening
  write_timeout: 2s
  # cooldown: 5s        # skip reconnect attempts for this long after a failure
  # spawn_command: "diagwire console --keep-alive"
  # spawn_output: inherit  # where a spawned console prints: inherit, discard or a file path

# Keyword routing. The first keyword found in an entry heading picks its
# category: ApiCall, ToolExecution, AgentWorkflow, SubsystemEvent,
# ErrorTraceback or Other.
router:
  # overrides:
  #   qdrant: SubsystemEvent
  #   planner: AgentWorkflow
  #
  # YAML rule file, reloaded by a running console when it changes:
  #   rules:
  #     - keyword: neo4j
  #       category: SubsystemEvent
  # overrides_file: ~/.config/diagwire/routes.yaml

render:
  width: 100
  no_color: false
  markdown: false     # render debug message bodies as markdown

# Distributed tracing for the transport and the console dispatcher
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/diagwire/traces/traces.jsonl
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)

# Feature flags
flags:
  console-autospawn: true   # start a console when none is listening
  status-dedupe: true       # drop repeated status notifications
  markdown-bodies: false
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
