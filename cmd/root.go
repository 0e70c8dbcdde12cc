package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/diagwire/internal/config"
	"github.com/zjrosen/diagwire/internal/log"
)

func init() {
	// Query the terminal background once, before any output is written,
	// so the adaptive colors are settled up front.
	_ = lipgloss.HasDarkBackground()
}

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "diagwire",
	Short: "Structured diagnostics pipeline with a live console",
	Long: `diagwire ships structured diagnostics from an application to a separate
console process over a local TCP connection. The console routes each entry
by keyword into a category and renders it in the terminal.

Run "diagwire console" in one terminal and point producers at it, or let the
first producer start a console automatically.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .diagwire/config.yaml, then ~/.config/diagwire/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (path from DIAGWIRE_LOG, default debug.log)")
}

// setDefaults registers every key so environment overrides and Unmarshal
// see them even without a config file.
func setDefaults(v *viper.Viper, d config.Config) {
	v.SetDefault("console.host", d.Console.Host)
	v.SetDefault("console.port", d.Console.Port)
	v.SetDefault("console.keep_alive", d.Console.KeepAlive)
	v.SetDefault("console.min_level", d.Console.MinLevel)
	v.SetDefault("transport.connect_timeout", d.Transport.ConnectTimeout)
	v.SetDefault("transport.retry_timeout", d.Transport.RetryTimeout)
	v.SetDefault("transport.spawn_grace", d.Transport.SpawnGrace)
	v.SetDefault("transport.write_timeout", d.Transport.WriteTimeout)
	v.SetDefault("transport.cooldown", d.Transport.Cooldown)
	v.SetDefault("transport.spawn_command", d.Transport.SpawnCommand)
	v.SetDefault("transport.spawn_output", d.Transport.SpawnOutput)
	v.SetDefault("router.overrides_file", d.Router.OverridesFile)
	v.SetDefault("render.width", d.Render.Width)
	v.SetDefault("render.no_color", d.Render.NoColor)
	v.SetDefault("render.markdown", d.Render.Markdown)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("flags", d.Flags)
}

func initConfig() {
	setDefaults(viper.GetViper(), config.Defaults())
	viper.SetEnvPrefix("DIAGWIRE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	userConfig := filepath.Join(home, ".config", "diagwire", "config.yaml")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .diagwire/config.yaml (current directory)
		// 2. ~/.config/diagwire/config.yaml (user config)
		if _, err := os.Stat(".diagwire/config.yaml"); err == nil {
			viper.SetConfigFile(".diagwire/config.yaml")
		} else {
			viper.AddConfigPath(filepath.Dir(userConfig))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && home != "" {
			if writeErr := config.WriteDefaultConfig(userConfig); writeErr == nil {
				viper.SetConfigFile(userConfig)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	cfg = config.Defaults()
	if err := viper.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "diagwire: reading config: %v\n", err)
	}
	cfg.Router.OverridesFile = config.ExpandHome(cfg.Router.OverridesFile)
}

// initLogging enables file logging when --debug or DIAGWIRE_DEBUG is set.
// The returned cleanup is always safe to call.
func initLogging(prefix string) (func(), error) {
	if os.Getenv("DIAGWIRE_DEBUG") == "" && !debugFlag {
		return func() {}, nil
	}
	logPath := os.Getenv("DIAGWIRE_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}
	cleanup, err := log.InitWithTeaLog(logPath, prefix)
	if err != nil {
		return func() {}, fmt.Errorf("initializing logging: %w", err)
	}
	log.Info(log.CatConfig, "diagwire starting", "command", prefix, "version", version,
		"config", viper.ConfigFileUsed(), "logPath", logPath)
	return cleanup, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
