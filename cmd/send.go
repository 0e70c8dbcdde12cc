package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/diagwire/internal/app"
	"github.com/zjrosen/diagwire/internal/diag"
	"github.com/zjrosen/diagwire/internal/flags"
)

var sendCmd = &cobra.Command{
	Use:   "send [flags] <text...>",
	Short: "Send one diagnostic to the console",
	Long: `Send a single diagnostic envelope to the console, starting one when the
console-autospawn flag is on. When no console can be reached the entry is
printed locally instead.

Kinds:
  text    plain text (default)
  debug   debug message; text is the body, --heading the heading
  error   error log; --heading is the error type, text the message
  tool    tool response; --heading is the tool name, text the summary
  api     API call; --heading is "api" or "api.operation"
  perf    performance warning; --heading is the operation
  panel   bordered panel; --heading is the title

Example:
  diagwire send "indexing finished"
  diagwire send -k debug -H retrieval -l warning "2 of 5 chunks empty"
  diagwire send -k tool -H web_search -s success -e 1.2s "7 results"
  diagwire send -k api -H openai.chat -s 429 -e 300ms --meta model=gpt-4o`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

type sendOptions struct {
	kind      string
	heading   string
	level     string
	status    string
	elapsed   time.Duration
	threshold time.Duration
	meta      map[string]string
	noSpawn   bool
}

var sendOpts sendOptions

func init() {
	rootCmd.AddCommand(sendCmd)

	f := sendCmd.Flags()
	f.StringVarP(&sendOpts.kind, "kind", "k", "text", "text, debug, error, tool, api, perf or panel")
	f.StringVarP(&sendOpts.heading, "heading", "H", "", "heading, error type, tool or api name, operation or panel title")
	f.StringVarP(&sendOpts.level, "level", "l", "info", "level for debug messages")
	f.StringVarP(&sendOpts.status, "status", "s", "success", "status for tool and api kinds")
	f.DurationVarP(&sendOpts.elapsed, "elapsed", "e", 0, "elapsed time for tool, api and perf kinds")
	f.DurationVar(&sendOpts.threshold, "threshold", time.Second, "threshold for the perf kind")
	f.StringToStringVar(&sendOpts.meta, "meta", nil, "metadata key=value pairs")
	f.BoolVar(&sendOpts.noSpawn, "no-spawn", false, "do not start a console when none is listening")
}

func runSend(_ *cobra.Command, args []string) error {
	cleanup, err := initLogging("diagwire-send")
	if err != nil {
		return err
	}
	defer cleanup()

	c := cfg
	if sendOpts.noSpawn {
		c.Flags = withFlag(c.Flags, flags.FlagConsoleAutospawn, false)
	}
	a, err := app.New(c)
	if err != nil {
		return err
	}

	ctx := context.Background()
	delivered, sendErr := sendOne(ctx, a.Diag, sendOpts, strings.Join(args, " "))

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "diagwire: %v\n", err)
	}
	if sendErr != nil {
		return sendErr
	}
	if !delivered {
		fmt.Fprintln(os.Stderr, "diagwire: console unreachable, printed locally")
	}
	return nil
}

// sendOne ships text as the envelope kind selected by opts.
func sendOne(ctx context.Context, client *diag.Client, opts sendOptions, text string) (bool, error) {
	meta := metadata(opts.meta)
	switch strings.ToLower(opts.kind) {
	case "text", "":
		return client.SendPlainText(ctx, text), nil
	case "debug":
		heading := opts.heading
		if heading == "" {
			heading = "diagnostic"
		}
		return client.SendDiagnostic(ctx, heading, text, opts.level, meta), nil
	case "error":
		errType := opts.heading
		if errType == "" {
			errType = "Error"
		}
		return client.SendErrorLog(ctx, errType, text, "", "", meta), nil
	case "tool":
		if opts.heading == "" {
			return false, fmt.Errorf("--heading (tool name) is required for kind tool")
		}
		return client.SendToolResponse(ctx, opts.heading, opts.status, text, opts.elapsed, meta), nil
	case "api":
		if opts.heading == "" {
			return false, fmt.Errorf("--heading (api name) is required for kind api")
		}
		name, op, _ := strings.Cut(opts.heading, ".")
		return client.SendAPICall(ctx, name, op, opts.status, opts.elapsed, meta), nil
	case "perf":
		if opts.heading == "" {
			return false, fmt.Errorf("--heading (operation) is required for kind perf")
		}
		return client.SendPerformanceWarning(ctx, opts.heading, opts.elapsed, opts.threshold, text, meta), nil
	case "panel":
		return client.SendPanel(ctx, opts.heading, text), nil
	default:
		return false, fmt.Errorf("unknown kind %q (want text, debug, error, tool, api, perf or panel)", opts.kind)
	}
}

func metadata(pairs map[string]string) map[string]any {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]any, len(pairs))
	for k, v := range pairs {
		out[k] = v
	}
	return out
}

// withFlag returns a copy of m with name set to value.
func withFlag(m map[string]bool, name string, value bool) map[string]bool {
	out := make(map[string]bool, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[name] = value
	return out
}
