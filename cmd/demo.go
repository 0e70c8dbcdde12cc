package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/diagwire/internal/app"
	"github.com/zjrosen/diagwire/internal/eventbus"
	"github.com/zjrosen/diagwire/internal/exit"
	"github.com/zjrosen/diagwire/internal/log"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a simulated agent workflow through the pipeline",
	Long: `Run a simulated retrieval-augmented agent workflow. It changes observed
variables, reports tool and API calls, a slow operation and a failure, then
shuts down once both the workflow and the command have issued exit tickets.

Example:
  diagwire demo                 # start or reuse a console and stream to it
  diagwire demo --steps 5 --delay 100ms`,
	RunE: runDemo,
}

type demoOptions struct {
	steps int
	delay time.Duration
	seed  uint64
}

var demoOpts demoOptions

func init() {
	rootCmd.AddCommand(demoCmd)

	demoCmd.Flags().IntVar(&demoOpts.steps, "steps", 3, "number of retrieval steps")
	demoCmd.Flags().DurationVar(&demoOpts.delay, "delay", 250*time.Millisecond, "pause between steps")
	demoCmd.Flags().Uint64Var(&demoOpts.seed, "seed", 0, "random seed for simulated timings (0 = random)")
}

func runDemo(_ *cobra.Command, _ []string) error {
	cleanup, err := initLogging("diagwire-demo")
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := app.New(cfg, app.WithExitTrigger(func(tickets []exit.Ticket) {
		log.Info(log.CatExit, "demo exiting", "tickets", len(tickets))
	}))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.SafeGo("demo.workflow", func() {
		if err := runWorkflow(ctx, a, demoOpts); err != nil && !errors.Is(err, context.Canceled) {
			a.Diag.SendError(ctx, err, "demo workflow", nil)
		}
		a.Exit.IssueTicket("workflow")
	})
	a.Exit.IssueTicket("command")

	select {
	case <-a.Exit.Done():
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\ninterrupted, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// runWorkflow drives a fake retrieve-then-answer loop through the bus and
// the diag client.
func runWorkflow(ctx context.Context, a *app.App, opts demoOptions) error {
	seed := opts.seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1))
	jitter := func(base time.Duration) time.Duration {
		return base + time.Duration(rng.Int64N(int64(base)+1))
	}

	phase := eventbus.NewObservable(a.Bus, "workflow", "phase", "idle")
	retrieved := eventbus.NewObservable(a.Bus, "rag", "chunks", 0)

	pause := func() error {
		select {
		case <-time.After(opts.delay):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if _, err := phase.Set(ctx, "planning"); err != nil {
		return err
	}
	a.Diag.SendDiagnostic(ctx, "agent plan", "1. search the knowledge graph\n2. retrieve chunks\n3. answer", "info",
		map[string]any{"session": a.SessionID, "steps": opts.steps})
	a.Diag.SendAPICall(ctx, "llm", "plan", "200", jitter(400*time.Millisecond), map[string]any{"tokens": 812})
	if err := pause(); err != nil {
		return err
	}

	if _, err := phase.Set(ctx, "retrieving"); err != nil {
		return err
	}
	total := 0
	for i := 1; i <= opts.steps; i++ {
		hits := rng.IntN(6)
		total += hits
		a.Diag.SendToolResponse(ctx, "vector_search", "success", fmt.Sprintf("step %d: %d hits", i, hits),
			jitter(120*time.Millisecond), map[string]any{"step": i})
		if _, err := retrieved.Set(ctx, total); err != nil {
			return err
		}
		if err := pause(); err != nil {
			return err
		}
	}

	err := a.Diag.Timed(ctx, "graph expansion", 50*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-time.After(jitter(60 * time.Millisecond)):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return err
	}

	if err := a.Bus.Publish(ctx, eventbus.ErrorOccurred, "neo4j", map[string]any{
		eventbus.MetaError:    "connection reset by peer",
		eventbus.MetaErrorTyp: "ServiceUnavailable",
		"retry":               1,
	}); err != nil {
		return err
	}
	a.Diag.SendErrorLog(ctx, "ServiceUnavailable", "graph query failed, answering from vector hits only", "graph expansion",
		"Traceback (most recent call last):\n  File \"graph.py\", line 42, in expand\n    session.run(query)\nServiceUnavailable: connection reset by peer", nil)

	if _, err := phase.Set(ctx, "answering"); err != nil {
		return err
	}
	a.Diag.SendAPICall(ctx, "llm", "answer", "200", jitter(900*time.Millisecond), map[string]any{"tokens": 1570})
	a.Diag.SendPanel(ctx, "Workflow summary", fmt.Sprintf("steps: %d\nchunks retrieved: %d\ngraph: degraded", opts.steps, total))

	_, err = phase.Set(ctx, "done")
	return err
}
