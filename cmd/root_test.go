package cmd

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/diagwire/internal/app"
	"github.com/zjrosen/diagwire/internal/config"
	"github.com/zjrosen/diagwire/internal/diag"
	"github.com/zjrosen/diagwire/internal/envelope"
	"github.com/zjrosen/diagwire/internal/flags"
	"github.com/zjrosen/diagwire/internal/logentry"
	"github.com/zjrosen/diagwire/internal/router"
)

type recordingSender struct {
	mu   sync.Mutex
	envs []envelope.Envelope
}

func (s *recordingSender) Send(_ context.Context, env envelope.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
	return true
}

type refusingDialer struct{}

func (refusingDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	return nil, errors.New("connection refused")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	require.Subset(t, names, []string{"console", "send", "demo", "routes"})
}

func TestSetDefaults_RoundTrip(t *testing.T) {
	v := viper.New()
	setDefaults(v, config.Defaults())

	var got config.Config
	require.NoError(t, v.Unmarshal(&got))
	want := config.Defaults()
	require.Equal(t, want.Console, got.Console)
	require.Equal(t, want.Transport, got.Transport)
	require.Equal(t, want.Render, got.Render)
	require.Equal(t, want.Tracing, got.Tracing)
	require.Equal(t, want.Flags, got.Flags)
}

func TestApplyAddr(t *testing.T) {
	c := config.Defaults()
	require.NoError(t, applyAddr(&c, ""))
	require.Equal(t, config.DefaultPort, c.Console.Port)

	require.NoError(t, applyAddr(&c, "0.0.0.0:9555"))
	require.Equal(t, "0.0.0.0", c.Console.Host)
	require.Equal(t, 9555, c.Console.Port)

	require.NoError(t, applyAddr(&c, ":7000"))
	require.Equal(t, "0.0.0.0", c.Console.Host, "empty host keeps the configured one")
	require.Equal(t, 7000, c.Console.Port)

	require.Error(t, applyAddr(&c, "no-port"))
	require.Error(t, applyAddr(&c, "host:http"))
}

func TestConsoleConfig(t *testing.T) {
	c := config.Defaults()
	c.Console.MinLevel = "warning"
	c.Console.KeepAlive = true
	c.Router.Overrides = map[string]string{"qdrant": "SubsystemEvent"}
	c.Flags = map[string]bool{flags.FlagMarkdownBodies: true}

	sc, err := consoleConfig(c)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9020", sc.Addr)
	require.True(t, sc.KeepAlive)
	require.Equal(t, logentry.LevelWarning, sc.MinLevel)
	require.Equal(t, []router.Rule{{Keyword: "qdrant", Category: logentry.CategorySubsystemEvent}}, sc.Overrides)
	require.True(t, sc.Render.Markdown)

	c.Router.Overrides = map[string]string{"x": "Nope"}
	_, err = consoleConfig(c)
	require.Error(t, err)
}

func TestSendOne_Kinds(t *testing.T) {
	sender := &recordingSender{}
	client := diag.NewClient(sender, nil)
	ctx := context.Background()

	tests := []struct {
		opts sendOptions
		kind envelope.DataKind
	}{
		{sendOptions{kind: "text"}, envelope.KindPlainText},
		{sendOptions{kind: "debug", heading: "retrieval", level: "warning"}, envelope.KindDebugMessage},
		{sendOptions{kind: "error", heading: "KeyError"}, envelope.KindErrorLog},
		{sendOptions{kind: "tool", heading: "search", status: "success", elapsed: time.Second}, envelope.KindToolResponse},
		{sendOptions{kind: "api", heading: "openai.chat", status: "200"}, envelope.KindAPICall},
		{sendOptions{kind: "perf", heading: "embed", elapsed: 2 * time.Second, threshold: time.Second}, envelope.KindPerformanceWarning},
		{sendOptions{kind: "panel", heading: "Summary"}, envelope.KindRenderedPanel},
	}
	for _, tt := range tests {
		ok, err := sendOne(ctx, client, tt.opts, "body text")
		require.NoError(t, err, tt.opts.kind)
		require.True(t, ok)
	}

	require.Len(t, sender.envs, len(tests))
	for i, tt := range tests {
		require.Equal(t, tt.kind, sender.envs[i].DataKind, tt.opts.kind)
	}

	api := sender.envs[4].Payload.(envelope.APICall)
	require.Equal(t, "openai", api.APIName)
	require.Equal(t, "chat", api.Operation)
	require.Equal(t, "WARNING", sender.envs[1].Payload.(envelope.DebugMessage).Level)
}

func TestSendOne_Errors(t *testing.T) {
	client := diag.NewClient(&recordingSender{}, nil)
	ctx := context.Background()

	_, err := sendOne(ctx, client, sendOptions{kind: "tool"}, "x")
	require.ErrorContains(t, err, "--heading")
	_, err = sendOne(ctx, client, sendOptions{kind: "bogus"}, "x")
	require.ErrorContains(t, err, "unknown kind")
}

func TestSendOne_Metadata(t *testing.T) {
	sender := &recordingSender{}
	client := diag.NewClient(sender, nil)
	_, err := sendOne(context.Background(), client,
		sendOptions{kind: "debug", heading: "h", meta: map[string]string{"model": "gpt-4o"}}, "x")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"model": "gpt-4o"}, sender.envs[0].Payload.(envelope.DebugMessage).Metadata)
}

func TestWithFlag_Copies(t *testing.T) {
	orig := map[string]bool{flags.FlagConsoleAutospawn: true}
	got := withFlag(orig, flags.FlagConsoleAutospawn, false)
	require.False(t, got[flags.FlagConsoleAutospawn])
	require.True(t, orig[flags.FlagConsoleAutospawn])
}

func TestEffectiveRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	c := config.Defaults()
	c.Router.Overrides = map[string]string{"planner": "AgentWorkflow"}

	rules, err := effectiveRules(c, path)
	require.NoError(t, err, "missing file is not an error")
	require.Contains(t, rules, router.Rule{Keyword: "planner", Category: logentry.CategoryAgentWorkflow})

	require.NoError(t, config.SaveRouteOverride(path, router.Rule{Keyword: "planner", Category: logentry.CategoryOther}))
	rules, err = effectiveRules(c, path)
	require.NoError(t, err)
	require.Contains(t, rules, router.Rule{Keyword: "planner", Category: logentry.CategoryOther}, "file wins over config")

	require.NoError(t, os.WriteFile(path, []byte("rules: [{keyword: x, category: Nope}]"), 0o644))
	_, err = effectiveRules(c, path)
	require.Error(t, err)
}

func TestRoutesCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	routesFile = path
	t.Cleanup(func() { routesFile = "" })

	var out bytes.Buffer
	routesAddCmd.SetOut(&out)
	routesListCmd.SetOut(&out)
	routesRemoveCmd.SetOut(&out)

	require.NoError(t, routesAddCmd.RunE(routesAddCmd, []string{"qdrant", "subsystemevent"}))
	require.Contains(t, out.String(), "qdrant → SubsystemEvent")

	out.Reset()
	require.NoError(t, routesListCmd.RunE(routesListCmd, nil))
	require.Contains(t, out.String(), "KEYWORD")
	require.Regexp(t, `qdrant\s+SubsystemEvent`, out.String())

	require.Error(t, routesAddCmd.RunE(routesAddCmd, []string{"x", "Bogus"}))

	out.Reset()
	require.NoError(t, routesRemoveCmd.RunE(routesRemoveCmd, []string{"QDRANT"}))
	require.Contains(t, out.String(), "removed QDRANT")
	require.Error(t, routesRemoveCmd.RunE(routesRemoveCmd, []string{"qdrant"}))
}

func TestRunWorkflow(t *testing.T) {
	c := config.Defaults()
	c.Render.NoColor = true
	c.Transport.ConnectTimeout = 10 * time.Millisecond
	c.Flags = map[string]bool{flags.FlagConsoleAutospawn: false}
	out := &syncBuffer{}

	a, err := app.New(c, app.WithOutput(out), app.WithDialer(refusingDialer{}))
	require.NoError(t, err)

	require.NoError(t, runWorkflow(context.Background(), a, demoOptions{steps: 2, seed: 7}))
	require.NoError(t, a.Shutdown(context.Background()))

	text := out.String()
	require.Contains(t, text, "workflow.phase:")
	require.Contains(t, text, "vector_search")
	require.Contains(t, text, "ServiceUnavailable")
	require.Contains(t, text, "Workflow summary")
	require.Contains(t, text, "graph expansion")
}

func TestRunWorkflow_Cancelled(t *testing.T) {
	c := config.Defaults()
	c.Flags = map[string]bool{flags.FlagConsoleAutospawn: false}
	a, err := app.New(c, app.WithOutput(&syncBuffer{}), app.WithDialer(refusingDialer{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = runWorkflow(ctx, a, demoOptions{steps: 2, delay: time.Hour, seed: 1})
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, a.Shutdown(context.Background()))
}
