package console

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/diagwire/internal/envelope"
	"github.com/zjrosen/diagwire/internal/handler"
	"github.com/zjrosen/diagwire/internal/logentry"
	"github.com/zjrosen/diagwire/internal/render"
	"github.com/zjrosen/diagwire/internal/router"
)

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

func testConfig() Config {
	return Config{
		Addr:     "127.0.0.1:0",
		MinLevel: logentry.LevelDebug,
		Render:   render.Options{Width: 80, NoColor: true},
	}
}

func newServer(t *testing.T, cfg Config, opts ...Option) (*Server, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	s, err := New(cfg, append([]Option{WithOutput(out)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, s.Listen())
	return s, out
}

func serve(ctx context.Context, s *Server) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	return done
}

func send(t *testing.T, addr net.Addr, chunks ...[]byte) {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	for _, c := range chunks {
		_, err := conn.Write(c)
		require.NoError(t, err)
	}
	require.NoError(t, conn.Close())
}

func encode(t *testing.T, env envelope.Envelope) []byte {
	t.Helper()
	data, err := envelope.Encode(env)
	require.NoError(t, err)
	return data
}

func wait(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.Fail(t, "Serve did not return")
	}
}

func TestServe_DispatchesOneProducerThenReturns(t *testing.T) {
	s, out := newServer(t, testConfig())
	done := serve(context.Background(), s)

	debug := encode(t, envelope.NewDebugMessage("neo4j query", "MATCH (n) RETURN n", "info", nil))
	tool := encode(t, envelope.NewToolResponse("search", "success", "5 hits", 420*time.Millisecond, nil))
	// Split the second frame across writes and add garbage between frames.
	send(t, s.Addr(), debug, []byte("garbage "), tool[:10], tool[10:])
	wait(t, done)

	text := out.String()
	require.Contains(t, text, "[SubsystemEvent]")
	require.Contains(t, text, "MATCH (n) RETURN n")
	require.Contains(t, text, "[ToolExecution]")
	require.Contains(t, text, "⚠ unparsable message")
	require.Contains(t, text, "garbage")

	require.Equal(t, 2, s.Tally().Total())
	stats := s.Stats()
	require.Equal(t, uint64(2), stats.Decoded)
	require.Equal(t, uint64(1), stats.Unparsable)
}

func TestServe_MinLevelFiltersDisplayNotTally(t *testing.T) {
	cfg := testConfig()
	cfg.MinLevel = logentry.LevelWarning
	s, out := newServer(t, cfg)
	done := serve(context.Background(), s)

	send(t, s.Addr(),
		encode(t, envelope.NewDebugMessage("quiet", "hidden body", "debug", nil)),
		encode(t, envelope.NewErrorLog("KeyError", "missing id", "", "", nil)))
	wait(t, done)

	require.NotContains(t, out.String(), "hidden body")
	require.Contains(t, out.String(), "KeyError: missing id")
	require.Equal(t, 2, s.Tally().Total())
	require.Equal(t, 1, s.Tally().Level(logentry.LevelError))
}

func TestServe_KeepAliveAcceptsNextProducer(t *testing.T) {
	cfg := testConfig()
	cfg.KeepAlive = true
	s, out := newServer(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := serve(ctx, s)

	send(t, s.Addr(), encode(t, envelope.NewPlainText("first producer")))
	send(t, s.Addr(), encode(t, envelope.NewPlainText("second producer")))

	require.Eventually(t, func() bool { return s.Tally().Total() == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	wait(t, done)

	require.Contains(t, out.String(), "first producer")
	require.Contains(t, out.String(), "second producer")
}

func TestServe_CancelDropsActiveProducer(t *testing.T) {
	s, _ := newServer(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := serve(ctx, s)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(`{"objectKind":"text"`))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	cancel()
	wait(t, done)
}

func TestServe_BeforeListen(t *testing.T) {
	s, err := New(testConfig(), WithOutput(&syncBuffer{}))
	require.NoError(t, err)
	require.Nil(t, s.Addr())
	require.Error(t, s.Serve(context.Background()))
}

func TestNew_ExtraHandlers(t *testing.T) {
	var mu sync.Mutex
	var seen []logentry.Category
	h := handler.Func("collect", nil, func(e logentry.Entry) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Category)
	})
	s, _ := newServer(t, testConfig(), WithHandlers(h))
	require.Equal(t, []string{handler.DisplayName, handler.TallyName, "collect"}, s.Registry().List())

	done := serve(context.Background(), s)
	send(t, s.Addr(), encode(t, envelope.NewAPICall("openai", "chat", "200", time.Second, nil)))
	wait(t, done)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []logentry.Category{logentry.CategoryAPICall}, seen)

	_, err := New(testConfig(), WithHandlers(handler.NewTally()))
	require.ErrorIs(t, err, handler.ErrDuplicateHandler)
}

func TestReloadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - keyword: qdrant\n    category: ApiCall\n"), 0o644))

	cfg := testConfig()
	cfg.Overrides = []router.Rule{{Keyword: "planner", Category: logentry.CategoryAgentWorkflow}}
	cfg.OverridesFile = path
	s, err := New(cfg, WithOutput(&syncBuffer{}))
	require.NoError(t, err)

	rules := s.Router().Rules()
	require.Contains(t, rules, router.Rule{Keyword: "qdrant", Category: logentry.CategoryAPICall})
	require.Contains(t, rules, router.Rule{Keyword: "planner", Category: logentry.CategoryAgentWorkflow})

	require.NoError(t, os.WriteFile(path, []byte("rules: [{keyword: qdrant, category: Bogus}]\n"), 0o644))
	require.Error(t, s.ReloadOverrides())
	require.Contains(t, s.Router().Rules(), router.Rule{Keyword: "qdrant", Category: logentry.CategoryAPICall},
		"previous table kept on a bad file")
}

func TestRun_HotReloadsOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	cfg := testConfig()
	cfg.KeepAlive = true
	cfg.OverridesFile = path

	out := &syncBuffer{}
	s, err := New(cfg, WithOutput(out))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return s.Addr() != nil }, 2*time.Second, 10*time.Millisecond)

	want := router.Rule{Keyword: "milvus", Category: logentry.CategorySubsystemEvent}
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - keyword: milvus\n    category: SubsystemEvent\n"), 0o644))
	require.Eventually(t, func() bool {
		return slices.Contains(s.Router().Rules(), want)
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.Fail(t, "Run did not return")
	}
	require.Contains(t, out.String(), "diagwire console")
	require.Contains(t, out.String(), "Session summary")
	require.Contains(t, out.String(), "0 entries")
}
