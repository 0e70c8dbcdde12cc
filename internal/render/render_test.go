package render

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/diagwire/internal/envelope"
	"github.com/zjrosen/diagwire/internal/eventbus"
	"github.com/zjrosen/diagwire/internal/logentry"
)

func TestRender_PerKind(t *testing.T) {
	r := Plain(80)
	tests := []struct {
		name string
		env  envelope.Envelope
		want []string
	}{
		{"plain", envelope.NewPlainText("hello world"), []string{"hello world"}},
		{"debug", envelope.NewDebugMessage("Router", "picked planner", "warning", map[string]any{"agent": "planner", "score": 0.5}),
			[]string{"[WARNING] Router", "picked planner", "agent", "planner", "score", "0.5"}},
		{"error", envelope.NewErrorLog("KeyError", "missing id", "loading docs", "Traceback (most recent call last):\n  File \"a.py\", line 1", nil),
			[]string{"✖ KeyError: missing id", "context: loading docs", "Traceback (most recent call last):", "File \"a.py\", line 1"}},
		{"perf", envelope.NewPerformanceWarning("embed", 3*time.Second, 1500*time.Millisecond, "batch 2", nil),
			[]string{"⏱ embed took 3.000s (threshold 1.500s, 2.0×)", "batch 2"}},
		{"tool", envelope.NewToolResponse("search", "ok", "3 hits", 420*time.Millisecond, map[string]any{"hits": float64(3)}),
			[]string{"⚙ tool search · ok · 0.420s", "3 hits", "hits", "3"}},
		{"api", envelope.NewAPICall("openai", "chat", "200", 1250*time.Millisecond, nil),
			[]string{"⇄ api openai.chat · 200 · 1.250s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Render(tt.env)
			require.Equal(t, out, StripANSI(out), "no-color output has no escapes")
			for _, w := range tt.want {
				require.Contains(t, out, w)
			}
		})
	}
}

func TestRender_PanelVerbatim(t *testing.T) {
	blob := "\x1b[1m╭─ done ─╮\x1b[0m"
	require.Equal(t, blob, Plain(80).Render(envelope.NewRenderedPanel(blob)))
}

func TestRender_UnknownKind(t *testing.T) {
	env := envelope.Envelope{
		ObjectKind: envelope.ObjectText,
		DataKind:   "Telemetry",
		Payload:    envelope.Raw{Declared: "Telemetry", Value: map[string]any{"cpu": 0.9, "host": "a"}},
	}
	out := Plain(80).Render(env)
	require.Contains(t, out, UnknownKindMarker)
	require.Contains(t, out, `"Telemetry"`)
	require.Contains(t, out, "cpu")
	require.Contains(t, out, "host")

	scalar := envelope.Envelope{DataKind: "Count", Payload: envelope.Raw{Declared: "Count", Value: float64(7)}}
	out = Plain(80).Render(scalar)
	require.Contains(t, out, UnknownKindMarker)
	require.Contains(t, out, "7")

	require.Contains(t, Plain(80).Render(envelope.Envelope{DataKind: "Empty"}), UnknownKindMarker)
}

func TestRender_MetadataSortedAndHeadingHidden(t *testing.T) {
	out := Plain(80).Render(envelope.NewDebugMessage("h", "", "info", map[string]any{"zeta": 1.0, "alpha": "x", "heading": "hidden"}))
	require.Less(t, strings.Index(out, "alpha"), strings.Index(out, "zeta"))
	require.NotContains(t, out, "hidden")
}

func TestRender_WrapsAtWidth(t *testing.T) {
	out := Plain(20).Render(envelope.NewPlainText(strings.Repeat("word ", 20)))
	for _, line := range strings.Split(out, "\n") {
		require.LessOrEqual(t, lipgloss.Width(strings.TrimRight(line, " ")), 20)
	}
}

func TestRender_Markdown(t *testing.T) {
	r := New(nil, Options{Width: 60, NoColor: true, Markdown: true})
	out := StripANSI(r.Render(envelope.NewDebugMessage("notes", "# Title\n\n- one\n- two", "info", nil)))
	require.Contains(t, out, "Title")
	require.Contains(t, out, "one")
}

func TestRenderEntry(t *testing.T) {
	entry := logentry.FromEnvelope(envelope.NewToolResponse("search", "failed", "", time.Second, nil))
	entry.Category = logentry.CategoryToolExecution
	out := Plain(80).RenderEntry(entry)

	lines := strings.Split(out, "\n")
	require.Contains(t, lines[0], "WARNING")
	require.Contains(t, lines[0], "[ToolExecution]")
	require.Contains(t, lines[1], "⚙ tool search · failed")
}

func TestRenderUnparsable(t *testing.T) {
	out := Plain(80).RenderUnparsable([]byte("{\"objectKind\": \x1b[31mbroken"), errors.New("malformed JSON"))
	require.Contains(t, out, "unparsable message: malformed JSON")
	require.Contains(t, out, `{"objectKind": broken`)
	require.NotContains(t, out, "\x1b")

	long := Plain(80).RenderUnparsable([]byte(strings.Repeat("x", 5000)), nil)
	require.Less(t, len(long), 3000)
}

func TestRenderUnparsable_TruncatesOnRuneBoundary(t *testing.T) {
	for _, raw := range []string{
		strings.Repeat("é", 3000),
		"x" + strings.Repeat("日本", 1500),
		strings.Repeat("a", maxUnparsableWidth-1) + "€€€",
	} {
		out := Plain(80).RenderUnparsable([]byte(raw), nil)
		require.True(t, utf8.ValidString(out))
		require.Contains(t, out, "…")
	}

	out := Plain(80).RenderUnparsable([]byte("bad ÿþ bytes"), nil)
	require.True(t, utf8.ValidString(out))
	require.Contains(t, out, "bad \uFFFD bytes")
}

func TestPanel(t *testing.T) {
	out := Plain(30).Panel("Summary", "all steps finished without errors")
	lines := strings.Split(out, "\n")
	require.True(t, strings.HasPrefix(lines[0], "╭─ Summary "))
	require.True(t, strings.HasPrefix(lines[len(lines)-1], "╰"))
	for _, line := range lines {
		require.Equal(t, 30, lipgloss.Width(line), "line %q", line)
	}
	require.Contains(t, out, "all steps")
}

func TestStatusLine(t *testing.T) {
	r := Plain(80)
	ts := time.Date(2026, 1, 1, 10, 0, 0, 0, time.Local)

	out := r.StatusLine(eventbus.Event{
		Type: eventbus.VariableChanged, Source: "workflow", Timestamp: ts,
		Metadata: map[string]any{eventbus.MetaField: "phase", eventbus.MetaOld: "phase one", eventbus.MetaNew: "phase two"},
	})
	require.Contains(t, out, "10:00:00")
	require.Contains(t, out, "workflow.phase:")
	require.Contains(t, out, "phase ")
	require.Contains(t, out, "[-")
	require.Contains(t, out, "{+")

	out = r.StatusLine(eventbus.Event{
		Type: eventbus.VariableChanged, Source: "agent", Timestamp: ts,
		Metadata: map[string]any{eventbus.MetaField: "busy", eventbus.MetaOld: false, eventbus.MetaNew: true},
	})
	require.Contains(t, out, "agent.busy: false → true")

	out = r.StatusLine(eventbus.Event{Type: eventbus.StatusChanged, Source: "rag", Timestamp: ts, Metadata: map[string]any{eventbus.MetaStatus: "indexing"}})
	require.Contains(t, out, "rag indexing")

	out = r.StatusLine(eventbus.Event{Type: eventbus.ErrorOccurred, Source: "graph", Timestamp: ts,
		Metadata: map[string]any{eventbus.MetaError: "timeout", eventbus.MetaErrorTyp: "Neo4jError"}})
	require.Contains(t, out, "✖ graph Neo4jError: timeout")
}

func TestWordDiff_EmptySides(t *testing.T) {
	r := Plain(80)
	require.Equal(t, "{+new+}", r.wordDiff("", "new"))
	require.Equal(t, "[-old-]", r.wordDiff("old", ""))
	require.Equal(t, "same words", r.wordDiff("same words", "same words"))
}

func TestWordDiff_WholeWords(t *testing.T) {
	r := Plain(80)
	require.Equal(t, "phase [-one-]{+two+}", r.wordDiff("phase one", "phase two"))
	require.Equal(t, "[-idle-]{+retrieving+}", r.wordDiff("idle", "retrieving"))
	require.Equal(t, "loading {+all +}chunks", r.wordDiff("loading chunks", "loading all chunks"))
}

func TestTokenize(t *testing.T) {
	require.Equal(t, []string{"a", " ", "bc", "  ", "d"}, tokenize("a bc  d"))
	require.Nil(t, tokenize(""))
}

func TestRender_ColorProfileEmitsEscapes(t *testing.T) {
	r := New(nil, Options{Width: 80})
	r.lg.SetColorProfile(termenv.TrueColor)
	out := r.Render(envelope.NewErrorLog("E", "m", "", "", nil))
	require.Contains(t, StripANSI(out), "✖ E: m")
}
