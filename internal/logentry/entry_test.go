package logentry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/diagwire/internal/envelope"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"warn", LevelWarning, true},
		{" Warning ", LevelWarning, true},
		{"error", LevelError, true},
		{"fatal", LevelCritical, true},
		{"", LevelInfo, false},
		{"loud", LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		require.Equal(t, tt.want, got, tt.in)
		require.Equal(t, tt.ok, ok, tt.in)
	}
	require.Less(t, LevelWarning, LevelError)
	require.Equal(t, "CRITICAL", LevelCritical.String())
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("apicall")
	require.NoError(t, err)
	require.Equal(t, CategoryAPICall, c)

	_, err = ParseCategory("nope")
	require.Error(t, err)
}

func TestFromEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		env     envelope.Envelope
		level   Level
		heading string
		message string
	}{
		{"debug", envelope.NewDebugMessage("Router: picked", "planner", "debug", map[string]any{"k": "v"}), LevelDebug, "Router: picked", "planner"},
		{"error", envelope.NewErrorLog("KeyError", "missing", "", "", nil), LevelError, "error: KeyError", "missing"},
		{"perf", envelope.NewPerformanceWarning("embed", 2*time.Second, time.Second, "", nil), LevelWarning, "performance: embed", "[SLOW] embed took 2.000s (threshold 1.000s)"},
		{"tool ok", envelope.NewToolResponse("search", "ok", "3 hits", time.Second, nil), LevelInfo, "tool: search", "[TOOL] search ok in 1.000s: 3 hits"},
		{"tool failed", envelope.NewToolResponse("search", "failed", "", time.Second, nil), LevelWarning, "tool: search", "[TOOL] search failed in 1.000s: "},
		{"api 500", envelope.NewAPICall("openai", "chat", "500", time.Second, nil), LevelWarning, "api: openai", "[API] openai chat 500 in 1.000s"},
		{"plain", envelope.NewPlainText("agent workflow started"), LevelInfo, "", "agent workflow started"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := FromEnvelope(tt.env)
			require.Equal(t, CategoryOther, entry.Category)
			require.Equal(t, tt.level, entry.Level)
			require.Equal(t, tt.message, entry.Message)
			h, ok := entry.Heading()
			require.Equal(t, tt.heading != "", ok)
			require.Equal(t, tt.heading, h)
			require.Equal(t, tt.env, entry.Envelope)
		})
	}
}

func TestFromEnvelope_DoesNotShareMetadata(t *testing.T) {
	meta := map[string]any{"k": "v"}
	entry := FromEnvelope(envelope.NewDebugMessage("h", "b", "info", meta))
	entry.Metadata["k"] = "changed"
	require.Equal(t, "v", meta["k"])
}

func TestFromEnvelope_ExplicitHeadingWins(t *testing.T) {
	entry := FromEnvelope(envelope.NewToolResponse("search", "ok", "", 0, map[string]any{"heading": "rag lookup"}))
	h, _ := entry.Heading()
	require.Equal(t, "rag lookup", h)
}

func TestFromEnvelope_RawPayload(t *testing.T) {
	env := envelope.Envelope{
		ObjectKind: envelope.ObjectText,
		DataKind:   "Telemetry",
		Timestamp:  "bad",
		Payload:    envelope.Raw{Declared: "Telemetry", Value: map[string]any{"heading": "graph write", "level": "error"}},
	}
	entry := FromEnvelope(env)
	require.Equal(t, LevelError, entry.Level)
	h, _ := entry.Heading()
	require.Equal(t, "graph write", h)
	require.False(t, entry.Timestamp.IsZero())
}
