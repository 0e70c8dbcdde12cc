package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		kind DataKind
		text string
	}{
		{"plain", NewPlainText("hello"), KindPlainText, "hello"},
		{"debug", NewDebugMessage("router", "picked planner", "debug", nil), KindDebugMessage, "[DEBUG] router: picked planner"},
		{"debug no body", NewDebugMessage("boot", "", "", nil), KindDebugMessage, "[INFO] boot"},
		{"error", NewErrorLog("KeyError", "missing id", "load", "", nil), KindErrorLog, "[ERROR] KeyError: missing id"},
		{"perf", NewPerformanceWarning("embed", 2500*time.Millisecond, time.Second, "", nil), KindPerformanceWarning, "[SLOW] embed took 2.500s (threshold 1.000s)"},
		{"tool", NewToolResponse("search", "ok", "3 hits", 500*time.Millisecond, nil), KindToolResponse, "[TOOL] search ok in 0.500s: 3 hits"},
		{"api", NewAPICall("openai", "chat", "200", 1250*time.Millisecond, nil), KindAPICall, "[API] openai chat 200 in 1.250s"},
		{"panel", NewRenderedPanel("[box]"), KindRenderedPanel, "[box]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.kind, tt.env.DataKind)
			require.Equal(t, tt.text, tt.env.Text())
			require.False(t, tt.env.Time().IsZero())
		})
	}
}

func TestDataKind_Known(t *testing.T) {
	require.True(t, KindAPICall.Known())
	require.False(t, DataKind("Telemetry").Known())
}
