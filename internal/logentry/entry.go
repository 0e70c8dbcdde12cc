// Package logentry holds the routed log record the console hands to its
// handlers, and the adapter that builds one from a decoded envelope.
package logentry

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/zjrosen/diagwire/internal/envelope"
)

// Category is the routing class assigned by the router.
type Category string

const (
	CategoryAPICall        Category = "ApiCall"
	CategoryToolExecution  Category = "ToolExecution"
	CategoryAgentWorkflow  Category = "AgentWorkflow"
	CategorySubsystemEvent Category = "SubsystemEvent"
	CategoryErrorTraceback Category = "ErrorTraceback"
	CategoryOther          Category = "Other"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryAPICall,
	CategoryToolExecution,
	CategoryAgentWorkflow,
	CategorySubsystemEvent,
	CategoryErrorTraceback,
	CategoryOther,
}

// ParseCategory maps a case-insensitive name to a Category.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Level is an entry severity. Levels are ordered.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel accepts the usual spellings ("warn", "WARNING", "fatal", ...).
// Unrecognized or empty input yields LevelInfo and ok=false.
func ParseLevel(s string) (level Level, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug, true
	case "info", "information":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarning, true
	case "error", "err":
		return LevelError, true
	case "critical", "fatal", "crit":
		return LevelCritical, true
	default:
		return LevelInfo, false
	}
}

// MetaHeading is the metadata key the router reads first.
const MetaHeading = "heading"

// Entry is one routed record. The router sets Category once; handlers
// treat the entry as read-only.
type Entry struct {
	Category  Category
	Level     Level
	Timestamp time.Time
	Message   string
	Metadata  map[string]any
	Envelope  envelope.Envelope
}

// Heading returns metadata["heading"] when it is a non-empty string.
func (e *Entry) Heading() (string, bool) {
	h, ok := e.Metadata[MetaHeading].(string)
	return h, ok && h != ""
}

// FromEnvelope adapts a decoded envelope. The entry starts in
// CategoryOther; its metadata is a copy of the payload metadata plus a
// kind-specific heading.
func FromEnvelope(env envelope.Envelope) *Entry {
	entry := &Entry{
		Category:  CategoryOther,
		Level:     LevelInfo,
		Timestamp: env.Time(),
		Message:   env.Text(),
		Envelope:  env,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	var heading string
	var metadata map[string]any

	switch p := env.Payload.(type) {
	case envelope.PlainText:
		entry.Message = string(p)
	case envelope.DebugMessage:
		entry.Level, _ = ParseLevel(p.Level)
		entry.Message = p.Body
		heading = p.Heading
		metadata = p.Metadata
	case envelope.ErrorLog:
		entry.Level = LevelError
		entry.Message = p.ErrorMessage
		heading = "error: " + p.ErrorType
		metadata = p.Metadata
	case envelope.PerformanceWarning:
		entry.Level = LevelWarning
		heading = "performance: " + p.Operation
		metadata = p.Metadata
	case envelope.ToolResponse:
		heading = "tool: " + p.ToolName
		metadata = p.Metadata
		if isFailure(p.Status) {
			entry.Level = LevelWarning
		}
	case envelope.APICall:
		heading = "api: " + p.APIName
		metadata = p.Metadata
		if isFailure(p.Status) {
			entry.Level = LevelWarning
		}
	case envelope.RenderedPanel:
		entry.Message = p.EncodedBlob
	case envelope.Raw:
		if m, ok := p.Value.(map[string]any); ok {
			if h, ok := m[MetaHeading].(string); ok {
				heading = h
			}
			if lv, ok := m["level"].(string); ok {
				entry.Level, _ = ParseLevel(lv)
			}
		}
	}

	entry.Metadata = make(map[string]any, len(metadata)+1)
	maps.Copy(entry.Metadata, metadata)
	if heading != "" {
		if _, set := entry.Metadata[MetaHeading]; !set {
			entry.Metadata[MetaHeading] = heading
		}
	}
	return entry
}

func isFailure(status string) bool {
	s := strings.ToLower(status)
	if strings.HasPrefix(s, "4") || strings.HasPrefix(s, "5") {
		return true
	}
	return strings.Contains(s, "fail") || strings.Contains(s, "error") || strings.Contains(s, "timeout")
}
