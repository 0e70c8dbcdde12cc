// Package envelope defines the self-describing unit shipped from producers to
// the console process, and its JSON text codec.
//
// An encoded envelope is a single JSON object:
//
//	{"objectKind":"text","dataKind":"DebugMessage","timestamp":"...","data":{...}}
//
// There is no length prefix. The object's balanced braces are the frame
// boundary, recovered on the receiving side by package frame.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ObjectKind says whether the payload is readable text or an opaque,
// already rendered blob.
type ObjectKind string

const (
	ObjectText       ObjectKind = "text"
	ObjectOpaqueBlob ObjectKind = "opaque-blob"
)

// DataKind names the payload shape.
type DataKind string

const (
	KindPlainText          DataKind = "PlainText"
	KindDebugMessage       DataKind = "DebugMessage"
	KindErrorLog           DataKind = "ErrorLog"
	KindPerformanceWarning DataKind = "PerformanceWarning"
	KindToolResponse       DataKind = "ToolResponse"
	KindAPICall            DataKind = "ApiCall"
	KindRenderedPanel      DataKind = "RenderedPanel"
)

// Known reports whether k is one of the data kinds this package decodes
// into a typed payload.
func (k DataKind) Known() bool {
	switch k {
	case KindPlainText, KindDebugMessage, KindErrorLog, KindPerformanceWarning,
		KindToolResponse, KindAPICall, KindRenderedPanel:
		return true
	}
	return false
}

// Payload is the kind-specific body of an envelope.
type Payload interface {
	Kind() DataKind
}

// PlainText is a bare line of text.
type PlainText string

// DebugMessage is a leveled diagnostic with a heading and free-form body.
type DebugMessage struct {
	Heading  string         `json:"heading"`
	Body     string         `json:"body"`
	Level    string         `json:"level"`
	Metadata map[string]any `json:"metadata"`
}

// ErrorLog describes a failure, optionally with a traceback summary.
type ErrorLog struct {
	ErrorType        string         `json:"errorType"`
	ErrorMessage     string         `json:"errorMessage"`
	Context          string         `json:"context"`
	TracebackSummary string         `json:"tracebackSummary"`
	Metadata         map[string]any `json:"metadata"`
}

// PerformanceWarning reports an operation that exceeded its threshold.
// Duration and Threshold are seconds.
type PerformanceWarning struct {
	Operation string         `json:"operation"`
	Duration  float64        `json:"duration"`
	Threshold float64        `json:"threshold"`
	Context   string         `json:"context"`
	Metadata  map[string]any `json:"metadata"`
}

// ToolResponse summarizes one tool invocation.
type ToolResponse struct {
	ToolName             string         `json:"toolName"`
	Status               string         `json:"status"`
	Summary              string         `json:"summary"`
	ExecutionTimeSeconds float64        `json:"executionTimeSeconds"`
	Metadata             map[string]any `json:"metadata"`
}

// APICall summarizes one outbound API call.
type APICall struct {
	APIName         string         `json:"apiName"`
	Operation       string         `json:"operation"`
	Status          string         `json:"status"`
	DurationSeconds float64        `json:"durationSeconds"`
	Metadata        map[string]any `json:"metadata"`
}

// RenderedPanel carries text rendered by the producer. The transport and
// the console treat it as opaque and display it verbatim.
type RenderedPanel struct {
	EncodedBlob string `json:"encodedBlob"`
}

// Raw holds the payload of a data kind this package does not know. Value
// is the decoded JSON value, usually a map[string]any.
type Raw struct {
	Declared DataKind
	Value    any
}

func (PlainText) Kind() DataKind          { return KindPlainText }
func (DebugMessage) Kind() DataKind       { return KindDebugMessage }
func (ErrorLog) Kind() DataKind           { return KindErrorLog }
func (PerformanceWarning) Kind() DataKind { return KindPerformanceWarning }
func (ToolResponse) Kind() DataKind       { return KindToolResponse }
func (APICall) Kind() DataKind            { return KindAPICall }
func (RenderedPanel) Kind() DataKind      { return KindRenderedPanel }
func (r Raw) Kind() DataKind              { return r.Declared }

// Envelope is one transmitted diagnostic.
type Envelope struct {
	ObjectKind ObjectKind
	DataKind   DataKind
	// Timestamp is RFC 3339 with nanoseconds, in UTC.
	Timestamp string
	Payload   Payload
}

// now is swapped by tests.
var now = time.Now

// New wraps payload in an envelope stamped with the current UTC time.
// RenderedPanel payloads are opaque blobs; everything else is text.
func New(payload Payload) Envelope {
	payload = normalizePayload(payload)
	objectKind := ObjectText
	if payload.Kind() == KindRenderedPanel {
		objectKind = ObjectOpaqueBlob
	}
	return Envelope{
		ObjectKind: objectKind,
		DataKind:   payload.Kind(),
		Timestamp:  now().UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	}
}

// normalizePayload converts metadata to the types JSON decoding yields, so
// an envelope built here equals its decoded copy.
func normalizePayload(payload Payload) Payload {
	switch p := payload.(type) {
	case DebugMessage:
		p.Metadata = normalizeMetadata(p.Metadata)
		return p
	case ErrorLog:
		p.Metadata = normalizeMetadata(p.Metadata)
		return p
	case PerformanceWarning:
		p.Metadata = normalizeMetadata(p.Metadata)
		return p
	case ToolResponse:
		p.Metadata = normalizeMetadata(p.Metadata)
		return p
	case APICall:
		p.Metadata = normalizeMetadata(p.Metadata)
		return p
	default:
		return payload
	}
}

// normalizeMetadata returns a copy of m holding only JSON-native values:
// numbers become float64, structs and typed maps become map[string]any.
// A value that cannot be marshaled is replaced by its %v text.
func normalizeMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		data, err := json.Marshal(v)
		if err != nil {
			out[k] = fmt.Sprintf("%v", v)
			continue
		}
		var native any
		if err := json.Unmarshal(data, &native); err != nil {
			out[k] = fmt.Sprintf("%v", v)
			continue
		}
		out[k] = native
	}
	return out
}

// Time parses Timestamp. The zero time is returned when it does not parse.
func (e Envelope) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Text returns a single-line, uncolored description of the envelope. It is
// what the producer prints locally when the console cannot be reached.
func (e Envelope) Text() string {
	switch p := e.Payload.(type) {
	case PlainText:
		return string(p)
	case DebugMessage:
		level := p.Level
		if level == "" {
			level = "INFO"
		}
		if p.Body == "" {
			return fmt.Sprintf("[%s] %s", strings.ToUpper(level), p.Heading)
		}
		return fmt.Sprintf("[%s] %s: %s", strings.ToUpper(level), p.Heading, p.Body)
	case ErrorLog:
		return fmt.Sprintf("[ERROR] %s: %s", p.ErrorType, p.ErrorMessage)
	case PerformanceWarning:
		return fmt.Sprintf("[SLOW] %s took %.3fs (threshold %.3fs)", p.Operation, p.Duration, p.Threshold)
	case ToolResponse:
		return fmt.Sprintf("[TOOL] %s %s in %.3fs: %s", p.ToolName, p.Status, p.ExecutionTimeSeconds, p.Summary)
	case APICall:
		return fmt.Sprintf("[API] %s %s %s in %.3fs", p.APIName, p.Operation, p.Status, p.DurationSeconds)
	case RenderedPanel:
		return p.EncodedBlob
	case Raw:
		return fmt.Sprintf("[%s] %v", p.Declared, p.Value)
	default:
		return fmt.Sprintf("[%s]", e.DataKind)
	}
}

// NewPlainText builds a PlainText envelope.
func NewPlainText(text string) Envelope {
	return New(PlainText(text))
}

// NewDebugMessage builds a DebugMessage envelope.
func NewDebugMessage(heading, body, level string, metadata map[string]any) Envelope {
	return New(DebugMessage{Heading: heading, Body: body, Level: level, Metadata: metadata})
}

// NewErrorLog builds an ErrorLog envelope.
func NewErrorLog(errorType, message, context, traceback string, metadata map[string]any) Envelope {
	return New(ErrorLog{
		ErrorType:        errorType,
		ErrorMessage:     message,
		Context:          context,
		TracebackSummary: traceback,
		Metadata:         metadata,
	})
}

// NewPerformanceWarning builds a PerformanceWarning envelope.
func NewPerformanceWarning(operation string, duration, threshold time.Duration, context string, metadata map[string]any) Envelope {
	return New(PerformanceWarning{
		Operation: operation,
		Duration:  duration.Seconds(),
		Threshold: threshold.Seconds(),
		Context:   context,
		Metadata:  metadata,
	})
}

// NewToolResponse builds a ToolResponse envelope.
func NewToolResponse(toolName, status, summary string, elapsed time.Duration, metadata map[string]any) Envelope {
	return New(ToolResponse{
		ToolName:             toolName,
		Status:               status,
		Summary:              summary,
		ExecutionTimeSeconds: elapsed.Seconds(),
		Metadata:             metadata,
	})
}

// NewAPICall builds an ApiCall envelope.
func NewAPICall(apiName, operation, status string, elapsed time.Duration, metadata map[string]any) Envelope {
	return New(APICall{
		APIName:         apiName,
		Operation:       operation,
		Status:          status,
		DurationSeconds: elapsed.Seconds(),
		Metadata:        metadata,
	})
}

// NewRenderedPanel builds an opaque-blob envelope carrying text rendered by
// the producer.
func NewRenderedPanel(blob string) Envelope {
	return New(RenderedPanel{EncodedBlob: blob})
}
