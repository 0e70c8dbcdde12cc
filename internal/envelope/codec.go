package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidEnvelope is the root cause of every CodecError.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// CodecError reports a structurally invalid encoded envelope. Raw holds the
// offending bytes so they can still be shown to the user.
type CodecError struct {
	Reason string
	Raw    []byte
	Err    error
}

func (e *CodecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrInvalidEnvelope, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidEnvelope, e.Reason)
}

// Unwrap lets errors.Is match both ErrInvalidEnvelope and the underlying
// JSON error.
func (e *CodecError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidEnvelope, e.Err}
	}
	return []error{ErrInvalidEnvelope}
}

// wire is the JSON layout of an envelope.
type wire struct {
	ObjectKind ObjectKind      `json:"objectKind"`
	DataKind   DataKind        `json:"dataKind"`
	Timestamp  string          `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
}

// Encode renders e as one JSON object with no trailing newline.
func Encode(e Envelope) ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("encode %s envelope: nil payload", e.DataKind)
	}

	var data any = e.Payload
	if raw, ok := e.Payload.(Raw); ok {
		data = raw.Value
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.DataKind, err)
	}

	dataKind := e.DataKind
	if dataKind == "" {
		dataKind = e.Payload.Kind()
	}

	out, err := json.Marshal(wire{
		ObjectKind: e.ObjectKind,
		DataKind:   dataKind,
		Timestamp:  e.Timestamp,
		Data:       encoded,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return out, nil
}

// Decode parses one encoded envelope. Unknown data kinds decode into a Raw
// payload; only structurally invalid input returns a *CodecError.
func Decode(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, &CodecError{Reason: "not a JSON object", Raw: data}
	}

	var w wire
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Envelope{}, &CodecError{Reason: "malformed JSON", Raw: data, Err: err}
	}

	switch {
	case w.ObjectKind == "":
		return Envelope{}, &CodecError{Reason: "missing objectKind", Raw: data}
	case w.DataKind == "":
		return Envelope{}, &CodecError{Reason: "missing dataKind", Raw: data}
	case w.Timestamp == "":
		return Envelope{}, &CodecError{Reason: "missing timestamp", Raw: data}
	case len(w.Data) == 0 || bytes.Equal(w.Data, []byte("null")):
		return Envelope{}, &CodecError{Reason: "missing data", Raw: data}
	}
	if w.ObjectKind != ObjectText && w.ObjectKind != ObjectOpaqueBlob {
		return Envelope{}, &CodecError{Reason: fmt.Sprintf("unknown objectKind %q", w.ObjectKind), Raw: data}
	}

	payload, err := decodePayload(w.DataKind, w.Data)
	if err != nil {
		return Envelope{}, &CodecError{Reason: fmt.Sprintf("bad %s payload", w.DataKind), Raw: data, Err: err}
	}

	return Envelope{
		ObjectKind: w.ObjectKind,
		DataKind:   w.DataKind,
		Timestamp:  w.Timestamp,
		Payload:    payload,
	}, nil
}

func decodePayload(kind DataKind, data json.RawMessage) (Payload, error) {
	switch kind {
	case KindPlainText:
		return unmarshalAs[PlainText](data)
	case KindDebugMessage:
		return unmarshalAs[DebugMessage](data)
	case KindErrorLog:
		return unmarshalAs[ErrorLog](data)
	case KindPerformanceWarning:
		return unmarshalAs[PerformanceWarning](data)
	case KindToolResponse:
		return unmarshalAs[ToolResponse](data)
	case KindAPICall:
		return unmarshalAs[APICall](data)
	case KindRenderedPanel:
		return unmarshalAs[RenderedPanel](data)
	default:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return Raw{Declared: kind, Value: v}, nil
	}
}

func unmarshalAs[P Payload](data json.RawMessage) (Payload, error) {
	var p P
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}
