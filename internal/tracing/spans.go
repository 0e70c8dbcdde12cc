package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanTransportSend    = "transport.send"
	SpanTransportConnect = "transport.connect"
	SpanTransportSpawn   = "transport.spawn"
	SpanDispatchFrame    = "dispatch.frame"
	SpanDispatchStream   = "dispatch.stream"
)

// Attribute keys.
const (
	AttrDataKind     = "envelope.data_kind"
	AttrObjectKind   = "envelope.object_kind"
	AttrBytes        = "envelope.bytes"
	AttrEndpoint     = "transport.endpoint"
	AttrFallback     = "transport.fallback"
	AttrSpawned      = "transport.spawned"
	AttrCategory     = "entry.category"
	AttrLevel        = "entry.level"
	AttrHandlerCount = "dispatch.handlers"
	AttrUnparsable   = "dispatch.unparsable"
)

// Event names.
const (
	EventReconnect     = "transport.reconnect"
	EventWriteFailed   = "transport.write_failed"
	EventHandlerFailed = "dispatch.handler_failed"
)

// RecordError marks span as failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// KindAttrs returns the envelope attributes for a span.
func KindAttrs(objectKind, dataKind string, size int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrObjectKind, objectKind),
		attribute.String(AttrDataKind, dataKind),
		attribute.Int(AttrBytes, size),
	}
}
