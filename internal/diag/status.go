package diag

import (
	"context"
	"maps"

	"github.com/zjrosen/diagwire/internal/envelope"
	"github.com/zjrosen/diagwire/internal/eventbus"
	"github.com/zjrosen/diagwire/internal/log"
	"github.com/zjrosen/diagwire/internal/render"
)

// StatusListenerName is the listener name the reporter registers under.
const StatusListenerName = "diag.status"

// StatusReporter forwards bus events to the console. Status and variable
// changes travel as rendered status lines; errors travel as error logs.
type StatusReporter struct {
	client   *Client
	renderer *render.Renderer
	dedupe   *eventbus.Deduper
}

// NewStatusReporter creates a reporter. A nil deduper forwards every
// notification, including repeats of the same change.
func NewStatusReporter(client *Client, renderer *render.Renderer, dedupe *eventbus.Deduper) *StatusReporter {
	if renderer == nil {
		renderer = render.Plain(render.DefaultWidth)
	}
	return &StatusReporter{client: client, renderer: renderer, dedupe: dedupe}
}

// Attach registers the reporter for every event type at priority.
// Listeners at a higher priority see each event first.
func (r *StatusReporter) Attach(bus *eventbus.Bus, priority int) {
	cb := eventbus.Callback(r.Forward)
	if r.dedupe != nil {
		cb = r.dedupe.Wrap(cb)
	}
	for _, t := range []eventbus.EventType{eventbus.StatusChanged, eventbus.VariableChanged, eventbus.ErrorOccurred} {
		bus.Register(t, StatusListenerName, cb, eventbus.WithPriority(priority))
	}
}

// Detach removes the reporter from bus.
func (r *StatusReporter) Detach(bus *eventbus.Bus) {
	for _, t := range []eventbus.EventType{eventbus.StatusChanged, eventbus.VariableChanged, eventbus.ErrorOccurred} {
		bus.Unregister(t, StatusListenerName)
	}
}

// Forward sends one event. Delivery failures degrade to local output
// inside the transport, so Forward never fails.
func (r *StatusReporter) Forward(ctx context.Context, e eventbus.Event) error {
	switch e.Type {
	case eventbus.ErrorOccurred:
		errType, _ := e.Metadata[eventbus.MetaErrorTyp].(string)
		if errType == "" {
			errType = "Error"
		}
		msg, ok := e.Metadata[eventbus.MetaError].(string)
		if !ok {
			if err, isErr := e.Metadata[eventbus.MetaError].(error); isErr {
				msg = err.Error()
			}
		}
		meta := maps.Clone(e.Metadata)
		delete(meta, eventbus.MetaError)
		delete(meta, eventbus.MetaErrorTyp)
		if len(meta) == 0 {
			meta = nil
		}
		r.client.Send(ctx, envelope.NewErrorLog(errType, msg, e.Source, "", meta))
	default:
		r.client.SendPlainText(ctx, r.renderer.StatusLine(e))
	}
	log.Debug(log.CatBus, "forwarded event", "type", e.Type, "source", e.Source, "seq", e.Seq)
	return nil
}
