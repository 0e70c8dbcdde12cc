// Package diag is the producer-side API. Application code calls Client
// methods with plain values; envelopes, sockets, framing and routing stay
// out of sight, and none of the methods ever returns a transport error.
package diag

import (
	"context"
	"strings"
	"time"

	"github.com/zjrosen/diagwire/internal/envelope"
	"github.com/zjrosen/diagwire/internal/render"
)

// Sender ships one envelope and reports whether it reached the console.
// *transport.Manager satisfies it.
type Sender interface {
	Send(ctx context.Context, env envelope.Envelope) bool
}

// Client builds envelopes and hands them to a Sender.
type Client struct {
	sender   Sender
	renderer *render.Renderer
}

// NewClient creates a client. Panels are drawn with renderer; a nil
// renderer draws plain panels at the default width.
func NewClient(sender Sender, renderer *render.Renderer) *Client {
	if renderer == nil {
		renderer = render.Plain(render.DefaultWidth)
	}
	return &Client{sender: sender, renderer: renderer}
}

// Send ships a prebuilt envelope.
func (c *Client) Send(ctx context.Context, env envelope.Envelope) bool {
	return c.sender.Send(ctx, env)
}

// SendDiagnostic ships a leveled debug message. An empty level means INFO.
func (c *Client) SendDiagnostic(ctx context.Context, heading, body, level string, metadata map[string]any) bool {
	if level == "" {
		level = "INFO"
	}
	return c.Send(ctx, envelope.NewDebugMessage(heading, body, strings.ToUpper(level), metadata))
}

// SendToolResponse reports one tool invocation.
func (c *Client) SendToolResponse(ctx context.Context, toolName, status, summary string, elapsed time.Duration, metadata map[string]any) bool {
	return c.Send(ctx, envelope.NewToolResponse(toolName, status, summary, elapsed, metadata))
}

// SendAPICall reports one outbound API call.
func (c *Client) SendAPICall(ctx context.Context, apiName, operation, status string, elapsed time.Duration, metadata map[string]any) bool {
	return c.Send(ctx, envelope.NewAPICall(apiName, operation, status, elapsed, metadata))
}

// SendErrorLog reports a failure.
func (c *Client) SendErrorLog(ctx context.Context, errorType, message, errContext, traceback string, metadata map[string]any) bool {
	return c.Send(ctx, envelope.NewErrorLog(errorType, message, errContext, traceback, metadata))
}

// SendError reports err, using its dynamic type as the error type.
func (c *Client) SendError(ctx context.Context, err error, errContext string, metadata map[string]any) bool {
	if err == nil {
		return false
	}
	return c.SendErrorLog(ctx, errorTypeName(err), err.Error(), errContext, "", metadata)
}

// SendPerformanceWarning reports an operation that ran past threshold.
func (c *Client) SendPerformanceWarning(ctx context.Context, operation string, duration, threshold time.Duration, opContext string, metadata map[string]any) bool {
	return c.Send(ctx, envelope.NewPerformanceWarning(operation, duration, threshold, opContext, metadata))
}

// SendPlainText ships one line of text.
func (c *Client) SendPlainText(ctx context.Context, text string) bool {
	return c.Send(ctx, envelope.NewPlainText(text))
}

// SendPanel draws body in a titled border and ships the result as an
// opaque blob the console prints verbatim.
func (c *Client) SendPanel(ctx context.Context, title, body string) bool {
	return c.Send(ctx, envelope.NewRenderedPanel(c.renderer.Panel(title, body)))
}

// Timed runs fn and sends a performance warning when it takes longer
// than threshold. fn's error is returned unchanged.
func (c *Client) Timed(ctx context.Context, operation string, threshold time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	if elapsed := time.Since(start); elapsed > threshold {
		c.SendPerformanceWarning(ctx, operation, elapsed, threshold, "", nil)
	}
	return err
}
