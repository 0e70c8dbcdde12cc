// Package render turns envelopes, routed entries and bus events into
// terminal text blocks. A Renderer is safe for concurrent use.
package render

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/zjrosen/diagwire/internal/envelope"
	"github.com/zjrosen/diagwire/internal/log"
	"github.com/zjrosen/diagwire/internal/logentry"
)

// DefaultWidth is the wrap width used when Options.Width is not positive.
const DefaultWidth = 100

// UnknownKindMarker prefixes the dump of an envelope whose data kind is not
// recognized.
const UnknownKindMarker = "unknown data kind"

// Options configures a Renderer.
type Options struct {
	Width int
	// NoColor forces the ASCII color profile: no escape sequences at all.
	NoColor bool
	// Markdown renders DebugMessage bodies through glamour.
	Markdown bool
}

// Renderer holds the lipgloss renderer and the styles derived from it.
type Renderer struct {
	opts   Options
	lg     *lipgloss.Renderer
	styles styles

	mdOnce sync.Once
	md     *glamour.TermRenderer
}

// New creates a renderer whose color profile is detected from w, unless
// opts.NoColor is set.
func New(w io.Writer, opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if w == nil {
		w = os.Stdout
	}
	lg := lipgloss.NewRenderer(w)
	if opts.NoColor {
		lg.SetColorProfile(termenv.Ascii)
	}
	return &Renderer{opts: opts, lg: lg, styles: newStyles(lg)}
}

// Plain returns a renderer without color, wrapping at width.
func Plain(width int) *Renderer {
	return New(io.Discard, Options{Width: width, NoColor: true})
}

// Options returns the effective options.
func (r *Renderer) Options() Options {
	return r.opts
}

// Render formats an envelope according to its data kind.
func (r *Renderer) Render(env envelope.Envelope) string {
	switch p := env.Payload.(type) {
	case envelope.PlainText:
		return r.wrap(string(p))
	case envelope.DebugMessage:
		return r.debugMessage(p)
	case envelope.ErrorLog:
		return r.errorLog(p)
	case envelope.PerformanceWarning:
		return r.performanceWarning(p)
	case envelope.ToolResponse:
		return r.toolResponse(p)
	case envelope.APICall:
		return r.apiCall(p)
	case envelope.RenderedPanel:
		return p.EncodedBlob
	case envelope.Raw:
		return r.unknown(p.Declared, p.Value)
	case nil:
		return r.unknown(env.DataKind, nil)
	default:
		return r.unknown(env.DataKind, p)
	}
}

// RenderEntry formats a routed entry: a one-line header with time, level
// and category, followed by the envelope body.
func (r *Renderer) RenderEntry(entry *logentry.Entry) string {
	header := r.entryHeader(entry)
	body := r.Render(entry.Envelope)
	if entry.Envelope.Payload == nil && entry.Message != "" {
		body = r.wrap(entry.Message)
	}
	if body == "" {
		return header
	}
	return header + "\n" + body
}

// RenderUnparsable formats bytes that could not be decoded. Escape
// sequences in raw are stripped and long input is truncated.
func (r *Renderer) RenderUnparsable(raw []byte, err error) string {
	title := "unparsable message"
	if err != nil {
		title += ": " + err.Error()
	}
	text := ansi.Truncate(strings.ToValidUTF8(ansi.Strip(string(raw)), "\uFFFD"), maxUnparsableWidth, "…")
	head := r.styles.warning.Render("⚠ " + title)
	if text == "" {
		return head
	}
	return head + "\n" + r.styles.muted.Render(r.wrapIndent(text, 2))
}

// maxUnparsableWidth bounds the shown raw text, in terminal cells.
const maxUnparsableWidth = 2048

// StripANSI removes escape sequences from s.
func StripANSI(s string) string {
	return ansi.Strip(s)
}

func (r *Renderer) markdown(body string) string {
	r.mdOnce.Do(func() {
		style := "dark"
		if r.opts.NoColor {
			style = "notty"
		}
		md, err := glamour.NewTermRenderer(
			glamour.WithStylePath(style),
			glamour.WithStylesFromJSONBytes([]byte(noMarginStyle)),
			glamour.WithWordWrap(r.opts.Width),
		)
		if err != nil {
			log.ErrorErr(log.CatRender, "markdown renderer unavailable", err)
			return
		}
		r.md = md
	})
	if r.md == nil {
		return r.wrap(body)
	}
	out, err := r.md.Render(body)
	if err != nil {
		log.Debug(log.CatRender, "markdown render failed, using plain body", "error", err)
		return r.wrap(body)
	}
	return trimBlankLines(out)
}

// noMarginStyle removes glamour's document margins.
const noMarginStyle = `{
	"document": {
		"margin": 0,
		"block_prefix": "",
		"block_suffix": ""
	}
}`
