package render

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"

	"github.com/zjrosen/diagwire/internal/envelope"
	"github.com/zjrosen/diagwire/internal/logentry"
)

// maxKeyWidth bounds the metadata key column.
const maxKeyWidth = 24

func (r *Renderer) debugMessage(p envelope.DebugMessage) string {
	level, _ := logentry.ParseLevel(p.Level)
	var b strings.Builder
	b.WriteString(r.levelBadge(level))
	if p.Heading != "" {
		b.WriteString(" ")
		b.WriteString(r.styles.heading.Render(p.Heading))
	}
	if p.Body != "" {
		b.WriteString("\n")
		if r.opts.Markdown {
			b.WriteString(r.markdown(p.Body))
		} else {
			b.WriteString(r.styles.body.Render(r.wrap(p.Body)))
		}
	}
	r.appendMetadata(&b, p.Metadata)
	return b.String()
}

func (r *Renderer) errorLog(p envelope.ErrorLog) string {
	var b strings.Builder
	errType := p.ErrorType
	if errType == "" {
		errType = "Error"
	}
	b.WriteString(r.styles.error.Render("✖ " + errType))
	if p.ErrorMessage != "" {
		b.WriteString(": ")
		b.WriteString(p.ErrorMessage)
	}
	if p.Context != "" {
		b.WriteString("\n")
		b.WriteString(r.styles.muted.Render(r.wrapIndent("context: "+p.Context, 2)))
	}
	if tb := strings.TrimRight(p.TracebackSummary, "\n"); tb != "" {
		b.WriteString("\n")
		b.WriteString(indent.String(r.traceback(tb), 2))
	}
	r.appendMetadata(&b, p.Metadata)
	return b.String()
}

// traceback highlights a Python-style traceback. Plain text is returned in
// no-color mode or when highlighting fails.
func (r *Renderer) traceback(tb string) string {
	if r.opts.NoColor {
		return tb
	}
	var out strings.Builder
	if err := quick.Highlight(&out, tb, "pytb", "terminal256", "monokai"); err != nil {
		return tb
	}
	return strings.TrimRight(out.String(), "\n")
}

func (r *Renderer) performanceWarning(p envelope.PerformanceWarning) string {
	var b strings.Builder
	line := fmt.Sprintf("⏱ %s took %s", p.Operation, seconds(p.Duration))
	if p.Threshold > 0 {
		line += fmt.Sprintf(" (threshold %s, %.1f×)", seconds(p.Threshold), p.Duration/p.Threshold)
	}
	b.WriteString(r.styles.warning.Render(line))
	if p.Context != "" {
		b.WriteString("\n")
		b.WriteString(r.styles.muted.Render(r.wrapIndent(p.Context, 2)))
	}
	r.appendMetadata(&b, p.Metadata)
	return b.String()
}

func (r *Renderer) toolResponse(p envelope.ToolResponse) string {
	var b strings.Builder
	b.WriteString(r.styles.info.Render("⚙ tool " + p.ToolName))
	b.WriteString(r.styles.muted.Render(" · "))
	b.WriteString(r.styles.statusStyle(p.Status).Render(p.Status))
	b.WriteString(r.styles.muted.Render(" · " + seconds(p.ExecutionTimeSeconds)))
	if p.Summary != "" {
		b.WriteString("\n")
		b.WriteString(r.wrapIndent(p.Summary, 2))
	}
	r.appendMetadata(&b, p.Metadata)
	return b.String()
}

func (r *Renderer) apiCall(p envelope.APICall) string {
	var b strings.Builder
	name := p.APIName
	if p.Operation != "" {
		name += "." + p.Operation
	}
	b.WriteString(r.styles.info.Render("⇄ api " + name))
	b.WriteString(r.styles.muted.Render(" · "))
	b.WriteString(r.styles.statusStyle(p.Status).Render(p.Status))
	b.WriteString(r.styles.muted.Render(" · " + seconds(p.DurationSeconds)))
	r.appendMetadata(&b, p.Metadata)
	return b.String()
}

func (r *Renderer) unknown(kind envelope.DataKind, value any) string {
	var b strings.Builder
	b.WriteString(r.styles.warning.Render(fmt.Sprintf("? %s %q", UnknownKindMarker, string(kind))))
	switch v := value.(type) {
	case nil:
	case map[string]any:
		r.appendMetadata(&b, v)
	default:
		b.WriteString("\n")
		b.WriteString(r.wrapIndent(formatValue(v), 2))
	}
	return b.String()
}

func (r *Renderer) entryHeader(entry *logentry.Entry) string {
	ts := entry.Timestamp.Local().Format("15:04:05.000")
	return r.styles.muted.Render(ts) + " " +
		r.styles.level(entry.Level).Render(fmt.Sprintf("%-8s", entry.Level)) + " " +
		r.styles.category.Render("["+string(entry.Category)+"]")
}

func (r *Renderer) levelBadge(level logentry.Level) string {
	return r.styles.level(level).Render("[" + level.String() + "]")
}

// appendMetadata writes metadata as an aligned two-column table with keys
// sorted.
func (r *Renderer) appendMetadata(b *strings.Builder, metadata map[string]any) {
	if len(metadata) == 0 {
		return
	}
	keys := make([]string, 0, len(metadata))
	keyWidth := 0
	for k := range metadata {
		if k == logentry.MetaHeading {
			continue
		}
		keys = append(keys, k)
		keyWidth = max(keyWidth, runewidth.StringWidth(k))
	}
	if len(keys) == 0 {
		return
	}
	slices.Sort(keys)
	keyWidth = min(keyWidth, maxKeyWidth)
	valueWidth := max(r.opts.Width-keyWidth-4, 10)

	for _, k := range keys {
		key := runewidth.FillRight(runewidth.Truncate(k, keyWidth, "…"), keyWidth)
		value := runewidth.Truncate(strings.ReplaceAll(formatValue(metadata[k]), "\n", " "), valueWidth, "…")
		b.WriteString("\n  ")
		b.WriteString(r.styles.key.Render(key))
		b.WriteString("  ")
		b.WriteString(value)
	}
}

func (r *Renderer) wrap(s string) string {
	return wordwrap.String(s, r.opts.Width)
}

func (r *Renderer) wrapIndent(s string, n uint) string {
	return indent.String(wordwrap.String(s, r.opts.Width-int(n)), n)
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func seconds(s float64) string {
	return fmt.Sprintf("%.3fs", s)
}

func isFailureStatus(status string) bool {
	s := strings.ToLower(status)
	if strings.HasPrefix(s, "4") || strings.HasPrefix(s, "5") {
		return true
	}
	return strings.Contains(s, "fail") || strings.Contains(s, "error") || strings.Contains(s, "timeout")
}

func trimBlankLines(s string) string {
	return strings.Trim(s, "\n")
}
