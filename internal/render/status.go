package render

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/zjrosen/diagwire/internal/eventbus"
)

// StatusLine renders one bus event as a single status line. String
// VariableChanged values are shown as a word diff: removed words in
// [-...-], added words in {+...+}.
func (r *Renderer) StatusLine(e eventbus.Event) string {
	ts := r.styles.muted.Render(e.Timestamp.Local().Format("15:04:05"))
	source := r.styles.heading.Render(e.Source)

	switch e.Type {
	case eventbus.VariableChanged:
		field := e.Field()
		oldV, newV := e.Metadata[eventbus.MetaOld], e.Metadata[eventbus.MetaNew]
		var change string
		oldS, oldOK := oldV.(string)
		newS, newOK := newV.(string)
		if oldOK && newOK {
			change = r.wordDiff(oldS, newS)
		} else {
			change = formatValue(oldV) + " → " + formatValue(newV)
		}
		return fmt.Sprintf("%s %s %s.%s: %s", ts, r.styles.info.Render("●"), source, field, change)

	case eventbus.StatusChanged:
		status := formatValue(e.Metadata[eventbus.MetaStatus])
		if e.Metadata[eventbus.MetaStatus] == nil {
			status = formatValue(e.Metadata[eventbus.MetaNew])
		}
		return fmt.Sprintf("%s %s %s %s", ts, r.styles.ok.Render("●"), source, r.styles.statusStyle(status).Render(status))

	case eventbus.ErrorOccurred:
		msg := formatValue(e.Metadata[eventbus.MetaError])
		if typ, ok := e.Metadata[eventbus.MetaErrorTyp].(string); ok && typ != "" {
			msg = typ + ": " + msg
		}
		return fmt.Sprintf("%s %s %s %s", ts, r.styles.error.Render("✖"), source, msg)

	default:
		return fmt.Sprintf("%s ● %s %s", ts, source, e.Type)
	}
}

// tokenRuneBase maps each distinct token to one rune in the supplementary
// private use area so the character diff runs over whole words.
const tokenRuneBase = 0xF0000

// wordDiff diffs old and new at word granularity.
func (r *Renderer) wordDiff(oldS, newS string) string {
	if oldS == "" {
		return r.styles.added.Render("{+" + newS + "+}")
	}
	if newS == "" {
		return r.styles.deleted.Render("[-" + oldS + "-]")
	}

	var table []string
	index := map[string]rune{}
	encode := func(s string) []rune {
		tokens := tokenize(s)
		out := make([]rune, len(tokens))
		for i, tok := range tokens {
			tr, ok := index[tok]
			if !ok {
				tr = tokenRuneBase + rune(len(table))
				index[tok] = tr
				table = append(table, tok)
			}
			out[i] = tr
		}
		return out
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMainRunes(encode(oldS), encode(newS), false)

	var b strings.Builder
	for _, d := range diffs {
		var tb strings.Builder
		for _, tr := range d.Text {
			tb.WriteString(table[tr-tokenRuneBase])
		}
		text := tb.String()
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			b.WriteString(text)
		case diffmatchpatch.DiffDelete:
			b.WriteString(r.styles.deleted.Render("[-" + text + "-]"))
		case diffmatchpatch.DiffInsert:
			b.WriteString(r.styles.added.Render("{+" + text + "+}"))
		}
	}
	return b.String()
}

// tokenize splits s into alternating word and whitespace tokens so that
// joining them restores s.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	inSpace := false
	for i, r := range s {
		space := r == ' ' || r == '\t'
		if i > 0 && space != inSpace {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
		inSpace = space
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}
