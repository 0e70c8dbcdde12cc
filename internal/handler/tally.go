package handler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zjrosen/diagwire/internal/logentry"
)

// TallyName is the registry name of the tally handler.
const TallyName = "tally"

// Tally counts every entry by category and level.
type Tally struct {
	mu         sync.Mutex
	total      int
	categories map[logentry.Category]int
	levels     map[logentry.Level]int
}

// NewTally creates an empty tally.
func NewTally() *Tally {
	return &Tally{
		categories: make(map[logentry.Category]int),
		levels:     make(map[logentry.Level]int),
	}
}

func (t *Tally) Name() string                     { return TallyName }
func (t *Tally) ShouldHandle(logentry.Entry) bool { return true }

func (t *Tally) Handle(e logentry.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total++
	t.categories[e.Category]++
	t.levels[e.Level]++
}

// Total returns the number of entries seen.
func (t *Tally) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Category returns the count for c.
func (t *Tally) Category(c logentry.Category) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.categories[c]
}

// Level returns the count for l.
func (t *Tally) Level(l logentry.Level) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.levels[l]
}

// Summary renders the counts as text, omitting zero rows.
func (t *Tally) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%d entries", t.total)
	for _, c := range logentry.Categories {
		if n := t.categories[c]; n > 0 {
			fmt.Fprintf(&b, "\n  %-16s %d", c, n)
		}
	}
	var levels []string
	for l := logentry.LevelDebug; l <= logentry.LevelCritical; l++ {
		if n := t.levels[l]; n > 0 {
			levels = append(levels, fmt.Sprintf("%s=%d", l, n))
		}
	}
	if len(levels) > 0 {
		b.WriteString("\n  " + strings.Join(levels, " "))
	}
	return b.String()
}
