package handler

import (
	"fmt"
	"io"
	"sync"

	"github.com/zjrosen/diagwire/internal/log"
	"github.com/zjrosen/diagwire/internal/logentry"
	"github.com/zjrosen/diagwire/internal/render"
)

// DisplayName is the registry name of the display handler.
const DisplayName = "display"

// Display renders entries at or above a minimum level to an output.
type Display struct {
	mu         sync.Mutex
	out        io.Writer
	renderer   *render.Renderer
	minLevel   logentry.Level
	categories map[logentry.Category]bool
}

// DisplayOption configures a Display.
type DisplayOption func(*Display)

// WithCategories restricts the display to the given categories.
func WithCategories(categories ...logentry.Category) DisplayOption {
	return func(d *Display) {
		d.categories = make(map[logentry.Category]bool, len(categories))
		for _, c := range categories {
			d.categories[c] = true
		}
	}
}

// NewDisplay creates the display handler.
func NewDisplay(out io.Writer, renderer *render.Renderer, minLevel logentry.Level, opts ...DisplayOption) *Display {
	d := &Display{out: out, renderer: renderer, minLevel: minLevel}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Display) Name() string { return DisplayName }

func (d *Display) ShouldHandle(e logentry.Entry) bool {
	if e.Level < d.minLevel {
		return false
	}
	return d.categories == nil || d.categories[e.Category]
}

func (d *Display) Handle(e logentry.Entry) {
	d.Print(d.renderer.RenderEntry(&e))
}

// Print writes a pre-rendered block, serialized with entry output.
func (d *Display) Print(block string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := fmt.Fprintln(d.out, block); err != nil {
		log.ErrorErr(log.CatRender, "display write failed", err)
	}
}
