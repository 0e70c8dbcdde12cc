package eventbus

import (
	"context"
	"time"

	"github.com/zjrosen/diagwire/internal/cachemanager"
)

// DefaultDedupeWindow is how long an identity key is remembered.
const DefaultDedupeWindow = 5 * time.Minute

// Deduper remembers identity keys of delivered events so a listener can
// ignore repeated notifications of the same logical change. Keys include
// the bus sequence number, so two distinct changes never collide.
type Deduper struct {
	seen   cachemanager.CacheManager[string, struct{}]
	window time.Duration
}

// NewDeduper returns a deduper remembering keys for window.
func NewDeduper(window time.Duration) *Deduper {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &Deduper{
		seen:   cachemanager.NewInMemoryCacheManager[string, struct{}]("eventbus.dedupe", window, 2*window),
		window: window,
	}
}

// FirstSeen records e and reports whether its key was new.
func (d *Deduper) FirstSeen(ctx context.Context, e Event) bool {
	return d.seen.Add(ctx, e.Key(), struct{}{}, d.window)
}

// Wrap returns a callback that invokes cb only for first-seen events.
func (d *Deduper) Wrap(cb Callback) Callback {
	return func(ctx context.Context, e Event) error {
		if !d.FirstSeen(ctx, e) {
			return nil
		}
		return cb(ctx, e)
	}
}
