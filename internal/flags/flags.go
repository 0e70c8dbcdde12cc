// Package flags provides feature flags read from the "flags" config map.
// Flags are read-only after initialization; a flag missing from config falls
// back to its built-in default, and unknown flags are disabled.
package flags

import (
	"maps"

	"github.com/zjrosen/diagwire/internal/log"
)

const (
	// FlagConsoleAutospawn lets the transport start a console process when
	// the configured endpoint refuses connections.
	FlagConsoleAutospawn = "console-autospawn"

	// FlagStatusDedupe drops repeated status notifications that carry an
	// identity key already delivered.
	FlagStatusDedupe = "status-dedupe"

	// FlagMarkdownBodies renders debug message bodies as markdown.
	FlagMarkdownBodies = "markdown-bodies"
)

// Defaults returns the built-in value of every known flag.
func Defaults() map[string]bool {
	return map[string]bool{
		FlagConsoleAutospawn: true,
		FlagStatusDedupe:     true,
		FlagMarkdownBodies:   false,
	}
}

// Registry holds feature flag state loaded from configuration.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from a config map layered over Defaults().
func New(configured map[string]bool) *Registry {
	merged := Defaults()
	maps.Copy(merged, configured)
	r := &Registry{flags: merged}
	log.Debug(log.CatConfig, "Feature flags initialized", "count", len(merged), "flags", r.All())
	return r
}

// Enabled returns true if the named flag is enabled.
// Returns false for unknown flags and on a nil registry.
func (r *Registry) Enabled(name string) bool {
	if r == nil || r.flags == nil {
		return false
	}
	value, exists := r.flags[name]
	if !exists {
		log.Debug(log.CatConfig, "Unknown flag accessed", "flag", name, "result", false)
		return false
	}
	return value
}

// All returns a copy of all flags (for debugging/logging).
func (r *Registry) All() map[string]bool {
	if r == nil || r.flags == nil {
		return make(map[string]bool)
	}
	result := make(map[string]bool, len(r.flags))
	maps.Copy(result, r.flags)
	return result
}
