// Package router assigns a category to log entries using an ordered
// keyword table. The first keyword found in the entry heading wins.
package router

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/diagwire/internal/log"
	"github.com/zjrosen/diagwire/internal/logentry"
)

// Rule maps a keyword to a category.
type Rule struct {
	Keyword  string            `yaml:"keyword" mapstructure:"keyword"`
	Category logentry.Category `yaml:"category" mapstructure:"category"`
}

// DefaultRules is the built-in table, in match order. The leading
// "kind:" rules match the headings logentry.FromEnvelope gives typed
// envelopes, so a tool named http_fetch stays a tool execution.
func DefaultRules() []Rule {
	return []Rule{
		{"tool:", logentry.CategoryToolExecution},
		{"api:", logentry.CategoryAPICall},
		{"performance:", logentry.CategorySubsystemEvent},
		{"error:", logentry.CategoryErrorTraceback},
		{"traceback", logentry.CategoryErrorTraceback},
		{"exception", logentry.CategoryErrorTraceback},
		{"error", logentry.CategoryErrorTraceback},
		{"api", logentry.CategoryAPICall},
		{"llm", logentry.CategoryAPICall},
		{"http", logentry.CategoryAPICall},
		{"request", logentry.CategoryAPICall},
		{"tool", logentry.CategoryToolExecution},
		{"agent", logentry.CategoryAgentWorkflow},
		{"workflow", logentry.CategoryAgentWorkflow},
		{"router", logentry.CategoryAgentWorkflow},
		{"rag", logentry.CategorySubsystemEvent},
		{"graph", logentry.CategorySubsystemEvent},
		{"neo4j", logentry.CategorySubsystemEvent},
		{"browser", logentry.CategorySubsystemEvent},
		{"extract", logentry.CategorySubsystemEvent},
		{"subsystem", logentry.CategorySubsystemEvent},
		{"performance", logentry.CategorySubsystemEvent},
	}
}

// Overlay returns base with overrides applied: an override whose keyword
// already exists (case-insensitively) replaces that rule in place; other
// overrides are appended in order. Neither input is modified.
func Overlay(base []Rule, overrides ...Rule) []Rule {
	table := slices.Clone(base)
	for _, o := range overrides {
		if o.Keyword == "" {
			continue
		}
		idx := slices.IndexFunc(table, func(r Rule) bool { return strings.EqualFold(r.Keyword, o.Keyword) })
		if idx >= 0 {
			table[idx] = o
			continue
		}
		table = append(table, o)
	}
	return table
}

// Heading is the text the router matches against: metadata["heading"], or
// the message up to its first ':' or newline.
func Heading(entry *logentry.Entry) string {
	if h, ok := entry.Heading(); ok {
		return h
	}
	msg := entry.Message
	if i := strings.IndexAny(msg, ":\n"); i >= 0 {
		msg = msg[:i]
	}
	return strings.TrimSpace(msg)
}

// Classify sets entry.Category from the built-in table overlaid with
// overrides and returns entry.
func Classify(entry *logentry.Entry, overrides ...Rule) *logentry.Entry {
	entry.Category = match(Overlay(DefaultRules(), overrides...), Heading(entry))
	return entry
}

func match(table []Rule, heading string) logentry.Category {
	lower := strings.ToLower(heading)
	for _, r := range table {
		if strings.Contains(lower, strings.ToLower(r.Keyword)) {
			return r.Category
		}
	}
	return logentry.CategoryOther
}

// Router classifies entries against a table that can be swapped while
// classification is running.
type Router struct {
	table atomic.Pointer[[]Rule]
}

// New builds a router over the default table overlaid with overrides.
func New(overrides ...Rule) *Router {
	r := &Router{}
	r.SetOverrides(overrides...)
	return r
}

// SetOverrides atomically replaces the overrides.
func (r *Router) SetOverrides(overrides ...Rule) {
	table := Overlay(DefaultRules(), overrides...)
	r.table.Store(&table)
	log.Debug(log.CatRouter, "routing table updated", "overrides", len(overrides), "rules", len(table))
}

// Rules returns a copy of the effective table.
func (r *Router) Rules() []Rule {
	return slices.Clone(*r.table.Load())
}

// Classify sets entry.Category and returns entry.
func (r *Router) Classify(entry *logentry.Entry) *logentry.Entry {
	heading := Heading(entry)
	entry.Category = match(*r.table.Load(), heading)
	log.Debug(log.CatRouter, "classified", "heading", heading, "category", entry.Category)
	return entry
}

type overridesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadOverrides reads a YAML rule file:
//
//	rules:
//	  - keyword: neo4j
//	    category: SubsystemEvent
func LoadOverrides(path string) ([]Rule, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from user config
	if err != nil {
		return nil, fmt.Errorf("reading router overrides: %w", err)
	}
	var file overridesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing router overrides %s: %w", path, err)
	}
	return normalize(file.Rules)
}

// RulesFromMap converts a keyword→category map (the config form) into
// rules sorted by keyword.
func RulesFromMap(m map[string]string) ([]Rule, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	rules := make([]Rule, 0, len(keys))
	for _, k := range keys {
		rules = append(rules, Rule{Keyword: k, Category: logentry.Category(m[k])})
	}
	return normalize(rules)
}

func normalize(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if strings.TrimSpace(r.Keyword) == "" {
			return nil, fmt.Errorf("rule %d: empty keyword", i)
		}
		c, err := logentry.ParseCategory(string(r.Category))
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Keyword, err)
		}
		out = append(out, Rule{Keyword: strings.TrimSpace(r.Keyword), Category: c})
	}
	return out, nil
}
