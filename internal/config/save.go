package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/diagwire/internal/logentry"
	"github.com/zjrosen/diagwire/internal/router"
)

// SaveRouteOverride adds rule to the router overrides file, replacing the
// rule with the same keyword (case-insensitive) in place. Comments and
// unrelated keys in the file are preserved by editing the yaml.Node tree.
func SaveRouteOverride(path string, rule router.Rule) error {
	if strings.TrimSpace(rule.Keyword) == "" {
		return fmt.Errorf("route override: empty keyword")
	}
	category, err := logentry.ParseCategory(string(rule.Category))
	if err != nil {
		return fmt.Errorf("route override %s: %w", rule.Keyword, err)
	}
	rule = router.Rule{Keyword: strings.TrimSpace(rule.Keyword), Category: category}
	return editRules(path, func(rules *yaml.Node) error {
		ruleNode, err := buildRuleNode(rule)
		if err != nil {
			return err
		}
		if i := findRule(rules, rule.Keyword); i >= 0 {
			rules.Content[i] = ruleNode
			return nil
		}
		rules.Content = append(rules.Content, ruleNode)
		return nil
	})
}

// RemoveRouteOverride deletes the rule for keyword. It reports false when
// the file has no such rule.
func RemoveRouteOverride(path, keyword string) (bool, error) {
	removed := false
	err := editRules(path, func(rules *yaml.Node) error {
		if i := findRule(rules, keyword); i >= 0 {
			rules.Content = append(rules.Content[:i], rules.Content[i+1:]...)
			removed = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// editRules loads path, hands the "rules" sequence node to edit, and
// writes the document back atomically.
func editRules(path string, edit func(rules *yaml.Node) error) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from user config
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading route overrides: %w", err)
	}

	var doc yaml.Node
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing route overrides: %w", err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("parsing route overrides: top level must be a mapping")
	}

	root := doc.Content[0]
	var rules *yaml.Node
	for i := 0; i < len(root.Content)-1; i += 2 {
		if root.Content[i].Value == "rules" {
			rules = root.Content[i+1]
			break
		}
	}
	if rules == nil {
		rules = &yaml.Node{Kind: yaml.SequenceNode}
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: "rules"}, rules)
	}
	if rules.Kind == yaml.ScalarNode && rules.Tag == "!!null" {
		rules.Kind, rules.Tag, rules.Value = yaml.SequenceNode, "", ""
	}
	if rules.Kind != yaml.SequenceNode {
		return fmt.Errorf("parsing route overrides: rules must be a list")
	}
	// Flow style ("rules: []") would keep appended rules on one line.
	rules.Style = 0

	if err := edit(rules); err != nil {
		return err
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling route overrides: %w", err)
	}
	_ = encoder.Close()

	return writeAtomic(path, buf.Bytes())
}

func buildRuleNode(rule router.Rule) (*yaml.Node, error) {
	var node yaml.Node
	if err := node.Encode(rule); err != nil {
		return nil, fmt.Errorf("encoding rule %s: %w", rule.Keyword, err)
	}
	return &node, nil
}

// findRule returns the index of the rule whose keyword matches, or -1.
func findRule(rules *yaml.Node, keyword string) int {
	for i, item := range rules.Content {
		if item.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j < len(item.Content)-1; j += 2 {
			if item.Content[j].Value == "keyword" && strings.EqualFold(item.Content[j+1].Value, strings.TrimSpace(keyword)) {
				return i
			}
		}
	}
	return -1
}

// writeAtomic writes to a temp file in the same directory, then renames
// it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".diagwire.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
