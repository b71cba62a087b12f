package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadPatternRules loads every enabled, valid pattern rule from the YAML
// files under dir. Rules are returned sorted by ID; when two files define
// the same ID the file that sorts last wins. A missing directory yields no
// rules and no error.
func LoadPatternRules(dir string, logger *slog.Logger) ([]Rule, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		logger.Info("Rules directory not found, using built-in rules only", "rules_dir", dir)
		return nil, nil
	}

	files, err := readRuleFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule files: %w", err)
	}

	ruleMap := make(map[string]*PatternRule)
	for _, file := range files {
		loaded, err := loadRulesFromFile(file)
		if err != nil {
			logger.Warn("Failed to load rules from file", "file", file, "error", err)
			continue
		}

		for _, rule := range loaded {
			if rule == nil {
				continue
			}
			if !rule.IsEnabled() {
				logger.Debug("Skipping disabled rule", "rule_id", rule.Metadata.ID, "file", file)
				continue
			}
			if err := rule.Validate(); err != nil {
				logger.Warn("Invalid rule skipped", "rule_id", rule.Metadata.ID, "file", file, "error", err)
				continue
			}
			if existing, exists := ruleMap[rule.Metadata.ID]; exists {
				logger.Info("Rule ID conflict resolved by filename override",
					"rule_id", rule.Metadata.ID,
					"new_file", file,
					"old_file", existing.SourceFile)
			}
			rule.SourceFile = file
			ruleMap[rule.Metadata.ID] = rule
		}
	}

	ids := make([]string, 0, len(ruleMap))
	for id := range ruleMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Rule, 0, len(ids))
	for _, id := range ids {
		out = append(out, ruleMap[id])
	}

	logger.Info("Pattern rules loaded", "rules_dir", dir, "total_rules", len(out))
	return out, nil
}

// readRuleFiles lists the YAML files under dir, sorted by path
func readRuleFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// loadRulesFromFile decodes every YAML document in filename.
// A document may hold a single rule or a list of rules.
func loadRulesFromFile(filename string) ([]*PatternRule, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var rules []*PatternRule
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		if len(node.Content) == 0 {
			continue
		}

		if node.Content[0].Kind == yaml.SequenceNode {
			var list []*PatternRule
			if err := node.Decode(&list); err != nil {
				return nil, fmt.Errorf("failed to decode rule list: %w", err)
			}
			rules = append(rules, list...)
			continue
		}

		var rule PatternRule
		if err := node.Decode(&rule); err != nil {
			return nil, fmt.Errorf("failed to decode rule: %w", err)
		}
		rules = append(rules, &rule)
	}
	return rules, nil
}
