package mapping

import (
	"errors"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/docflow/internal/model"
)

// RuleFile is the YAML document accepted by `rules import` and by offline
// resolution. Rules omitting is_active default to active.
type RuleFile struct {
	Rules []model.MappingRule `yaml:"rules"`
}

// fileRule defaults IsActive to true before decoding.
type fileRule struct {
	model.MappingRule
}

func (f *fileRule) UnmarshalYAML(node *yaml.Node) error {
	rule := model.MappingRule{IsActive: true}
	if err := node.Decode(&rule); err != nil {
		return err
	}
	f.MappingRule = rule
	return nil
}

// ParseRules decodes and validates a rule file.
func ParseRules(r io.Reader) ([]model.MappingRule, error) {
	var raw struct {
		Rules []fileRule `yaml:"rules"`
	}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "mapping: decode rule file")
	}

	seen := make(map[string]bool, len(raw.Rules))
	rules := make([]model.MappingRule, 0, len(raw.Rules))
	for _, fr := range raw.Rules {
		rule := fr.MappingRule
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		if seen[rule.ID] {
			return nil, model.NewConfigError("rule "+rule.ID, "duplicate id in rule file")
		}
		seen[rule.ID] = true
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadRulesFile reads a rule file from disk.
func LoadRulesFile(path string) ([]model.MappingRule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "mapping: open rule file %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ParseRules(f)
}
