package policy

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuleSpec is the on-disk form of a classifier rule. Exactly one of Pattern
// (a regular expression) or Contains (a substring) must be set.
type RuleSpec struct {
	Name     string `yaml:"name"`
	Class    string `yaml:"class"`
	Network  bool   `yaml:"network"`
	Pattern  string `yaml:"pattern"`
	Contains string `yaml:"contains"`
	Reason   string `yaml:"reason"`
}

// RuleFile is the YAML document read by LoadRules.
type RuleFile struct {
	ReplaceDefaults bool       `yaml:"replace_defaults"`
	Rules           []RuleSpec `yaml:"rules"`
}

// CompileRule validates and compiles a single rule spec.
func CompileRule(spec RuleSpec) (Rule, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return Rule{}, fmt.Errorf("rule name is required")
	}
	class, err := ParseRiskClass(spec.Class)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", name, err)
	}
	if class == RiskSafe {
		return Rule{}, fmt.Errorf("rule %q: class must be requires-approval or always-blocked", name)
	}
	hasPattern := spec.Pattern != ""
	hasContains := spec.Contains != ""
	if hasPattern == hasContains {
		return Rule{}, fmt.Errorf("rule %q: set exactly one of pattern or contains", name)
	}
	rule := Rule{Name: name, Class: class, Network: spec.Network, Reason: spec.Reason}
	if rule.Reason == "" {
		rule.Reason = name
	}
	if hasPattern {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return Rule{}, fmt.Errorf("rule %q: invalid pattern: %w", name, err)
		}
		rule.re = re
	} else {
		rule.contains = spec.Contains
	}
	return rule, nil
}

// ParseRules decodes a YAML rule document and merges it with the defaults
// unless replace_defaults is set.
func ParseRules(data []byte) ([]Rule, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	var rules []Rule
	if !file.ReplaceDefaults {
		rules = DefaultRules()
	}
	for i, spec := range file.Rules {
		rule, err := CompileRule(spec)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadRules reads a rules file. An empty path yields the default rule set.
func LoadRules(path string) ([]Rule, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}
