package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the file representation of a decision engine:
//
//	key = "bucket"
//	[rule_config]
//	default_action = "low"
//	rules = [["score >= 90", "high"], ["score >= 50", "medium"]]
type Config struct {
	Key        string     `json:"key" toml:"key" yaml:"key"`
	Dialect    string     `json:"dialect,omitempty" toml:"dialect,omitempty" yaml:"dialect,omitempty"`
	RuleConfig RuleConfig `json:"rule_config" toml:"rule_config" yaml:"rule_config"`
}

// RuleConfig holds the default action and the ordered [condition, action] pairs
type RuleConfig struct {
	DefaultAction string     `json:"default_action" toml:"default_action" yaml:"default_action"`
	Rules         [][]string `json:"rules" toml:"rules" yaml:"rules"`
}

// LoadConfig reads a configuration file. The format is chosen by extension:
// .json, .yaml/.yml, anything else is parsed as TOML.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("failed to read configuration file: %w", err)}
	}

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		cfg, err = ParseJSONConfig(data)
	case ".yaml", ".yml":
		cfg, err = ParseYAMLConfig(data)
	default:
		cfg, err = ParseTOMLConfig(data)
	}
	if err != nil {
		if ce, ok := err.(*ConfigError); ok {
			ce.Path = path
			return nil, ce
		}
		return nil, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// ParseJSONConfig parses an in-memory JSON configuration
func ParseJSONConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, configErrorf("", "failed to parse JSON configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseTOMLConfig parses an in-memory TOML configuration
func ParseTOMLConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, configErrorf("", "failed to parse TOML configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseYAMLConfig parses an in-memory YAML configuration
func ParseYAMLConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, configErrorf("", "failed to parse YAML configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and the shape of every rule
func (c *Config) Validate() error {
	if c.Key == "" {
		return configErrorf("", "missing required field: key")
	}
	if c.RuleConfig.DefaultAction == "" {
		return configErrorf("", "missing required field: rule_config.default_action")
	}
	if c.RuleConfig.Rules == nil {
		return configErrorf("", "missing required field: rule_config.rules")
	}
	if _, err := ParseDialect(c.Dialect); err != nil {
		return &ConfigError{Err: err}
	}
	if _, err := RulesFromPairs(c.RuleConfig.Rules); err != nil {
		return err
	}
	return nil
}

// RuleSet builds the immutable RuleSet described by the configuration
func (c *Config) RuleSet() (*RuleSet, error) {
	defs, err := RulesFromPairs(c.RuleConfig.Rules)
	if err != nil {
		return nil, err
	}
	return NewRuleSet(c.Key, c.RuleConfig.DefaultAction, defs)
}

// Engine builds a DecisionEngine. The configured dialect is applied before
// opts, so an explicit WithDialect wins.
func (c *Config) Engine(opts ...Option) (*DecisionEngine, error) {
	rs, err := c.RuleSet()
	if err != nil {
		return nil, err
	}
	dialect, err := ParseDialect(c.Dialect)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	return NewDecisionEngine(rs, append([]Option{WithDialect(dialect)}, opts...)...)
}

// ConfigFromDecisionSet converts a persisted decision set to its file form
func ConfigFromDecisionSet(ds *DecisionSet) *Config {
	pairs := make([][]string, len(ds.Rules))
	for i, r := range ds.Rules {
		pairs[i] = []string{r.Condition, r.Action}
	}
	return &Config{
		Key:     ds.Key,
		Dialect: string(ds.Dialect),
		RuleConfig: RuleConfig{
			DefaultAction: ds.DefaultAction,
			Rules:         pairs,
		},
	}
}
