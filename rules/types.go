package rules

import (
	"math"
	"time"
)

// DefaultPriority is the priority of the implicit default indicator.
// It is always true and loses to every declared rule.
const DefaultPriority = math.MaxInt

// DefaultRule marks a Decision that fell through to the default action
const DefaultRule = -1

// RuleDefinition is a single (condition, action) pair.
// Its position in the owning RuleSet is its priority.
type RuleDefinition struct {
	Condition string `json:"condition" yaml:"condition"`
	Action    string `json:"action" yaml:"action"`
}

// Decision is the outcome for one row of one GetActions call
type Decision struct {
	Row    int    `json:"row"`
	Rule   int    `json:"rule"` // DefaultRule when no condition matched
	Action string `json:"action"`
	Value  any    `json:"value"`
}

// Matched reports whether a declared rule (not the default) won the row
func (d Decision) Matched() bool {
	return d.Rule != DefaultRule
}

// Report contains the output column and the per-row decisions that produced it
type Report struct {
	Column    *Column
	Decisions []Decision
}

// DecisionSet is a named, persisted rule configuration
type DecisionSet struct {
	ID            string
	Name          string
	Key           string
	DefaultAction string
	Dialect       Dialect
	Rules         []RuleDefinition
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RuleSet builds the immutable RuleSet described by this decision set
func (ds *DecisionSet) RuleSet() (*RuleSet, error) {
	return NewRuleSet(ds.Key, ds.DefaultAction, ds.Rules)
}

// Engine builds a DecisionEngine for this decision set
func (ds *DecisionSet) Engine(opts ...Option) (*DecisionEngine, error) {
	return ConfigFromDecisionSet(ds).Engine(opts...)
}
