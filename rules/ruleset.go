package rules

import (
	"fmt"
	"slices"
)

// RuleSet is the immutable holder of a decision configuration.
// It is safe to share across goroutines.
type RuleSet struct {
	key             string
	defaultAction   string
	rules           []RuleDefinition
	possibleActions []string
}

// NewRuleSet creates a RuleSet. Conditions are stored verbatim and only
// checked when evaluated against a table.
func NewRuleSet(key, defaultAction string, rules []RuleDefinition) (*RuleSet, error) {
	if key == "" {
		return nil, configErrorf("", "key is required")
	}
	if defaultAction == "" {
		return nil, configErrorf("", "default_action is required")
	}

	defs := make([]RuleDefinition, len(rules))
	actions := make([]string, 0, len(rules))
	for i, r := range rules {
		if r.Action == "" {
			return nil, configErrorf("", "rule %d has an empty action", i)
		}
		defs[i] = r
		actions = append(actions, r.Action)
	}
	slices.Sort(actions)
	actions = slices.Compact(actions)

	return &RuleSet{
		key:             key,
		defaultAction:   defaultAction,
		rules:           defs,
		possibleActions: actions,
	}, nil
}

// RulesFromPairs converts [condition, action] pairs into rule definitions
func RulesFromPairs(pairs [][]string) ([]RuleDefinition, error) {
	defs := make([]RuleDefinition, 0, len(pairs))
	for i, p := range pairs {
		if len(p) != 2 {
			return nil, configErrorf("", "rule %d must be a [condition, action] pair, got %d elements", i, len(p))
		}
		defs = append(defs, RuleDefinition{Condition: p[0], Action: p[1]})
	}
	return defs, nil
}

// Key returns the output column name
func (rs *RuleSet) Key() string { return rs.key }

// DefaultAction returns the action used when no rule matches
func (rs *RuleSet) DefaultAction() string { return rs.defaultAction }

// Len returns the number of rules
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Rule returns the definition at priority i
func (rs *RuleSet) Rule(i int) RuleDefinition {
	return rs.rules[i]
}

// Rules returns a copy of the ordered rule definitions
func (rs *RuleSet) Rules() []RuleDefinition {
	return slices.Clone(rs.rules)
}

// PossibleActions returns the sorted, deduplicated rule actions (default excluded)
func (rs *RuleSet) PossibleActions() []string {
	return slices.Clone(rs.possibleActions)
}

// ActionFor returns the action bound to a priority, or the default action
// for DefaultRule / DefaultPriority.
func (rs *RuleSet) ActionFor(priority int) string {
	if priority < 0 || priority >= len(rs.rules) {
		return rs.defaultAction
	}
	return rs.rules[priority].Action
}

// Pairs returns the rules in [condition, action] form
func (rs *RuleSet) Pairs() [][]string {
	out := make([][]string, len(rs.rules))
	for i, r := range rs.rules {
		out[i] = []string{r.Condition, r.Action}
	}
	return out
}

func (rs *RuleSet) String() string {
	return fmt.Sprintf("RuleSet(key=%s, default=%s, rules=%d)", rs.key, rs.defaultAction, len(rs.rules))
}
