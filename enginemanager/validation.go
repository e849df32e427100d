package enginemanager

import (
	"fmt"
	"regexp"

	"github.com/liamcoop/decisions/rules"
)

// MaxRules bounds the number of rules in one decision set
const MaxRules = 1000

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidateDecisionSet checks a decision set before it is compiled or stored.
// Conditions are only checked for syntax; column references are resolved
// against each input table at evaluation time.
func ValidateDecisionSet(ds *rules.DecisionSet) error {
	if ds == nil {
		return &rules.ConfigError{Err: fmt.Errorf("decision set is required")}
	}
	if err := validateName(ds.Name); err != nil {
		return &rules.ConfigError{Err: fmt.Errorf("invalid name %q: %w", ds.Name, err)}
	}

	if err := rules.ValidateIdentifier(ds.Key); err != nil {
		return &rules.ConfigError{Err: fmt.Errorf("invalid key %q: %w", ds.Key, err)}
	}

	if ds.DefaultAction == "" {
		return &rules.ConfigError{Err: fmt.Errorf("default action cannot be empty")}
	}

	dialect, err := rules.ParseDialect(string(ds.Dialect))
	if err != nil {
		return &rules.ConfigError{Err: err}
	}

	if len(ds.Rules) > MaxRules {
		return &rules.ConfigError{Err: fmt.Errorf("decision set contains %d rules, maximum allowed is %d", len(ds.Rules), MaxRules)}
	}

	ev := rules.NewCELEvaluator(rules.WithConditionDialect(dialect))
	for i, r := range ds.Rules {
		if r.Condition == "" {
			return &rules.ConfigError{Err: fmt.Errorf("rule %d has an empty condition", i)}
		}
		if r.Action == "" {
			return &rules.ConfigError{Err: fmt.Errorf("rule %d has an empty action", i)}
		}
		if err := ev.CheckSyntax(r.Condition); err != nil {
			return &rules.ConfigError{Err: fmt.Errorf("rule %d: %w", i, err)}
		}
	}

	return nil
}

func validateName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("name length %d exceeds maximum of 100 characters", len(name))
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("must match pattern %s", namePattern.String())
	}
	return nil
}
