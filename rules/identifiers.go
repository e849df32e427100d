package rules

import (
	"fmt"
	"regexp"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// reservedKeywords cannot be declared as CEL variables
var reservedKeywords = map[string]bool{
	// Boolean and null literals
	"true":  true,
	"false": true,
	"null":  true,
	// Control flow
	"if":       true,
	"else":     true,
	"for":      true,
	"while":    true,
	"break":    true,
	"continue": true,
	"return":   true,
	// Declarations
	"var":      true,
	"let":      true,
	"const":    true,
	"function": true,
	// Other keywords
	"in":        true,
	"as":        true,
	"import":    true,
	"package":   true,
	"namespace": true,
	"loop":      true,
	"void":      true,
}

// IsConditionIdentifier reports whether a column can be referenced by name
// from a condition. Other columns are still usable as pass-through actions.
func IsConditionIdentifier(name string) bool {
	return ValidateIdentifier(name) == nil
}

// ValidateIdentifier checks that name matches ^[a-zA-Z_][a-zA-Z0-9_]*$,
// is at most 100 characters and is not a reserved keyword.
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("identifier length %d exceeds maximum of 100 characters", len(name))
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}
	if reservedKeywords[name] {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}
	return nil
}
