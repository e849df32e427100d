package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownColumn is wrapped when a condition references a column the table does not have
	ErrUnknownColumn = errors.New("unknown column")

	// ErrNonBooleanCondition is wrapped when a condition does not produce a bool
	ErrNonBooleanCondition = errors.New("condition is not boolean")

	// ErrInvalidCondition is wrapped for any other compile or evaluation failure
	ErrInvalidCondition = errors.New("invalid condition")

	ErrDecisionSetNotFound = errors.New("decision set not found")
	ErrDecisionSetExists   = errors.New("decision set already exists")
)

// ConfigError reports a rule configuration that could not be read, parsed or accepted.
// Path is empty for in-memory sources.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config error: %v", e.Err)
	}
	return fmt.Sprintf("config error in %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErrorf(path, format string, args ...any) *ConfigError {
	return &ConfigError{Path: path, Err: fmt.Errorf(format, args...)}
}

// EvaluationError aborts a GetActions call. Row is -1 when the condition
// failed before any row was evaluated (e.g. compilation).
type EvaluationError struct {
	Rule      int
	Condition string
	Row       int
	Err       error
}

func (e *EvaluationError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("rule %d (%s): %v", e.Rule, e.Condition, e.Err)
	}
	return fmt.Sprintf("rule %d (%s) at row %d: %v", e.Rule, e.Condition, e.Row, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is or wraps a *ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsEvaluationError reports whether err is or wraps an *EvaluationError
func IsEvaluationError(err error) bool {
	var ee *EvaluationError
	return errors.As(err, &ee)
}
