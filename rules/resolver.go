package rules

import (
	"errors"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Resolver computes the winning rule of every row of a batch
type Resolver struct {
	evaluator   Evaluator
	parallelism int
}

// Resolution is the per-call result of Resolve. Table is the derived view
// (synthesized literal and index columns included) the conditions ran against.
type Resolution struct {
	Table      *Table
	Priorities []int    // winning declaration index per row, DefaultPriority if none
	Actions    []string // winning action identifier per row
}

// NewResolver creates a resolver evaluating up to parallelism conditions at once.
// parallelism <= 0 uses GOMAXPROCS.
func NewResolver(evaluator Evaluator, parallelism int) *Resolver {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	return &Resolver{evaluator: evaluator, parallelism: parallelism}
}

// Resolve evaluates every rule of rs against t and selects, per row, the
// lowest declaration index whose condition is true. Rows matching nothing get
// the default action. Any evaluation failure aborts the whole call.
func (r *Resolver) Resolve(rs *RuleSet, t *Table) (*Resolution, error) {
	frame := synthesize(rs, t)

	matches, err := r.evaluateAll(rs, frame)
	if err != nil {
		return nil, err
	}

	n := frame.Len()
	priorities := make([]int, n)
	actions := make([]string, n)
	for row := 0; row < n; row++ {
		p := winner(matches, row)
		priorities[row] = p
		actions[row] = rs.ActionFor(p)
	}

	return &Resolution{
		Table:      frame,
		Priorities: priorities,
		Actions:    actions,
	}, nil
}

// synthesize adds a literal column for every possible action the table does
// not already have, and an index column. Existing columns always win: a
// column named like an action means pass-through.
func synthesize(rs *RuleSet, t *Table) *Table {
	literals := make(map[string]any, len(rs.possibleActions))
	for _, action := range rs.possibleActions {
		if !t.HasColumn(action) {
			literals[action] = action
		}
	}
	return t.derive(literals, true)
}

func (r *Resolver) evaluateAll(rs *RuleSet, frame *Table) ([][]bool, error) {
	matches := make([][]bool, rs.Len())
	errs := make([]error, rs.Len())

	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for i := range rs.rules {
		g.Go(func() error {
			condition := rs.rules[i].Condition
			col, err := r.evaluator.Evaluate(condition, frame)
			if err != nil {
				errs[i] = newEvaluationError(i, condition, err)
				return nil
			}
			if len(col) != frame.Len() {
				errs[i] = newEvaluationError(i, condition, errors.New("evaluator returned a column of the wrong length"))
				return nil
			}
			matches[i] = col
			return nil
		})
	}
	_ = g.Wait()

	// report the highest-priority failure so errors are deterministic
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return matches, nil
}

// winner returns the numerically smallest rule index whose condition holds
// for row, or DefaultPriority. Priority is never derived from a label.
func winner(matches [][]bool, row int) int {
	best := DefaultPriority
	for i := range matches {
		if i < best && matches[i][row] {
			best = i
		}
	}
	return best
}

func newEvaluationError(rule int, condition string, err error) *EvaluationError {
	ee := &EvaluationError{Rule: rule, Condition: condition, Row: -1, Err: err}
	var re *RowError
	if errors.As(err, &re) {
		ee.Row = re.Row
	}
	return ee
}
