package rules

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/interpreter"
	"golang.org/x/sync/errgroup"
)

// Evaluator evaluates a boolean condition against every row of a table.
// The returned slice has one entry per row, in row order.
type Evaluator interface {
	Evaluate(condition string, t *Table) ([]bool, error)
}

// RowError attributes an evaluation failure to a row
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

const (
	defaultCostLimit = 1000000
	defaultChunkSize = 1024
)

// CELEvaluator evaluates conditions as CEL expressions. Columns a condition
// names are declared as dynamically typed variables. Compiled programs are
// cached per condition and referenced column set, and are safe for concurrent use.
type CELEvaluator struct {
	dialect     Dialect
	costLimit   uint64
	chunkSize   int
	parallelism int

	envs     map[string]*cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex

	parseEnv     *cel.Env
	parseEnvErr  error
	parseEnvOnce sync.Once
}

// EvaluatorOption configures a CELEvaluator
type EvaluatorOption func(*CELEvaluator)

// WithConditionDialect sets the syntax conditions are written in
func WithConditionDialect(d Dialect) EvaluatorOption {
	return func(ev *CELEvaluator) { ev.dialect = d }
}

// WithCostLimit bounds the cost of a single row evaluation
func WithCostLimit(limit uint64) EvaluatorOption {
	return func(ev *CELEvaluator) { ev.costLimit = limit }
}

// WithChunkSize sets how many rows one worker evaluates at a time
func WithChunkSize(n int) EvaluatorOption {
	return func(ev *CELEvaluator) {
		if n > 0 {
			ev.chunkSize = n
		}
	}
}

// WithRowParallelism bounds the number of row chunks evaluated concurrently
func WithRowParallelism(n int) EvaluatorOption {
	return func(ev *CELEvaluator) {
		if n > 0 {
			ev.parallelism = n
		}
	}
}

// NewCELEvaluator creates an evaluator with an empty program cache
func NewCELEvaluator(opts ...EvaluatorOption) *CELEvaluator {
	ev := &CELEvaluator{
		dialect:     DialectCEL,
		costLimit:   defaultCostLimit,
		chunkSize:   defaultChunkSize,
		parallelism: runtime.GOMAXPROCS(0),
		envs:        make(map[string]*cel.Env),
		programs:    make(map[string]cel.Program),
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// Dialect returns the condition syntax accepted by the evaluator
func (ev *CELEvaluator) Dialect() Dialect {
	return ev.dialect
}

// Evaluate compiles condition for the columns it references and evaluates it on every row
func (ev *CELEvaluator) Evaluate(condition string, t *Table) ([]bool, error) {
	prog, err := ev.compile(condition, t)
	if err != nil {
		return nil, err
	}

	n := t.Len()
	results := make([]bool, n)
	if n == 0 {
		return results, nil
	}

	chunks := (n + ev.chunkSize - 1) / ev.chunkSize
	errs := make([]error, chunks)

	var g errgroup.Group
	g.SetLimit(ev.parallelism)
	for c := 0; c < chunks; c++ {
		g.Go(func() error {
			start := c * ev.chunkSize
			end := min(start+ev.chunkSize, n)
			for r := start; r < end; r++ {
				matched, err := evalRow(prog, t, r)
				if err != nil {
					errs[c] = &RowError{Row: r, Err: err}
					return nil
				}
				results[r] = matched
			}
			return nil
		})
	}
	_ = g.Wait()

	// chunks are ordered, so the first error is the lowest failing row
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// CheckSyntax parses a condition without resolving column references
func (ev *CELEvaluator) CheckSyntax(condition string) error {
	ev.parseEnvOnce.Do(func() {
		ev.parseEnv, ev.parseEnvErr = cel.NewEnv()
	})
	if ev.parseEnvErr != nil {
		return fmt.Errorf("failed to create CEL environment: %w", ev.parseEnvErr)
	}

	_, issues := ev.parseEnv.Parse(ev.dialect.Translate(condition))
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCondition, issues.Err())
	}
	return nil
}

func (ev *CELEvaluator) compile(condition string, t *Table) (cel.Program, error) {
	expr := ev.dialect.Translate(condition)
	declared := referencedColumns(expr, t)
	sig := strings.Join(declared, "\x00")
	key := sig + "\x01" + expr

	ev.mu.RLock()
	prog, ok := ev.programs[key]
	ev.mu.RUnlock()
	if ok {
		return prog, nil
	}

	env, err := ev.environment(sig, declared)
	if err != nil {
		return nil, err
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, classifyCompileError(issues.Err())
	}

	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: expression has type %s", ErrNonBooleanCondition, out)
	}

	prog, err = env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(ev.costLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: program creation error: %w", ErrInvalidCondition, err)
	}

	ev.mu.Lock()
	ev.programs[key] = prog
	ev.mu.Unlock()

	return prog, nil
}

func (ev *CELEvaluator) environment(sig string, columns []string) (*cel.Env, error) {
	ev.mu.RLock()
	env, ok := ev.envs[sig]
	ev.mu.RUnlock()
	if ok {
		return env, nil
	}

	opts := []cel.EnvOption{cel.CrossTypeNumericComparisons(true)}
	for _, column := range columns {
		opts = append(opts, cel.Variable(column, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ev.mu.Lock()
	ev.envs[sig] = env
	ev.mu.Unlock()

	return env, nil
}

// referencedColumns returns the sorted table columns named anywhere in expr.
// Programs are keyed by this set, so columns a condition never mentions do
// not multiply cache entries.
func referencedColumns(expr string, t *Table) []string {
	var cols []string
	for i := 0; i < len(expr); {
		if !isIdentStart(expr[i]) {
			i++
			continue
		}
		j := i + 1
		for j < len(expr) && isIdentPart(expr[j]) {
			j++
		}
		name := expr[i:j]
		if t.HasColumn(name) && IsConditionIdentifier(name) && !slices.Contains(cols, name) {
			cols = append(cols, name)
		}
		i = j
	}
	slices.Sort(cols)
	return cols
}

func classifyCompileError(err error) error {
	if strings.Contains(err.Error(), "undeclared reference") {
		return fmt.Errorf("%w: %w", ErrUnknownColumn, err)
	}
	return fmt.Errorf("%w: compile error: %w", ErrInvalidCondition, err)
}

func evalRow(prog cel.Program, t *Table, row int) (bool, error) {
	out, _, err := prog.Eval(rowActivation{table: t, row: row})
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidCondition, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: got %s", ErrNonBooleanCondition, out.Type().TypeName())
	}
	return matched, nil
}

// rowActivation resolves variables straight from the table without copying the row
type rowActivation struct {
	table *Table
	row   int
}

func (a rowActivation) ResolveName(name string) (any, bool) {
	return a.table.Value(a.row, name)
}

func (a rowActivation) Parent() interpreter.Activation {
	return nil
}
