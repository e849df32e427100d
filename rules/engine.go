package rules

import (
	"fmt"
	"log/slog"
	"time"
)

// Observer is notified after every decision call
type Observer interface {
	ObserveDecision(key string, report *Report, elapsed time.Duration, err error)
}

// DecisionEngine assigns one action per row of a table from a RuleSet.
// It holds no per-call state and may be shared by concurrent callers.
type DecisionEngine struct {
	rules     *RuleSet
	evaluator Evaluator
	resolver  *Resolver
	logger    *slog.Logger
	observer  Observer
}

type engineOptions struct {
	evaluator   Evaluator
	dialect     Dialect
	parallelism int
	logger      *slog.Logger
	observer    Observer
}

// Option configures a DecisionEngine
type Option func(*engineOptions)

// WithEvaluator replaces the CEL evaluator
func WithEvaluator(ev Evaluator) Option {
	return func(o *engineOptions) { o.evaluator = ev }
}

// WithDialect sets the condition syntax of the default evaluator
func WithDialect(d Dialect) Option {
	return func(o *engineOptions) { o.dialect = d }
}

// WithParallelism bounds how many conditions are evaluated concurrently
func WithParallelism(n int) Option {
	return func(o *engineOptions) { o.parallelism = n }
}

// WithLogger sets the logger for evaluation diagnostics
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithObserver registers obs to receive per-call evaluation metrics
func WithObserver(obs Observer) Option {
	return func(o *engineOptions) { o.observer = obs }
}

// NewDecisionEngine creates an engine for rs
func NewDecisionEngine(rs *RuleSet, opts ...Option) (*DecisionEngine, error) {
	if rs == nil {
		return nil, configErrorf("", "rule set is required")
	}

	o := engineOptions{dialect: DialectCEL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.evaluator == nil {
		o.evaluator = NewCELEvaluator(WithConditionDialect(o.dialect))
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &DecisionEngine{
		rules:     rs,
		evaluator: o.evaluator,
		resolver:  NewResolver(o.evaluator, o.parallelism),
		logger:    o.logger.With("key", rs.Key()),
		observer:  o.observer,
	}, nil
}

// New creates an engine from [condition, action] pairs
func New(key, defaultAction string, pairs [][]string, opts ...Option) (*DecisionEngine, error) {
	defs, err := RulesFromPairs(pairs)
	if err != nil {
		return nil, err
	}
	rs, err := NewRuleSet(key, defaultAction, defs)
	if err != nil {
		return nil, err
	}
	return NewDecisionEngine(rs, opts...)
}

// Load creates an engine from a TOML, JSON or YAML configuration file
func Load(path string, opts ...Option) (*DecisionEngine, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return cfg.Engine(opts...)
}

// LoadFromJSON creates an engine from an in-memory JSON configuration
func LoadFromJSON(config string, opts ...Option) (*DecisionEngine, error) {
	cfg, err := ParseJSONConfig([]byte(config))
	if err != nil {
		return nil, err
	}
	return cfg.Engine(opts...)
}

// RuleSet returns the engine's rules
func (e *DecisionEngine) RuleSet() *RuleSet {
	return e.rules
}

// Evaluator returns the condition evaluator in use
func (e *DecisionEngine) Evaluator() Evaluator {
	return e.evaluator
}

// GetActions resolves the whole table in one pass and returns the output
// column named by the RuleSet key, in row order.
func (e *DecisionEngine) GetActions(t *Table) (*Column, error) {
	report, err := e.Decide(t)
	if err != nil {
		return nil, err
	}
	return report.Column, nil
}

// Execute is GetActions under the name host bindings expect
func (e *DecisionEngine) Execute(t *Table) (*Column, error) {
	return e.GetActions(t)
}

// Decide is GetActions plus the per-row decisions
func (e *DecisionEngine) Decide(t *Table) (report *Report, err error) {
	start := time.Now()
	defer func() {
		if e.observer != nil {
			e.observer.ObserveDecision(e.rules.Key(), report, time.Since(start), err)
		}
	}()

	if t == nil {
		return nil, fmt.Errorf("table is required")
	}

	res, err := e.resolver.Resolve(e.rules, t)
	if err != nil {
		e.logger.Debug("decision failed", "rows", t.Len(), "error", err)
		return nil, err
	}

	report = Materialize(e.rules, res)
	e.logger.Debug("decision complete",
		"rows", t.Len(),
		"rules", e.rules.Len(),
		"elapsed", time.Since(start),
	)
	return report, nil
}
