package rules

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

func scoreTable(t *testing.T, scores ...any) *Table {
	t.Helper()
	table, err := NewTableFromColumns([]string{"score"}, [][]any{scores})
	if err != nil {
		t.Fatalf("NewTableFromColumns() failed: %v", err)
	}
	return table
}

func bucketEngine(t *testing.T, opts ...Option) *DecisionEngine {
	t.Helper()
	engine, err := New("bucket", "low", [][]string{
		{"score >= 90", "high"},
		{"score >= 50", "medium"},
	}, opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return engine
}

func assertStrings(t *testing.T, col *Column, want []string) {
	t.Helper()
	if got := col.Strings(); !reflect.DeepEqual(got, want) {
		t.Errorf("GetActions() = %v, want %v", got, want)
	}
}

// TestGetActionsBucketsScores covers the basic bucketing scenario
func TestGetActionsBucketsScores(t *testing.T) {
	engine := bucketEngine(t)

	col, err := engine.GetActions(scoreTable(t, 0, 50, 85, 95, 105))
	if err != nil {
		t.Fatalf("GetActions() failed: %v", err)
	}

	if col.Name != "bucket" {
		t.Errorf("column name = %q, want %q", col.Name, "bucket")
	}
	assertStrings(t, col, []string{"low", "medium", "medium", "high", "high"})
}

// TestGetActionsPassThrough verifies that an action naming a column outputs that column's value
func TestGetActionsPassThrough(t *testing.T) {
	engine, err := New("label", "fallback_col", [][]string{{"flag", "label_col"}})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	table := NewTableFromRows([]Row{
		{"flag": true, "label_col": "from-label", "fallback_col": "from-fallback-1"},
		{"flag": false, "label_col": "unused", "fallback_col": "from-fallback-2"},
	})

	col, err := engine.GetActions(table)
	if err != nil {
		t.Fatalf("GetActions() failed: %v", err)
	}
	assertStrings(t, col, []string{"from-label", "from-fallback-2"})
}

// TestGetActionsPassThroughKeepsNativeValues verifies pass-through does not stringify values
func TestGetActionsPassThroughKeepsNativeValues(t *testing.T) {
	engine, err := New("limit", "base_limit", [][]string{{"vip", "vip_limit"}})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	table := NewTableFromRows([]Row{
		{"vip": true, "vip_limit": int64(5000), "base_limit": int64(100)},
		{"vip": false, "vip_limit": int64(5000), "base_limit": int64(100)},
	})

	col, err := engine.GetActions(table)
	if err != nil {
		t.Fatalf("GetActions() failed: %v", err)
	}

	want := []any{int64(5000), int64(100)}
	if !reflect.DeepEqual(col.Values, want) {
		t.Errorf("Values = %#v, want %#v", col.Values, want)
	}
}

// TestGetActionsMixedLiteralAndPassThrough mirrors a configuration where some
// actions are columns of the input and others are labels
func TestGetActionsMixedLiteralAndPassThrough(t *testing.T) {
	engine, err := New("action", "high_variable", [][]string{
		{"is_pep > 0", "high_variable"},
		{"score < 80", "low_variable"},
		{"score <= 99", "medium_variable"},
		{"score > 99", "auto_high"},
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	table := NewTableFromRows([]Row{
		{"score": int64(0), "is_pep": 100.0, "high_variable": "high", "low_variable": "low", "medium_variable": "medium"},
		{"score": int64(50), "is_pep": int64(0), "high_variable": "high", "low_variable": "low", "medium_variable": "medium"},
		{"score": int64(150), "is_pep": int64(0), "high_variable": "high", "low_variable": "low", "medium_variable": "medium"},
	})

	col, err := engine.GetActions(table)
	if err != nil {
		t.Fatalf("GetActions() failed: %v", err)
	}
	assertStrings(t, col, []string{"high", "low", "auto_high"})
}

// TestGetActionsPriorityBeyondTenRules guards against ordering rules by a
// generated text label, where "10" would sort before "2"
func TestGetActionsPriorityBeyondTenRules(t *testing.T) {
	var pairs [][]string
	for i := 0; i < 12; i++ {
		pairs = append(pairs, []string{fmt.Sprintf("tier <= %d", i), fmt.Sprintf("a%d", i)})
	}
	engine, err := New("tier_action", "none", pairs)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	var tiers []any
	var want []string
	for i := 0; i < 12; i++ {
		tiers = append(tiers, int64(i))
		want = append(want, fmt.Sprintf("a%d", i))
	}
	tiers = append(tiers, int64(99))
	want = append(want, "none")

	table, err := NewTableFromColumns([]string{"tier"}, [][]any{tiers})
	if err != nil {
		t.Fatalf("NewTableFromColumns() failed: %v", err)
	}

	report, err := engine.Decide(table)
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}
	assertStrings(t, report.Column, want)

	for i, d := range report.Decisions[:12] {
		if d.Rule != i {
			t.Errorf("row %d won by rule %d, want %d", i, d.Rule, i)
		}
	}
	if report.Decisions[12].Matched() {
		t.Errorf("row 12 should fall through to the default, got rule %d", report.Decisions[12].Rule)
	}
}

// TestGetActionsFirstTrueWins verifies earlier rules beat later ones when both match
func TestGetActionsFirstTrueWins(t *testing.T) {
	engine, err := New("out", "default", [][]string{
		{"true", "first"},
		{"true", "second"},
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	col, err := engine.GetActions(scoreTable(t, 1, 2, 3))
	if err != nil {
		t.Fatalf("GetActions() failed: %v", err)
	}
	assertStrings(t, col, []string{"first", "first", "first"})
}

// TestGetActionsNoRules verifies every row gets the default action
func TestGetActionsNoRules(t *testing.T) {
	engine, err := New("out", "only", nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	col, err := engine.GetActions(scoreTable(t, 1, 2))
	if err != nil {
		t.Fatalf("GetActions() failed: %v", err)
	}
	assertStrings(t, col, []string{"only", "only"})
}

// TestGetActionsEmptyTable verifies an empty batch yields an empty column
func TestGetActionsEmptyTable(t *testing.T) {
	engine := bucketEngine(t)

	table, err := NewTable([]string{"score"}, nil)
	if err != nil {
		t.Fatalf("NewTable() failed: %v", err)
	}

	col, err := engine.GetActions(table)
	if err != nil {
		t.Fatalf("GetActions() failed: %v", err)
	}
	if col.Len() != 0 {
		t.Errorf("expected empty column, got %d values", col.Len())
	}
}

// TestGetActionsIndexColumn verifies the synthesized row index is visible to conditions
func TestGetActionsIndexColumn(t *testing.T) {
	engine, err := New("out", "other", [][]string{{"index == 1", "second"}})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	col, err := engine.GetActions(scoreTable(t, 7, 7, 7))
	if err != nil {
		t.Fatalf("GetActions() failed: %v", err)
	}
	assertStrings(t, col, []string{"other", "second", "other"})
}

// TestGetActionsDoesNotModifyInput verifies synthesized columns stay out of the caller's table
func TestGetActionsDoesNotModifyInput(t *testing.T) {
	engine := bucketEngine(t)
	rows := []Row{{"score": 95}, {"score": 10}}
	table := NewTableFromRows(rows)

	if _, err := engine.GetActions(table); err != nil {
		t.Fatalf("GetActions() failed: %v", err)
	}

	if got := table.Columns(); !reflect.DeepEqual(got, []string{"score"}) {
		t.Errorf("table columns changed to %v", got)
	}
	for _, name := range []string{"high", "medium", IndexColumn} {
		if table.HasColumn(name) {
			t.Errorf("table gained column %q", name)
		}
	}
	if len(rows[0]) != 1 || len(rows[1]) != 1 {
		t.Errorf("rows were modified: %v", rows)
	}
}

// TestGetActionsIdempotent verifies repeated and concurrent calls produce identical output
func TestGetActionsIdempotent(t *testing.T) {
	engine := bucketEngine(t)

	var scores []any
	for i := 0; i < 5000; i++ {
		scores = append(scores, int64(i%120))
	}
	table := scoreTable(t, scores...)

	first, err := engine.GetActions(table)
	if err != nil {
		t.Fatalf("GetActions() failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			col, err := engine.GetActions(table)
			if err != nil {
				t.Errorf("concurrent GetActions() failed: %v", err)
				return
			}
			if !reflect.DeepEqual(col.Values, first.Values) {
				t.Error("concurrent GetActions() returned different output")
			}
		}()
	}
	wg.Wait()
}

// TestGetActionsUnknownColumn verifies a bad column reference aborts the call
func TestGetActionsUnknownColumn(t *testing.T) {
	engine, err := New("out", "default", [][]string{
		{"score > 1", "ok"},
		{"missing > 1", "bad"},
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	col, err := engine.GetActions(scoreTable(t, 1, 2))
	if err == nil {
		t.Fatal("GetActions() should fail for an unknown column")
	}
	if col != nil {
		t.Error("no partial output should be returned")
	}

	var ee *EvaluationError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *EvaluationError, got %T", err)
	}
	if ee.Rule != 1 {
		t.Errorf("EvaluationError.Rule = %d, want 1", ee.Rule)
	}
	if !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("expected ErrUnknownColumn, got %v", err)
	}
}

// TestGetActionsNonBoolean verifies non-boolean conditions fail instead of falling back
func TestGetActionsNonBoolean(t *testing.T) {
	testCases := []struct {
		name      string
		condition string
		wantRow   int
	}{
		{"String literal", `"yes"`, -1},
		{"Integer column as condition", `score`, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			engine, err := New("out", "default", [][]string{{tc.condition, "x"}})
			if err != nil {
				t.Fatalf("New() failed: %v", err)
			}

			_, err = engine.GetActions(scoreTable(t, int64(1), int64(2)))
			if !errors.Is(err, ErrNonBooleanCondition) {
				t.Fatalf("expected ErrNonBooleanCondition, got %v", err)
			}

			var ee *EvaluationError
			if !errors.As(err, &ee) {
				t.Fatalf("expected *EvaluationError, got %T", err)
			}
			if ee.Row != tc.wantRow {
				t.Errorf("EvaluationError.Row = %d, want %d", ee.Row, tc.wantRow)
			}
		})
	}
}

// TestGetActionsReportsHighestPriorityFailure verifies errors are deterministic
func TestGetActionsReportsHighestPriorityFailure(t *testing.T) {
	engine, err := New("out", "default", [][]string{
		{"score > 0", "ok"},
		{"first_missing > 0", "a"},
		{"second_missing > 0", "b"},
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	for i := 0; i < 20; i++ {
		_, err := engine.GetActions(scoreTable(t, 1))
		var ee *EvaluationError
		if !errors.As(err, &ee) {
			t.Fatalf("expected *EvaluationError, got %v", err)
		}
		if ee.Rule != 1 {
			t.Fatalf("EvaluationError.Rule = %d, want 1", ee.Rule)
		}
	}
}

// TestGetActionsSQLDialect verifies SQL-style conditions through the engine
func TestGetActionsSQLDialect(t *testing.T) {
	engine, err := New("action", "high", [][]string{
		{"model1 + model2 < 50", "low"},
		{"(model1 + model2 >= 50) and model3 > 50", "high"},
		{"(model1 + model2 < 99) AND (model1 + model2 >= 50)", "medium"},
		{"model1 + model2 > 99", "high"},
	}, WithDialect(DialectSQL))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	table, err := NewTableFromColumns(
		[]string{"model1", "model2", "model3"},
		[][]any{
			{int64(0), int64(25), int64(25), int64(50)},
			{int64(40), int64(40), int64(40), int64(50)},
			{int64(100), int64(100), int64(40), int64(40)},
		},
	)
	if err != nil {
		t.Fatalf("NewTableFromColumns() failed: %v", err)
	}

	col, err := engine.GetActions(table)
	if err != nil {
		t.Fatalf("GetActions() failed: %v", err)
	}
	assertStrings(t, col, []string{"low", "high", "medium", "high"})
}

// TestDecideReportsDecisions verifies the per-row decision detail
func TestDecideReportsDecisions(t *testing.T) {
	engine := bucketEngine(t)

	report, err := engine.Decide(scoreTable(t, 95, 60, 10))
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}

	want := []Decision{
		{Row: 0, Rule: 0, Action: "high", Value: "high"},
		{Row: 1, Rule: 1, Action: "medium", Value: "medium"},
		{Row: 2, Rule: DefaultRule, Action: "low", Value: "low"},
	}
	if !reflect.DeepEqual(report.Decisions, want) {
		t.Errorf("Decisions = %+v, want %+v", report.Decisions, want)
	}
}

// TestExecuteMatchesGetActions verifies the host-binding entry point
func TestExecuteMatchesGetActions(t *testing.T) {
	engine := bucketEngine(t)
	table := scoreTable(t, 0, 90)

	a, err := engine.GetActions(table)
	if err != nil {
		t.Fatalf("GetActions() failed: %v", err)
	}
	b, err := engine.Execute(table)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Execute() = %v, GetActions() = %v", b, a)
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	calls int
	errs  int
	rows  int
}

func (o *recordingObserver) ObserveDecision(key string, report *Report, elapsed time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if err != nil {
		o.errs++
		return
	}
	o.rows += report.Column.Len()
}

// TestObserverNotified verifies observers see successes and failures
func TestObserverNotified(t *testing.T) {
	obs := &recordingObserver{}
	engine := bucketEngine(t, WithObserver(obs))

	if _, err := engine.GetActions(scoreTable(t, 1, 2, 3)); err != nil {
		t.Fatalf("GetActions() failed: %v", err)
	}

	bad, err := New("out", "x", [][]string{{"nope > 1", "y"}}, WithObserver(obs))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if _, err := bad.GetActions(scoreTable(t, 1)); err == nil {
		t.Fatal("expected evaluation failure")
	}

	if obs.calls != 2 || obs.errs != 1 || obs.rows != 3 {
		t.Errorf("observer saw calls=%d errs=%d rows=%d, want 2/1/3", obs.calls, obs.errs, obs.rows)
	}
}

type stubEvaluator struct {
	results map[string][]bool
}

func (s stubEvaluator) Evaluate(condition string, t *Table) ([]bool, error) {
	col, ok := s.results[condition]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCondition, condition)
	}
	return col, nil
}

// TestWithEvaluator verifies the expression engine is pluggable
func TestWithEvaluator(t *testing.T) {
	ev := stubEvaluator{results: map[string][]bool{
		"A": {true, false, false},
		"B": {true, true, false},
	}}

	engine, err := New("out", "none", [][]string{{"A", "a"}, {"B", "b"}}, WithEvaluator(ev))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	col, err := engine.GetActions(scoreTable(t, 1, 2, 3))
	if err != nil {
		t.Fatalf("GetActions() failed: %v", err)
	}
	assertStrings(t, col, []string{"a", "b", "none"})
}

// TestWithEvaluatorWrongLength verifies a misbehaving evaluator cannot misalign rows
func TestWithEvaluatorWrongLength(t *testing.T) {
	ev := stubEvaluator{results: map[string][]bool{"A": {true}}}

	engine, err := New("out", "none", [][]string{{"A", "a"}}, WithEvaluator(ev))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if _, err := engine.GetActions(scoreTable(t, 1, 2)); !IsEvaluationError(err) {
		t.Fatalf("expected EvaluationError, got %v", err)
	}
}

// TestDecideNilTable verifies a nil table is rejected
func TestDecideNilTable(t *testing.T) {
	engine := bucketEngine(t)
	if _, err := engine.Decide(nil); err == nil {
		t.Fatal("Decide(nil) should return an error")
	}
}
