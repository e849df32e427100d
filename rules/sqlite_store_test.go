package rules

import (
	"errors"
	"path/filepath"
	"testing"
)

var _ DecisionSetStore = (*SQLiteDecisionSetStore)(nil)

func newSQLiteStore(t *testing.T) (*SQLiteDecisionSetStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "decisions.db")
	store, err := NewSQLiteDecisionSetStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteDecisionSetStore() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestSQLiteStoreCRUD(t *testing.T) {
	store, _ := newSQLiteStore(t)

	ds := testDecisionSet("pricing", true)
	ds.Rules = append(ds.Rules, RuleDefinition{Condition: "score >= 50", Action: "medium"})
	if err := store.Add(ds); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if ds.ID == "" {
		t.Error("Add() should assign an ID")
	}
	if ds.Dialect != DialectCEL {
		t.Errorf("Add() dialect = %q, want cel", ds.Dialect)
	}

	err := store.Add(testDecisionSet("pricing", true))
	if !errors.Is(err, ErrDecisionSetExists) {
		t.Errorf("duplicate Add() error = %v, want ErrDecisionSetExists", err)
	}

	got, err := store.Get("pricing")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.ID != ds.ID || got.Key != "bucket" || !got.Active {
		t.Errorf("Get() = %+v", got)
	}
	if len(got.Rules) != 2 || got.Rules[1].Action != "medium" {
		t.Errorf("rules = %v", got.Rules)
	}
	if !got.CreatedAt.Equal(ds.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, ds.CreatedAt)
	}

	update := testDecisionSet("pricing", false)
	update.DefaultAction = "none"
	update.Dialect = DialectSQL
	if err := store.Update(update); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if update.ID != ds.ID {
		t.Errorf("Update() ID = %s, want %s", update.ID, ds.ID)
	}
	if !update.CreatedAt.Equal(ds.CreatedAt) {
		t.Errorf("Update() CreatedAt = %v, want %v", update.CreatedAt, ds.CreatedAt)
	}

	got, _ = store.Get("pricing")
	if got.DefaultAction != "none" || got.Dialect != DialectSQL || got.Active {
		t.Errorf("after Update() Get() = %+v", got)
	}

	if err := store.Delete("pricing"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get("pricing"); !errors.Is(err, ErrDecisionSetNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrDecisionSetNotFound", err)
	}
	if err := store.Delete("pricing"); !errors.Is(err, ErrDecisionSetNotFound) {
		t.Errorf("second Delete() error = %v, want ErrDecisionSetNotFound", err)
	}
	if err := store.Update(testDecisionSet("ghost", true)); !errors.Is(err, ErrDecisionSetNotFound) {
		t.Errorf("Update() of missing set error = %v, want ErrDecisionSetNotFound", err)
	}
}

func TestSQLiteStoreListActive(t *testing.T) {
	store, _ := newSQLiteStore(t)

	for _, ds := range []*DecisionSet{
		testDecisionSet("zeta", true),
		testDecisionSet("alpha", true),
		testDecisionSet("hidden", false),
	} {
		if err := store.Add(ds); err != nil {
			t.Fatalf("Add(%s) failed: %v", ds.Name, err)
		}
	}

	sets, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive() failed: %v", err)
	}
	if len(sets) != 2 || sets[0].Name != "alpha" || sets[1].Name != "zeta" {
		t.Errorf("ListActive() = %v, want [alpha zeta]", setNames(sets))
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	store, path := newSQLiteStore(t)
	if err := store.Add(testDecisionSet("pricing", true)); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteDecisionSetStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	engineSet, err := reopened.Get("pricing")
	if err != nil {
		t.Fatalf("Get() after reopen failed: %v", err)
	}
	engine, err := engineSet.Engine()
	if err != nil {
		t.Fatalf("Engine() failed: %v", err)
	}
	col, err := engine.GetActions(NewTableFromRows([]Row{{"score": 95}, {"score": 1}}))
	if err != nil {
		t.Fatalf("GetActions() failed: %v", err)
	}
	if col.Values[0] != "high" || col.Values[1] != "low" {
		t.Errorf("GetActions() = %v, want [high low]", col.Values)
	}
}

func TestSQLiteStoreEmptyPath(t *testing.T) {
	if _, err := NewSQLiteDecisionSetStore(""); err == nil {
		t.Error("NewSQLiteDecisionSetStore(\"\") should fail")
	}
}

func setNames(sets []*DecisionSet) []string {
	out := make([]string, len(sets))
	for i, ds := range sets {
		out[i] = ds.Name
	}
	return out
}
