package rules

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresDecisionSetStore implements DecisionSetStore backed by PostgreSQL.
// Rules are stored as a JSONB array of [condition, action] pairs.
type PostgresDecisionSetStore struct {
	db *sql.DB
}

// NewPostgresDecisionSetStore creates a new PostgreSQL-backed DecisionSetStore
func NewPostgresDecisionSetStore(db *sql.DB) *PostgresDecisionSetStore {
	return &PostgresDecisionSetStore{db: db}
}

const decisionSetColumns = `id, name, key, default_action, dialect, rules, active, created_at, updated_at`

// Add inserts a new decision set
func (s *PostgresDecisionSetStore) Add(ds *DecisionSet) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM decision_sets WHERE name = $1)
	`, ds.Name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check decision set existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDecisionSetExists, ds.Name)
	}

	rulesJSON, err := marshalRules(ds.Rules)
	if err != nil {
		return err
	}

	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	if ds.Dialect == "" {
		ds.Dialect = DialectCEL
	}
	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO decision_sets (id, name, key, default_action, dialect, rules, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ds.ID, ds.Name, ds.Key, ds.DefaultAction, string(ds.Dialect), rulesJSON, ds.Active,
		ds.CreatedAt, ds.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert decision set: %w", err)
	}

	return nil
}

// Get retrieves a decision set by name
func (s *PostgresDecisionSetStore) Get(name string) (*DecisionSet, error) {
	row := s.db.QueryRow(`
		SELECT `+decisionSetColumns+`
		FROM decision_sets
		WHERE name = $1
	`, name)

	ds, err := scanDecisionSet(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrDecisionSetNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision set: %w", err)
	}
	return ds, nil
}

// ListActive returns all active decision sets ordered by name
func (s *PostgresDecisionSetStore) ListActive() ([]*DecisionSet, error) {
	rows, err := s.db.Query(`
		SELECT ` + decisionSetColumns + `
		FROM decision_sets
		WHERE active = true
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active decision sets: %w", err)
	}
	defer rows.Close()

	var sets []*DecisionSet
	for rows.Next() {
		ds, err := scanDecisionSet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision set: %w", err)
		}
		sets = append(sets, ds)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decision sets: %w", err)
	}

	return sets, nil
}

// Update modifies an existing decision set
func (s *PostgresDecisionSetStore) Update(ds *DecisionSet) error {
	rulesJSON, err := marshalRules(ds.Rules)
	if err != nil {
		return err
	}

	if ds.Dialect == "" {
		ds.Dialect = DialectCEL
	}
	ds.UpdatedAt = time.Now()

	err = s.db.QueryRow(`
		UPDATE decision_sets
		SET key = $1, default_action = $2, dialect = $3, rules = $4, active = $5, updated_at = $6
		WHERE name = $7
		RETURNING id, created_at
	`, ds.Key, ds.DefaultAction, string(ds.Dialect), rulesJSON, ds.Active, ds.UpdatedAt, ds.Name).
		Scan(&ds.ID, &ds.CreatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrDecisionSetNotFound, ds.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to update decision set: %w", err)
	}

	return nil
}

// Delete removes a decision set
func (s *PostgresDecisionSetStore) Delete(name string) error {
	result, err := s.db.Exec(`
		DELETE FROM decision_sets
		WHERE name = $1
	`, name)
	if err != nil {
		return fmt.Errorf("failed to delete decision set: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrDecisionSetNotFound, name)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecisionSet(row rowScanner) (*DecisionSet, error) {
	var (
		ds        DecisionSet
		dialect   string
		rulesJSON []byte
	)
	if err := row.Scan(&ds.ID, &ds.Name, &ds.Key, &ds.DefaultAction, &dialect, &rulesJSON,
		&ds.Active, &ds.CreatedAt, &ds.UpdatedAt); err != nil {
		return nil, err
	}
	ds.Dialect = Dialect(dialect)

	defs, err := unmarshalRules(ds.Name, rulesJSON)
	if err != nil {
		return nil, err
	}
	ds.Rules = defs
	return &ds, nil
}

func unmarshalRules(name string, data []byte) ([]RuleDefinition, error) {
	var pairs [][]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("invalid rules for decision set %s: %w", name, err)
	}
	defs, err := RulesFromPairs(pairs)
	if err != nil {
		return nil, fmt.Errorf("invalid rules for decision set %s: %w", name, err)
	}
	return defs, nil
}

func marshalRules(defs []RuleDefinition) ([]byte, error) {
	pairs := make([][]string, len(defs))
	for i, r := range defs {
		pairs[i] = []string{r.Condition, r.Action}
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rules: %w", err)
	}
	return data, nil
}
