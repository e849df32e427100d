package rules

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteDecisionSetStore implements DecisionSetStore on an embedded SQLite
// database, for single-instance deployments without PostgreSQL.
type SQLiteDecisionSetStore struct {
	db *sql.DB
}

// NewSQLiteDecisionSetStore opens (or creates) the database at path and
// ensures the schema exists
func NewSQLiteDecisionSetStore(path string) (*SQLiteDecisionSetStore, error) {
	if path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteDecisionSetStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteDecisionSetStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS decision_sets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		key TEXT NOT NULL,
		default_action TEXT NOT NULL,
		dialect TEXT NOT NULL DEFAULT 'cel',
		rules TEXT NOT NULL DEFAULT '[]',
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_decision_sets_active ON decision_sets(active, name);
	`)
	return err
}

// Close closes the database
func (s *SQLiteDecisionSetStore) Close() error {
	return s.db.Close()
}

// Add inserts a new decision set
func (s *SQLiteDecisionSetStore) Add(ds *DecisionSet) error {
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

	_, err = s.db.Exec(`
		INSERT INTO decision_sets (id, name, key, default_action, dialect, rules, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ds.ID, ds.Name, ds.Key, ds.DefaultAction, string(ds.Dialect), string(rulesJSON), ds.Active,
		now.UnixNano(), now.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: decision_sets.name") {
			return fmt.Errorf("%w: %s", ErrDecisionSetExists, ds.Name)
		}
		return fmt.Errorf("failed to insert decision set: %w", err)
	}

	ds.CreatedAt = now
	ds.UpdatedAt = now
	return nil
}

// Get retrieves a decision set by name
func (s *SQLiteDecisionSetStore) Get(name string) (*DecisionSet, error) {
	row := s.db.QueryRow(`SELECT `+decisionSetColumns+` FROM decision_sets WHERE name = ?`, name)

	ds, err := scanSQLiteDecisionSet(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrDecisionSetNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision set: %w", err)
	}
	return ds, nil
}

// ListActive returns all active decision sets ordered by name
func (s *SQLiteDecisionSetStore) ListActive() ([]*DecisionSet, error) {
	rows, err := s.db.Query(`SELECT ` + decisionSetColumns + ` FROM decision_sets WHERE active = 1 ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active decision sets: %w", err)
	}
	defer rows.Close()

	var sets []*DecisionSet
	for rows.Next() {
		ds, err := scanSQLiteDecisionSet(rows)
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

// Update modifies an existing decision set, keeping its ID and CreatedAt
func (s *SQLiteDecisionSetStore) Update(ds *DecisionSet) error {
	rulesJSON, err := marshalRules(ds.Rules)
	if err != nil {
		return err
	}

	if ds.Dialect == "" {
		ds.Dialect = DialectCEL
	}
	now := time.Now()

	var createdAt int64
	err = s.db.QueryRow(`
		UPDATE decision_sets
		SET key = ?, default_action = ?, dialect = ?, rules = ?, active = ?, updated_at = ?
		WHERE name = ?
		RETURNING id, created_at
	`, ds.Key, ds.DefaultAction, string(ds.Dialect), string(rulesJSON), ds.Active, now.UnixNano(), ds.Name).
		Scan(&ds.ID, &createdAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrDecisionSetNotFound, ds.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to update decision set: %w", err)
	}

	ds.CreatedAt = time.Unix(0, createdAt)
	ds.UpdatedAt = now
	return nil
}

// Delete removes a decision set
func (s *SQLiteDecisionSetStore) Delete(name string) error {
	result, err := s.db.Exec(`DELETE FROM decision_sets WHERE name = ?`, name)
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

func scanSQLiteDecisionSet(row rowScanner) (*DecisionSet, error) {
	var (
		ds                   DecisionSet
		dialect, rulesJSON   string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&ds.ID, &ds.Name, &ds.Key, &ds.DefaultAction, &dialect, &rulesJSON,
		&ds.Active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	ds.Dialect = Dialect(dialect)
	ds.CreatedAt = time.Unix(0, createdAt)
	ds.UpdatedAt = time.Unix(0, updatedAt)

	defs, err := unmarshalRules(ds.Name, []byte(rulesJSON))
	if err != nil {
		return nil, err
	}
	ds.Rules = defs
	return &ds, nil
}
