package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/mitchellh/mapstructure"
)

// IndexColumn is the name of the synthesized row-position column
const IndexColumn = "index"

// Row maps a column name to a scalar value
type Row map[string]any

// Table is an ordered batch of rows with a fixed column set.
// The engine never writes to a caller's Table; per-call columns are layered
// on a derived view.
type Table struct {
	columns   []string
	positions map[string]int
	rows      []Row

	// per-call overlay
	constants map[string]any
	indexName string
}

// NewTable creates a table with an explicit column order
func NewTable(columns []string, rows []Row) (*Table, error) {
	positions := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := positions[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		positions[c] = i
	}
	return &Table{
		columns:   slices.Clone(columns),
		positions: positions,
		rows:      rows,
	}, nil
}

// NewTableFromRows creates a table whose columns are the sorted union of row keys
func NewTableFromRows(rows []Row) *Table {
	seen := make(map[string]struct{})
	var columns []string
	for _, r := range rows {
		for k := range r {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				columns = append(columns, k)
			}
		}
	}
	slices.Sort(columns)
	t, _ := NewTable(columns, rows)
	return t
}

// NewTableFromColumns creates a table from columnar data. All columns must
// have the same length.
func NewTableFromColumns(names []string, values [][]any) (*Table, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("got %d column names for %d columns", len(names), len(values))
	}
	n := 0
	if len(values) > 0 {
		n = len(values[0])
	}
	for i, col := range values {
		if len(col) != n {
			return nil, fmt.Errorf("column %q has %d values, expected %d", names[i], len(col), n)
		}
	}

	rows := make([]Row, n)
	for r := range rows {
		row := make(Row, len(names))
		for c, name := range names {
			row[name] = values[c][r]
		}
		rows[r] = row
	}
	return NewTable(names, rows)
}

// RowsFromJSON decodes a JSON array of objects. Integral numbers become
// int64 and other numbers float64.
func RowsFromJSON(data []byte) ([]Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode rows: %w", err)
	}

	rows := make([]Row, len(raw))
	for i, r := range raw {
		row := make(Row, len(r))
		for k, v := range r {
			row[k] = normalizeJSONValue(v)
		}
		rows[i] = row
	}
	return rows, nil
}

// NormalizeRow converts json.Number values in place
func NormalizeRow(r Row) Row {
	for k, v := range r {
		r[k] = normalizeJSONValue(v)
	}
	return r
}

func normalizeJSONValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// RowFromStruct flattens a typed record into a Row using its mapstructure tags
func RowFromStruct(v any) (Row, error) {
	out := map[string]any{}
	if err := mapstructure.Decode(v, &out); err != nil {
		return nil, fmt.Errorf("failed to convert record: %w", err)
	}
	return Row(out), nil
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Columns returns the column names in order, including any synthesized columns
func (t *Table) Columns() []string {
	return slices.Clone(t.columns)
}

// HasColumn reports whether name is a column of the table
func (t *Table) HasColumn(name string) bool {
	_, ok := t.positions[name]
	return ok
}

// Value returns the value of column at row. The boolean is false when the
// column does not exist; a missing value in an existing column is nil.
func (t *Table) Value(row int, column string) (any, bool) {
	if !t.HasColumn(column) {
		return nil, false
	}
	if t.indexName != "" && column == t.indexName {
		return int64(row), true
	}
	if v, ok := t.constants[column]; ok {
		return v, true
	}
	return t.rows[row][column], true
}

// derive returns a view sharing rows with t, with extra constant columns and,
// if requested, a synthesized index column. Existing columns are never replaced.
func (t *Table) derive(constants map[string]any, withIndex bool) *Table {
	d := &Table{
		columns:   slices.Clone(t.columns),
		positions: make(map[string]int, len(t.positions)+len(constants)+1),
		rows:      t.rows,
		constants: make(map[string]any, len(t.constants)+len(constants)),
		indexName: t.indexName,
	}
	for k, v := range t.positions {
		d.positions[k] = v
	}
	for k, v := range t.constants {
		d.constants[k] = v
	}

	names := make([]string, 0, len(constants))
	for name := range constants {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if d.HasColumn(name) {
			continue
		}
		d.positions[name] = len(d.columns)
		d.columns = append(d.columns, name)
		d.constants[name] = constants[name]
	}

	if withIndex && !d.HasColumn(IndexColumn) {
		d.positions[IndexColumn] = len(d.columns)
		d.columns = append(d.columns, IndexColumn)
		d.indexName = IndexColumn
	}
	return d
}

// Column is a named output column
type Column struct {
	Name   string `json:"name"`
	Values []any  `json:"values"`
}

// Len returns the number of values
func (c *Column) Len() int {
	return len(c.Values)
}

// Strings renders every value as text; nil becomes the empty string
func (c *Column) Strings() []string {
	out := make([]string, len(c.Values))
	for i, v := range c.Values {
		switch s := v.(type) {
		case nil:
			out[i] = ""
		case string:
			out[i] = s
		default:
			out[i] = fmt.Sprint(s)
		}
	}
	return out
}
