// Package arrowtable converts Apache Arrow record batches to and from the
// tables the decision engine evaluates.
package arrowtable

import (
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/apache/arrow/go/v18/arrow/memory"

	"github.com/liamcoop/decisions/rules"
)

// ErrUnsupportedType is returned for columns whose Arrow type has no scalar mapping
var ErrUnsupportedType = errors.New("unsupported arrow type")

// FromRecord copies a record batch into a table. Signed integers widen to
// int64, unsigned to uint64, floats to float64. Nulls become nil.
func FromRecord(rec arrow.Record) (*rules.Table, error) {
	names, values, err := columns(rec)
	if err != nil {
		return nil, err
	}
	return rules.NewTableFromColumns(names, values)
}

// ReadIPC reads every record batch of an Arrow IPC stream into one table
func ReadIPC(r io.Reader) (*rules.Table, error) {
	rdr, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open arrow stream: %w", err)
	}
	defer rdr.Release()

	fields := rdr.Schema().Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	values := make([][]any, len(fields))

	for rdr.Next() {
		_, batch, err := columns(rdr.Record())
		if err != nil {
			return nil, err
		}
		for i := range values {
			values[i] = append(values[i], batch[i]...)
		}
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read arrow stream: %w", err)
	}

	for i := range values {
		if values[i] == nil {
			values[i] = []any{}
		}
	}
	return rules.NewTableFromColumns(names, values)
}

// ToRecord builds a single-column record of strings named after the column.
// Nil values become nulls. The caller releases the record.
func ToRecord(col *rules.Column, mem memory.Allocator) arrow.Record {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	schema := arrow.NewSchema([]arrow.Field{
		{Name: col.Name, Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	sb := b.Field(0).(*array.StringBuilder)
	sb.Reserve(col.Len())
	strs := col.Strings()
	for i, v := range col.Values {
		if v == nil {
			sb.AppendNull()
			continue
		}
		sb.Append(strs[i])
	}
	return b.NewRecord()
}

// WriteIPC writes records as an Arrow IPC stream
func WriteIPC(w io.Writer, recs ...arrow.Record) error {
	if len(recs) == 0 {
		return errors.New("no records to write")
	}
	iw := ipc.NewWriter(w, ipc.WithSchema(recs[0].Schema()))
	for _, rec := range recs {
		if err := iw.Write(rec); err != nil {
			iw.Close()
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	return iw.Close()
}

func columns(rec arrow.Record) ([]string, [][]any, error) {
	n := int(rec.NumCols())
	names := make([]string, n)
	values := make([][]any, n)
	for i := 0; i < n; i++ {
		names[i] = rec.ColumnName(i)
		vals, err := scalars(rec.Column(i))
		if err != nil {
			return nil, nil, fmt.Errorf("column %q: %w", names[i], err)
		}
		values[i] = vals
	}
	return names, values, nil
}

func scalars(arr arrow.Array) ([]any, error) {
	out := make([]any, arr.Len())
	var at func(int) any

	switch a := arr.(type) {
	case *array.Int8:
		at = func(i int) any { return int64(a.Value(i)) }
	case *array.Int16:
		at = func(i int) any { return int64(a.Value(i)) }
	case *array.Int32:
		at = func(i int) any { return int64(a.Value(i)) }
	case *array.Int64:
		at = func(i int) any { return a.Value(i) }
	case *array.Uint8:
		at = func(i int) any { return uint64(a.Value(i)) }
	case *array.Uint16:
		at = func(i int) any { return uint64(a.Value(i)) }
	case *array.Uint32:
		at = func(i int) any { return uint64(a.Value(i)) }
	case *array.Uint64:
		at = func(i int) any { return a.Value(i) }
	case *array.Float32:
		at = func(i int) any { return float64(a.Value(i)) }
	case *array.Float64:
		at = func(i int) any { return a.Value(i) }
	case *array.String:
		at = func(i int) any { return a.Value(i) }
	case *array.LargeString:
		at = func(i int) any { return a.Value(i) }
	case *array.Boolean:
		at = func(i int) any { return a.Value(i) }
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, arr.DataType())
	}

	for i := range out {
		if arr.IsNull(i) {
			continue
		}
		out[i] = at(i)
	}
	return out, nil
}
