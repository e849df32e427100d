package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/liamcoop/decisions/arrowtable"
	"github.com/liamcoop/decisions/rules"
)

// readTable loads an input file, choosing the reader by extension
func readTable(path string) (*rules.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
		rows, err := rules.RowsFromJSON(data)
		if err != nil {
			return nil, err
		}
		return rules.NewTableFromRows(rows), nil
	case ".csv":
		return readCSV(f)
	case ".arrow", ".arrows", ".ipc":
		return arrowtable.ReadIPC(f)
	default:
		return nil, fmt.Errorf("unsupported input format %q (use .json, .csv or .arrow)", ext)
	}
}

// readCSV takes the first record as the header and infers a type per cell
func readCSV(r io.Reader) (*rules.Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv input has no header")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	var rows []rules.Row
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		row := make(rules.Row, len(header))
		for i, name := range header {
			row[name] = inferValue(record[i])
		}
		rows = append(rows, row)
	}
	return rules.NewTable(header, rows)
}

// inferValue types a csv cell: empty is null, then int64, float64, bool, string
func inferValue(s string) any {
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
