package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/liamcoop/decisions/rules"
)

type reportWriter func(w io.Writer, report *rules.Report, explain bool) error

func writerFor(format string) (reportWriter, error) {
	switch format {
	case "text", "":
		return writeText, nil
	case "csv":
		return writeCSV, nil
	case "json":
		return writeJSON, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (use: text, csv, json)", format)
	}
}

func ruleLabel(d rules.Decision) string {
	if !d.Matched() {
		return "default"
	}
	return strconv.Itoa(d.Rule)
}

func writeText(w io.Writer, report *rules.Report, explain bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	strs := report.Column.Strings()

	if explain {
		fmt.Fprintf(tw, "ROW\tRULE\t%s\n", report.Column.Name)
		for i, d := range report.Decisions {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", d.Row, ruleLabel(d), strs[i])
		}
	} else {
		fmt.Fprintf(tw, "ROW\t%s\n", report.Column.Name)
		for i, s := range strs {
			fmt.Fprintf(tw, "%d\t%s\n", i, s)
		}
	}
	return tw.Flush()
}

func writeCSV(w io.Writer, report *rules.Report, explain bool) error {
	cw := csv.NewWriter(w)
	strs := report.Column.Strings()

	header := []string{report.Column.Name}
	if explain {
		header = []string{"row", "rule", report.Column.Name}
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for i, d := range report.Decisions {
		record := []string{strs[i]}
		if explain {
			record = []string{strconv.Itoa(d.Row), ruleLabel(d), strs[i]}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonReport struct {
	Key       string           `json:"key"`
	Values    []any            `json:"values"`
	Decisions []rules.Decision `json:"decisions,omitempty"`
}

func writeJSON(w io.Writer, report *rules.Report, explain bool) error {
	out := jsonReport{Key: report.Column.Name, Values: report.Column.Values}
	if explain {
		out.Decisions = report.Decisions
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
