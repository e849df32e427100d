package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/liamcoop/decisions/internal/logger"
	"github.com/liamcoop/decisions/rules"
)

type runFlags struct {
	config  string
	input   string
	output  string
	format  string
	dialect string
	explain bool
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Assign an action to every input row",
		Long: `Evaluate the configured rules against every row of the input and print
the resulting action column.

Input formats, chosen by extension:
  .json    array of objects
  .csv     header row; cells typed as integer, float, boolean or string
  .arrow   Arrow IPC stream

Examples:
  decide run --config rules.toml --input rows.csv
  decide run --config rules.json --input rows.arrow --format json --explain
  decide run --config legacy.toml --input rows.csv --dialect sql`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecide(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.config, "config", "c", "", "decision configuration file (.toml, .json, .yaml)")
	cmd.Flags().StringVarP(&flags.input, "input", "i", "", "input rows (.json, .csv, .arrow)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "write output to a file instead of stdout")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "text", "output format: text, csv, json")
	cmd.Flags().StringVar(&flags.dialect, "dialect", "", "override the condition dialect: cel, sql")
	cmd.Flags().BoolVar(&flags.explain, "explain", false, "include the winning rule for each row")
	cmd.MarkFlagRequired("config")
	cmd.MarkFlagRequired("input")

	return cmd
}

func runDecide(cmd *cobra.Command, flags runFlags) error {
	write, err := writerFor(flags.format)
	if err != nil {
		return err
	}

	cfg, err := rules.LoadConfig(flags.config)
	if err != nil {
		return err
	}

	opts := []rules.Option{rules.WithLogger(logger.Logger)}
	if flags.dialect != "" {
		d, err := rules.ParseDialect(flags.dialect)
		if err != nil {
			return err
		}
		opts = append(opts, rules.WithDialect(d))
	}

	engine, err := cfg.Engine(opts...)
	if err != nil {
		return err
	}

	table, err := readTable(flags.input)
	if err != nil {
		return err
	}
	logger.Debug("input loaded", "path", flags.input, "rows", table.Len(), "columns", table.Columns())

	start := time.Now()
	report, err := engine.Decide(table)
	if err != nil {
		return err
	}
	logger.Debug("decided", "rule_set", engine.RuleSet().String(), "elapsed", time.Since(start))

	out := cmd.OutOrStdout()
	if flags.output != "" {
		f, err := os.Create(flags.output)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	return write(out, report, flags.explain)
}
