package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/liamcoop/decisions/rules"
)

func newValidateCmd() *cobra.Command {
	var config, dialect string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a decision configuration",
		Long: `Load a decision configuration, parse every condition and print a summary
of its rules. Column references are not resolved; that needs input data.

Examples:
  decide validate --config rules.toml
  decide validate --config legacy.yaml --dialect sql`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd, config, dialect)
		},
	}

	cmd.Flags().StringVarP(&config, "config", "c", "", "decision configuration file (.toml, .json, .yaml)")
	cmd.Flags().StringVar(&dialect, "dialect", "", "override the condition dialect: cel, sql")
	cmd.MarkFlagRequired("config")

	return cmd
}

func validateConfig(cmd *cobra.Command, path, dialectFlag string) error {
	cfg, err := rules.LoadConfig(path)
	if err != nil {
		return err
	}
	rs, err := cfg.RuleSet()
	if err != nil {
		return err
	}

	if dialectFlag == "" {
		dialectFlag = cfg.Dialect
	}
	dialect, err := rules.ParseDialect(dialectFlag)
	if err != nil {
		return err
	}
	ev := rules.NewCELEvaluator(rules.WithConditionDialect(dialect))

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d rules, default %q, dialect %s\n", rs.Key(), rs.Len(), rs.DefaultAction(), dialect)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	invalid := 0
	for i, r := range rs.Rules() {
		status := "ok"
		if err := ev.CheckSyntax(r.Condition); err != nil {
			status = err.Error()
			invalid++
		}
		fmt.Fprintf(tw, "  %d\t%s\t-> %s\t%s\n", i, r.Condition, r.Action, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if invalid > 0 {
		return &rules.ConfigError{Path: path, Err: fmt.Errorf("%d of %d conditions are invalid", invalid, rs.Len())}
	}
	return nil
}
