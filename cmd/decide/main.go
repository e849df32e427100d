// Command decide evaluates a decision configuration against a file of rows.
//
// Usage:
//
//	# Assign an action to every row of a CSV file
//	decide run --config rules.toml --input rows.csv
//
//	# JSON output with the winning rule per row
//	decide run --config rules.yaml --input rows.json --format json --explain
//
//	# Check a configuration without evaluating it
//	decide validate --config rules.toml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liamcoop/decisions/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "decide",
		Short: "Evaluate prioritized decision rules over tabular data",
		Long: `decide loads a decision configuration (TOML, JSON or YAML) and assigns
one action to every row of an input table. Rules are tried in order; the first
true condition wins and rows no rule matches get the default action.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Configure(cmd.ErrOrStderr(), logger.FormatText)
			if verbose {
				logger.SetLevel(logger.LevelDebug)
			} else {
				logger.SetLevel(logger.LevelWarning)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log evaluation details to stderr")

	root.AddCommand(newRunCmd(), newValidateCmd())
	return root
}
