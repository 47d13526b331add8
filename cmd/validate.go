package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"ebpfhollow/histogram"
	"ebpfhollow/logger"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <metrics.json>",
		Short: "Check the structure of a metrics document and summarize it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, err := setup(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Flush(log)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checking metrics file: %s\n", args[0])

			doc, err := histogram.Load(args[0])
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n\nMetrics file has issues.\n", err)
				return err
			}

			fmt.Fprintf(out, "Found %d metrics categories:\n", len(doc.Metrics))
			for _, s := range doc.Summarize() {
				fmt.Fprintf(out, "  - %s: %d total events\n", s.Name, s.Total)
				fmt.Fprintf(out, "    %d data points, %d non-zero values\n", s.Points, s.NonZero)
			}
			if len(doc.Aggregates) > 0 {
				keys := make([]string, 0, len(doc.Aggregates))
				for k := range doc.Aggregates {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				fmt.Fprintln(out, "\nAggregate metrics:")
				for _, k := range keys {
					fmt.Fprintf(out, "  - %s: %s\n", k, doc.Aggregates[k])
				}
			}
			fmt.Fprintln(out, "\nMetrics file looks valid!")
			return nil
		},
	}
}
