package cmd

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ebpfhollow/histogram"
	"ebpfhollow/logger"
)

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <report>",
		Short: "Convert an eBPF histogram report to a JSON metrics document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, err := setup(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Flush(log)

			in := args[0]
			out, _ := cmd.Flags().GetString("output")
			if out == "" {
				out = jsonPathFor(in)
			}
			pretty, _ := cmd.Flags().GetBool("pretty")

			doc, err := histogram.ConvertFile(in, out, pretty, log)
			if err != nil {
				return err
			}
			log.Info("converted metrics",
				zap.String("input", in),
				zap.String("output", out),
				zap.Int("sections", len(doc.Metrics)),
				zap.Int("aggregates", len(doc.Aggregates)))
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output JSON file (default: the input with a .json extension)")
	cmd.Flags().Bool("pretty", false, "Pretty-print the JSON output")
	return cmd
}

func jsonPathFor(in string) string {
	return strings.TrimSuffix(in, filepath.Ext(in)) + ".json"
}
