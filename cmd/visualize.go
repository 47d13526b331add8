package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ebpfhollow/histogram"
	"ebpfhollow/logger"
	"ebpfhollow/pipeline"
	"ebpfhollow/render"
)

func visualizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "visualize <metrics.json>",
		Short: "Render PNG charts from a metrics document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, err := setup(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Flush(log)

			doc, err := histogram.Load(args[0])
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("output-dir")
			latest, _ := cmd.Flags().GetBool("create-latest")
			stamp := time.Now().Format(pipeline.StampLayout)

			charts, err := render.New(log).Render(doc, dir, stamp, latest)
			if err != nil {
				return err
			}
			log.Info("visualizations created", zap.String("dir", dir), zap.Int("charts", len(charts)))
			for _, c := range charts {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
	cmd.Flags().String("output-dir", "visualizations", "Directory to save visualizations")
	cmd.Flags().Bool("create-latest", false, "Also refresh the <category>_latest.png copies")
	return cmd
}
