package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ebpfhollow/config"
	"ebpfhollow/diagnose"
	"ebpfhollow/hollow"
	"ebpfhollow/logger"
)

var errDiagnoseFailed = errors.New("diagnostics found problems")

func diagnoseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnose [metrics.json]",
		Short: "Troubleshoot the tracer, dashboard files, port and producer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Flush(log)

			var r diagnose.Report
			r.Tracer(cfg.TracerArgv(), cfg.TracerDir)
			if !cfg.NoFallback {
				r.SampleFile(cfg.SampleFile)
			}
			r.VizDir(cfg.VizDir)
			r.Port(cfg.DashboardPort)
			switch {
			case cfg.ProducerURL != "":
				r.Producer(cmd.Context(), hollow.NewClient(cfg.ProducerURL, cfg.AuthToken, cfg.HTTPTimeout, log))
			case cfg.Local:
				r.LocalHollow(cfg.HollowLocalDir)
			}
			if len(args) == 1 {
				r.Document(args[0])
			}

			out := cmd.OutOrStdout()
			for _, f := range r.Findings {
				fmt.Fprintln(out, f)
			}
			if r.Failed() {
				return errDiagnoseFailed
			}
			return nil
		},
	}
	config.AddProducerFlags(cmd.Flags())
	config.AddCollectionFlags(cmd.Flags())
	config.AddDashboardFlags(cmd.Flags())
	return cmd
}
