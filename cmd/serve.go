package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ebpfhollow/config"
	"ebpfhollow/dashboard"
	"ebpfhollow/logger"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard over an existing visualization directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, os.Stdout)
			if err != nil {
				return err
			}
			defer logger.Flush(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return dashboard.New(cfg.VizDir, cfg.DashboardPort, log).Run(ctx)
		},
	}
	config.AddDashboardFlags(cmd.Flags())
	return cmd
}
