package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ebpfhollow/config"
	"ebpfhollow/histogram"
	"ebpfhollow/hollow"
	"ebpfhollow/logger"
)

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <metrics.json>",
		Short: "Convert a metrics document to the Hollow schema and publish it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Flush(log)

			if err := cfg.RequirePublishTarget(); err != nil {
				return err
			}
			pub, err := newPublisher(cfg, log)
			if err != nil {
				return err
			}

			doc, err := histogram.Load(args[0])
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("output")
			if out == "" {
				out = hollow.PayloadFileFor(args[0])
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := hollow.Deliver(ctx, pub, doc, out)
			if err != nil {
				log.Error("failed to publish metrics", zap.String("file", out), zap.Error(err))
				return err
			}
			log.Info("successfully processed metrics",
				zap.String("mode", res.Mode),
				zap.String("file", res.File),
				zap.Int64("version", res.Version))
			return nil
		},
	}
	cmd.Flags().String("output", "", "Wrapped output file (default: <input>_hollow.json)")
	config.AddProducerFlags(cmd.Flags())
	return cmd
}
