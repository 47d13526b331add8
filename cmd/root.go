package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ebpfhollow/config"
	"ebpfhollow/hollow"
	"ebpfhollow/logger"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ebpf-hollow",
		Short:        "ebpf-hollow collects Kea DHCP eBPF metrics and publishes them to Hollow.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Config file (default: ./configs/config.yaml if present)")
	cmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output (same as --log-level debug)")

	cmd.AddCommand(
		monitorCmd(),
		convertCmd(),
		publishCmd(),
		visualizeCmd(),
		serveCmd(),
		checkCmd(),
		validateCmd(),
		diagnoseCmd(),
		historyCmd(),
	)

	return cmd
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// setup resolves the configuration of cmd and builds a logger writing to out.
func setup(cmd *cobra.Command, out io.Writer) (*config.Config, *zap.Logger, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cmd.Flags(), configFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewWithWriter(cfg.LogLevel, out)
	if err != nil {
		return nil, nil, fmt.Errorf("set up logger: %w", err)
	}
	return cfg, log.Logger, nil
}

// newPublisher picks the delivery mode: dry run, local drop, SFTP upload or
// the producer API, in that order.
func newPublisher(cfg *config.Config, log *zap.Logger) (hollow.Publisher, error) {
	switch {
	case cfg.DryRun:
		return &hollow.DryRunPublisher{Log: log}, nil
	case cfg.Local:
		return &hollow.LocalPublisher{LocalDir: cfg.HollowLocalDir, Log: log}, nil
	case cfg.SFTPHost != "":
		return &hollow.SFTPPublisher{
			Addr:           cfg.SFTPHost,
			User:           cfg.SFTPUser,
			KeyPath:        cfg.SFTPKey,
			KnownHostsFile: cfg.SFTPKnownHosts,
			RemoteDir:      cfg.SFTPDir,
			Log:            log,
		}, nil
	case cfg.ProducerURL != "":
		client := hollow.NewClient(cfg.ProducerURL, cfg.AuthToken, cfg.HTTPTimeout, log)
		return hollow.NewRemotePublisher(client, cfg.DatasetName, log), nil
	default:
		return nil, config.ErrNoProducer
	}
}
