package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ebpfhollow/config"
	"ebpfhollow/hollow"
	"ebpfhollow/logger"
)

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check connectivity to the Hollow producer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Flush(log)

			if cfg.ProducerURL == "" {
				return config.ErrNoProducer
			}
			attempts, _ := cmd.Flags().GetUint("attempts")
			delay, _ := cmd.Flags().GetDuration("delay")

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checking connection to Hollow producer at %s\n", cfg.ProducerURL)

			client := hollow.NewClient(cfg.ProducerURL, cfg.AuthToken, cfg.HTTPTimeout, log)
			conn, err := hollow.CheckConnectivity(cmd.Context(), client, attempts, delay)
			if err != nil {
				fmt.Fprintln(out, "Failed to connect to Hollow producer")
				return err
			}
			fmt.Fprintf(out, "Hollow producer status: %s\n", conn.Status)
			if conn.DatasetsErr != nil {
				fmt.Fprintf(out, "Could not list datasets: %v\n", conn.DatasetsErr)
				return nil
			}
			fmt.Fprintf(out, "Found %d datasets:\n", len(conn.Datasets))
			for _, ds := range conn.Datasets {
				version := "unknown"
				if len(ds.Version) > 0 {
					version = string(ds.Version)
				}
				fmt.Fprintf(out, "  - %s (version: %s)\n", ds.Name, version)
			}
			return nil
		},
	}
	config.AddProducerFlags(cmd.Flags())
	cmd.Flags().Uint("attempts", 3, "Connection attempts before giving up")
	cmd.Flags().Duration("delay", 2*time.Second, "Delay between connection attempts")
	return cmd
}
