package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ebpfhollow/logger"
	"ebpfhollow/storage"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show section totals recorded by past collection iterations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Flush(log)

			if cfg.HistoryDB == "" {
				return errors.New("no history database; use --history-db")
			}
			section, _ := cmd.Flags().GetString("section")
			since, _ := cmd.Flags().GetDuration("since")
			showAggs, _ := cmd.Flags().GetBool("aggregates")

			store, err := storage.NewSQLite(cfg.HistoryDB, log)
			if err != nil {
				return err
			}
			defer store.Close()

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			return printHistory(cmd, store, section, from, showAggs)
		},
	}
	cmd.Flags().String("history-db", "", "SQLite file written by monitor --history-db")
	cmd.Flags().String("section", "", "Only show this section, e.g. \"Packet Drop Rate\"")
	cmd.Flags().Duration("since", 0, "Only show records newer than this (0: all)")
	cmd.Flags().Bool("aggregates", false, "Also show aggregate counters")
	return cmd
}

func printHistory(cmd *cobra.Command, store storage.Store, section string, from time.Time, showAggs bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	recs, err := store.Query(ctx, section, from, time.Time{})
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, "no records")
	}
	for _, r := range recs {
		fmt.Fprintf(out, "%s  %-28s %14s %-8s %d buckets  (%s)\n",
			r.Timestamp.Format(time.RFC3339), r.Section, humanize.Comma(r.Total), r.Unit,
			r.Buckets, humanize.Time(r.Timestamp))
	}
	if !showAggs {
		return nil
	}

	aggs, err := store.Aggregates(ctx, from, time.Time{})
	if err != nil {
		return err
	}
	if len(aggs) > 0 {
		fmt.Fprintln(out, "\nAggregates:")
	}
	for _, a := range aggs {
		fmt.Fprintf(out, "%s  %-28s %s\n", a.Timestamp.Format(time.RFC3339), a.Key, a.Value)
	}
	return nil
}
