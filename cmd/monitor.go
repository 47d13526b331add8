package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ebpfhollow/collector"
	"ebpfhollow/config"
	"ebpfhollow/dashboard"
	"ebpfhollow/logger"
	"ebpfhollow/pipeline"
	"ebpfhollow/preflight"
	"ebpfhollow/render"
	"ebpfhollow/storage"
)

func monitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Continuously collect eBPF metrics and push them to Hollow",
		Long: `Runs the tracer for one collection interval at a time, converts its
report to JSON, optionally renders charts and serves the dashboard, and
publishes every document to the Hollow producer. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, os.Stdout)
			if err != nil {
				return err
			}
			defer logger.Flush(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runMonitor(ctx, cfg, log)
		},
	}
	config.AddProducerFlags(cmd.Flags())
	config.AddCollectionFlags(cmd.Flags())
	config.AddDashboardFlags(cmd.Flags())
	return cmd
}

func runMonitor(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if cfg.RequireRoot {
		if err := preflight.RequireRoot(); err != nil {
			return err
		}
	}
	if cfg.TargetProcess != "" {
		pids, err := preflight.RequireProcess(cfg.TargetProcess)
		if err != nil {
			return err
		}
		log.Info("target process found", zap.String("process", cfg.TargetProcess), zap.Ints("pids", pids))
	}

	pub, err := newPublisher(cfg, log)
	if err != nil {
		return err
	}

	log.Info("starting eBPF to Hollow integration",
		zap.String("producer", cfg.ProducerURL),
		zap.String("dataset", cfg.DatasetName),
		zap.String("mode", pub.Mode()),
		zap.Duration("collection_interval", cfg.CollectionInterval))

	colls := []collector.Collector{
		collector.NewTracerCollector(cfg.TracerArgv(), cfg.TracerDir, cfg.CollectionInterval, cfg.TracerGrace, log),
	}
	if !cfg.NoFallback {
		colls = append(colls, &collector.SampleCollector{Path: cfg.SampleFile, Log: log})
	}

	loop := &pipeline.Loop{
		Opts: pipeline.Options{
			OutputDir:          cfg.OutputDir,
			Cleanup:            cfg.Cleanup,
			CollectionInterval: cfg.CollectionInterval,
			RetryInterval:      cfg.RetryInterval,
			MaxPublishFailures: cfg.MaxPublishFailures,
			Visualize:          cfg.Visualize,
			VizDir:             cfg.VizDir,
		},
		Collector: &collector.Chain{Collectors: colls, Log: log},
		Publisher: pub,
		Renderer:  render.New(log),
		Log:       log,
	}

	if cfg.HistoryDB != "" {
		store, err := storage.NewSQLite(cfg.HistoryDB, log)
		if err != nil {
			return err
		}
		defer store.Close()
		loop.Store = store
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Dashboard {
		// without preload the dashboard comes up once the first charts exist
		ready := make(chan struct{})
		var once sync.Once
		open := func() { once.Do(func() { close(ready) }) }
		if cfg.DashboardPreload || !cfg.Visualize {
			log.Info("pre-initializing dashboard with placeholders")
			open()
		} else {
			loop.OnVisualized = func(*pipeline.Iteration) { open() }
		}

		srv := dashboard.New(cfg.VizDir, cfg.DashboardPort, log)
		g.Go(func() error {
			select {
			case <-ready:
			case <-gctx.Done():
				return nil
			}
			// the dashboard is optional; monitoring goes on without it
			if err := srv.Run(gctx); err != nil {
				log.Error("failed to start dashboard server", zap.Int("port", cfg.DashboardPort), zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		return loop.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("monitoring stopped", zap.Error(err))
		return err
	}
	st := loop.Stats()
	log.Info("eBPF to Hollow integration complete",
		zap.Int("iterations", st.Iterations),
		zap.Int("succeeded", st.Succeeded),
		zap.Int("failed", st.Failed))
	return nil
}
