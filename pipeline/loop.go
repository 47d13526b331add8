// Package pipeline drives the collection loop: collect a report, convert it,
// optionally chart it, publish it, sleep, repeat until the context ends.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"ebpfhollow/collector"
	"ebpfhollow/fsutil"
	"ebpfhollow/histogram"
	"ebpfhollow/hollow"
	"ebpfhollow/logger"
	"ebpfhollow/metrics"
	"ebpfhollow/render"
	"ebpfhollow/storage"
)

// StampLayout names the files of one iteration.
const StampLayout = "20060102_150405"

// ErrTooManyPublishFailures stops the loop once the configured number of
// consecutive publish failures is reached.
var ErrTooManyPublishFailures = errors.New("too many consecutive publish failures")

// Options are the loop's knobs.
type Options struct {
	OutputDir          string // empty: a fresh temp dir per iteration
	Cleanup            bool   // remove temp dirs after each iteration
	CollectionInterval time.Duration
	RetryInterval      time.Duration
	MaxPublishFailures int // 0: never give up
	Visualize          bool
	VizDir             string
}

// Stats summarises the loop so far.
type Stats struct {
	State                      State
	Iterations                 int
	Succeeded                  int
	Failed                     int
	Fallbacks                  int
	PublishFailures            int
	ConsecutivePublishFailures int
	LastSuccess                time.Time
	LastError                  string
}

// Iteration is what one pass of the loop produced.
type Iteration struct {
	Number       int
	Stamp        string
	Dir          string
	Ephemeral    bool
	ReportFile   string
	DocumentFile string
	Document     *histogram.Document
	Fallback     bool
	Charts       []string
	Publish      *hollow.Result
	PublishErr   error
}

// Loop is the collection state machine. Collector is required; Publisher,
// Renderer and Store are optional.
type Loop struct {
	Opts      Options
	Collector collector.Collector
	Publisher hollow.Publisher
	Renderer  *render.Renderer
	Store     storage.Store
	Log       *zap.Logger
	Clock     func() time.Time

	// OnVisualized runs after every iteration that produced charts.
	OnVisualized func(*Iteration)

	mu    sync.Mutex
	stats Stats
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.stats.State = s
	l.mu.Unlock()
	l.Log.Debug("state change", zap.Stringer("state", s))
}

func (l *Loop) now() time.Time {
	if l.Clock == nil {
		return time.Now()
	}
	return l.Clock()
}

// Run iterates until ctx is cancelled, which is a clean stop and returns
// nil. The only error it returns is ErrTooManyPublishFailures.
func (l *Loop) Run(ctx context.Context) error {
	if l.Log == nil {
		l.Log = zap.NewNop()
	}
	defer l.setState(StateStopping)

	for n := 1; ; n++ {
		if ctx.Err() != nil {
			return nil
		}
		l.Log.Info("starting monitoring iteration", zap.Int("iteration", n))

		_, err := l.RunOnce(ctx, n)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrTooManyPublishFailures) {
			return err
		}

		wait := l.Opts.RetryInterval
		if err == nil {
			// the collection window already took CollectionInterval
			wait = max(0, l.Opts.CollectionInterval-l.Opts.RetryInterval)
			l.Log.Info("completed iteration, waiting for next cycle", zap.Int("iteration", n), zap.Duration("wait", wait))
		} else {
			l.Log.Error("iteration failed, retrying", zap.Int("iteration", n), zap.Duration("wait", wait), zap.Error(err))
		}

		l.setState(StateSleeping)
		if !sleep(ctx, wait) {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RunOnce performs a single iteration. Collection and conversion failures
// fail the iteration; visualization, history and publish failures are
// logged and recorded on the returned Iteration.
func (l *Loop) RunOnce(ctx context.Context, n int) (it *Iteration, err error) {
	if l.Log == nil {
		l.Log = zap.NewNop()
	}
	start := l.now()
	it = &Iteration{Number: n, Stamp: start.Format(StampLayout)}
	log := logger.WithIteration(l.Log, n, it.Stamp)

	defer func() {
		outcome := "success"
		l.mu.Lock()
		l.stats.Iterations++
		switch {
		case ctx.Err() != nil:
			outcome = "cancelled"
		case err != nil && !errors.Is(err, ErrTooManyPublishFailures):
			outcome = "failed"
			l.stats.Failed++
			l.stats.LastError = err.Error()
		default:
			l.stats.Succeeded++
			l.stats.LastSuccess = l.now()
		}
		l.mu.Unlock()
		metrics.Get().RecordIteration(outcome, time.Since(start))
		l.cleanup(it, log)
	}()

	if err := l.prepareDir(it); err != nil {
		return it, err
	}
	it.ReportFile = filepath.Join(it.Dir, "metrics_"+it.Stamp+".txt")
	it.DocumentFile = filepath.Join(it.Dir, "metrics_"+it.Stamp+".json")

	// COLLECTING
	if ctx.Err() != nil {
		return it, ctx.Err()
	}
	l.setState(StateCollecting)
	report, err := l.Collector.Collect(ctx)
	if err != nil {
		if ctx.Err() == nil {
			metrics.Get().RecordStageFailure("collect")
		}
		return it, fmt.Errorf("metrics collection failed: %w", err)
	}
	it.Fallback = report.Fallback
	if report.Fallback {
		metrics.Get().RecordFallback()
		l.mu.Lock()
		l.stats.Fallbacks++
		l.mu.Unlock()
		log.Warn("using sample metrics instead of a live trace", zap.String("source", report.Source))
	}
	if err := fsutil.WriteFileAtomic(it.ReportFile, report.Text, 0o644); err != nil {
		metrics.Get().RecordStageFailure("collect")
		return it, fmt.Errorf("save metrics report: %w", err)
	}
	log.Info("metrics collected", zap.String("file", it.ReportFile), zap.Int("bytes", len(report.Text)))

	// CONVERTING
	if ctx.Err() != nil {
		return it, ctx.Err()
	}
	l.setState(StateConverting)
	doc := histogram.FromReport(report.Text, filepath.Base(it.ReportFile), l.now(), log)
	if err := doc.Validate(); err != nil {
		metrics.Get().RecordStageFailure("convert")
		return it, fmt.Errorf("JSON conversion failed: %w", err)
	}
	if err := doc.Save(it.DocumentFile, true); err != nil {
		metrics.Get().RecordStageFailure("convert")
		return it, fmt.Errorf("JSON conversion failed: %w", err)
	}
	it.Document = doc
	log.Info("converted metrics to JSON", zap.String("file", it.DocumentFile), zap.Int("sections", len(doc.Metrics)))

	if l.Store != nil {
		if err := l.Store.Save(ctx, doc); err != nil {
			metrics.Get().RecordStageFailure("history")
			log.Warn("failed to record history", zap.Error(err))
		}
	}

	// VISUALIZING
	if l.Opts.Visualize && l.Renderer != nil {
		if ctx.Err() != nil {
			return it, ctx.Err()
		}
		l.setState(StateVisualizing)
		charts, err := l.Renderer.Render(doc, l.Opts.VizDir, it.Stamp, true)
		it.Charts = charts
		if err != nil {
			metrics.Get().RecordStageFailure("visualize")
			log.Warn("visualization failed", zap.Error(err))
		} else if l.OnVisualized != nil && len(charts) > 0 {
			l.OnVisualized(it)
		}
	}

	// PUBLISHING
	if l.Publisher == nil {
		return it, nil
	}
	if ctx.Err() != nil {
		return it, ctx.Err()
	}
	l.setState(StatePublishing)
	it.Publish, it.PublishErr = hollow.Deliver(ctx, l.Publisher, doc, hollow.PayloadFileFor(it.DocumentFile))
	metrics.Get().RecordPublish(l.Publisher.Mode(), it.PublishErr)
	return it, l.notePublish(it, log)
}

func (l *Loop) notePublish(it *Iteration, log *zap.Logger) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if it.PublishErr == nil {
		l.stats.ConsecutivePublishFailures = 0
		return nil
	}
	l.stats.PublishFailures++
	l.stats.ConsecutivePublishFailures++
	log.Error("failed to push to Hollow, continuing with next iteration",
		zap.Int("consecutive_failures", l.stats.ConsecutivePublishFailures),
		zap.Error(it.PublishErr))

	if limit := l.Opts.MaxPublishFailures; limit > 0 && l.stats.ConsecutivePublishFailures >= limit {
		return fmt.Errorf("%w (%d): %w", ErrTooManyPublishFailures, l.stats.ConsecutivePublishFailures, it.PublishErr)
	}
	return nil
}

func (l *Loop) prepareDir(it *Iteration) error {
	if l.Opts.OutputDir != "" {
		if err := os.MkdirAll(l.Opts.OutputDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		it.Dir = l.Opts.OutputDir
		return nil
	}
	dir, err := os.MkdirTemp("", "ebpf_metrics_"+it.Stamp+"_")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	it.Dir = dir
	it.Ephemeral = true
	return nil
}

// cleanup removes an ephemeral iteration dir when asked to. A user-supplied
// output dir is never touched.
func (l *Loop) cleanup(it *Iteration, log *zap.Logger) {
	if !l.Opts.Cleanup || !it.Ephemeral || it.Dir == "" {
		return
	}
	var result *multierror.Error
	for _, f := range []string{it.ReportFile, it.DocumentFile, hollow.PayloadFileFor(it.DocumentFile)} {
		if f == "" {
			continue
		}
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, err)
		}
	}
	if err := os.Remove(it.Dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		log.Warn("failed to clean up temporary files", zap.Error(err))
		return
	}
	log.Info("cleaned up temporary files", zap.String("dir", it.Dir))
}
