package collector

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"ebpfhollow/childproc"
)

var (
	// ErrTracerTimeout means the tracer ignored the interrupt and had to be killed.
	ErrTracerTimeout = errors.New("tracer did not exit after interrupt")
	// ErrEmptyOutput means the tracer exited without printing a report.
	ErrEmptyOutput = errors.New("no metrics data collected (empty output)")
	// ErrNoCollector is returned by CollectFirst when every collector failed.
	ErrNoCollector = errors.New("all collectors failed")
)

//go:embed sample_metrics.txt
var bundledSample []byte

// Collector is the public contract any report source must satisfy.
type Collector interface {
	// Collect produces one report. It blocks for as long as the source
	// needs (a tracer runs for its whole collection window).
	Collect(ctx context.Context) (*Report, error)
	Name() string
}

// CollectFirst runs the collectors in order and returns the first report.
// A failing source is logged and the next one tried, which is how the
// sample fallback is chained behind the live tracer.
func CollectFirst(ctx context.Context, colls []Collector, log *zap.Logger) (*Report, error) {
	var errs []error
	for _, c := range colls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := c.Collect(ctx)
		if err == nil {
			return r, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("collector failed", zap.String("collector", c.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
	}
	return nil, fmt.Errorf("%w: %w", ErrNoCollector, errors.Join(errs...))
}

// Chain adapts an ordered list of collectors to a single Collector.
type Chain struct {
	Collectors []Collector
	Log        *zap.Logger
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) Collect(ctx context.Context) (*Report, error) {
	return CollectFirst(ctx, c.Collectors, c.Log)
}

// TracerCollector runs the tracer for a fixed window, interrupts it and
// keeps what it printed.
type TracerCollector struct {
	Argv     []string      // e.g. ["sudo", "python3", "kea_metrics.py"]
	Dir      string        // working directory; the tracer loads its probe source from there
	Duration time.Duration // collection window
	Grace    time.Duration // time allowed to exit after the interrupt
	Log      *zap.Logger
}

// NewTracerCollector returns a ready-to-use collector.
func NewTracerCollector(argv []string, dir string, duration, grace time.Duration, log *zap.Logger) *TracerCollector {
	return &TracerCollector{Argv: argv, Dir: dir, Duration: duration, Grace: grace, Log: log}
}

func (t *TracerCollector) Name() string { return "tracer" }

// Collect implements the Collector interface.
func (t *TracerCollector) Collect(ctx context.Context) (*Report, error) {
	t.Log.Info("starting eBPF metrics collection", zap.Strings("command", t.Argv), zap.Duration("duration", t.Duration))

	h, err := childproc.Start(t.Argv, t.Dir)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(t.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-h.Done():
		// exited on its own (e.g. no probes attached); whatever it printed is all we get
	case <-ctx.Done():
	}

	if err := h.RequestStop(); err != nil {
		t.Log.Warn("failed to interrupt tracer", zap.Int("pid", h.Pid()), zap.Error(err))
	}
	exited, waitErr := h.WaitTimeout(t.Grace)
	if !exited {
		if err := h.Kill(); err != nil {
			t.Log.Error("failed to kill tracer", zap.Int("pid", h.Pid()), zap.Error(err))
		}
		_, _ = h.WaitTimeout(t.Grace)
		return nil, fmt.Errorf("%w (pid %d, grace %s)", ErrTracerTimeout, h.Pid(), t.Grace)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	stdout, _ := h.Stdout()
	if waitErr != nil {
		stderr, _ := h.Stderr()
		t.Log.Debug("tracer exited with error", zap.Error(waitErr), zap.ByteString("stderr", bytes.TrimSpace(stderr)))
	}
	if len(bytes.TrimSpace(stdout)) == 0 {
		return nil, ErrEmptyOutput
	}
	return NewReport(t.Name(), stdout, false), nil
}

// SampleCollector serves a canned report: a file when Path is set, the
// bundled sample otherwise.
type SampleCollector struct {
	Path string
	Log  *zap.Logger
}

func (s *SampleCollector) Name() string { return "sample" }

func (s *SampleCollector) Collect(context.Context) (*Report, error) {
	if s.Path == "" {
		s.Log.Info("using bundled sample metrics")
		return NewReport(s.Name(), bundledSample, true), nil
	}
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read sample metrics: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("sample metrics %s: %w", s.Path, ErrEmptyOutput)
	}
	s.Log.Info("using sample metrics", zap.String("file", s.Path))
	return NewReport(s.Name(), raw, true), nil
}

// BundledSample returns the report shipped with the binary.
func BundledSample() []byte {
	return append([]byte(nil), bundledSample...)
}
