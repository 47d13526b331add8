// Package diagnose runs the troubleshooting checks behind the diagnose
// command: tracer availability, dashboard files, dashboard port, producer
// reachability and metrics documents.
package diagnose

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"ebpfhollow/fsutil"
	"ebpfhollow/histogram"
	"ebpfhollow/hollow"
	"ebpfhollow/render"
)

// PlaceholderSize is the size under which a latest chart is assumed to be
// a placeholder rather than real data.
const PlaceholderSize = 5000

// Level grades a finding.
type Level int

const (
	OK Level = iota
	Warn
	Fail
)

func (l Level) Symbol() string {
	switch l {
	case OK:
		return "✓"
	case Warn:
		return "⚠"
	default:
		return "✗"
	}
}

// Finding is the outcome of one check.
type Finding struct {
	Check  string
	Level  Level
	Detail string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s %s: %s", f.Level.Symbol(), f.Check, f.Detail)
}

// Report collects findings in the order they were made.
type Report struct {
	Findings []Finding
}

func (r *Report) add(check string, level Level, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{Check: check, Level: level, Detail: fmt.Sprintf(format, args...)})
}

// Failed reports whether any check failed outright.
func (r *Report) Failed() bool {
	for _, f := range r.Findings {
		if f.Level == Fail {
			return true
		}
	}
	return false
}

// Tracer checks that the tracer's interpreter is on PATH and that its
// script arguments exist in dir.
func (r *Report) Tracer(argv []string, dir string) {
	if len(argv) == 0 {
		r.add("tracer", Fail, "no tracer command configured")
		return
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		r.add("tracer", Fail, "%s not found in PATH", argv[0])
		return
	}
	for _, arg := range argv[1:] {
		if strings.HasPrefix(arg, "-") || filepath.Ext(arg) == "" {
			continue
		}
		path := arg
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, arg)
		}
		if !fsutil.Exists(path) {
			r.add("tracer", Fail, "%s not found; metrics collection will fall back to sample data", path)
			return
		}
	}
	r.add("tracer", OK, "%s is available", strings.Join(argv, " "))
}

// SampleFile checks the configured fallback report. An empty path means the
// bundled sample, which is always present.
func (r *Report) SampleFile(path string) {
	if path == "" {
		r.add("fallback", OK, "bundled sample metrics available")
		return
	}
	fi, err := os.Stat(path)
	if err != nil {
		r.add("fallback", Warn, "sample file %s unreadable: %v", path, err)
		return
	}
	r.add("fallback", OK, "sample file %s (%s)", path, humanize.Bytes(uint64(fi.Size())))
}

// Port reports whether something already listens on the dashboard port.
func (r *Report) Port(port int) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 500*time.Millisecond)
	if err != nil {
		r.add("port", OK, "port %d is available", port)
		return
	}
	conn.Close()
	r.add("port", Warn, "port %d is already in use (possibly by the dashboard server)", port)
}

// VizDir inspects the dashboard directory.
func (r *Report) VizDir(dir string) {
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		r.add("visualizations", Fail, "directory does not exist: %s", dir)
		return
	}

	var missing []string
	withData, placeholders := 0, 0
	for _, c := range render.Categories {
		name := render.LatestFile(c.Name)
		fi, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			missing = append(missing, name)
			continue
		}
		if fi.Size() < PlaceholderSize {
			placeholders++
		} else {
			withData++
		}
	}
	if len(missing) == 0 {
		r.add("visualizations", OK, "all %d expected visualization files exist", len(render.Categories))
	} else {
		r.add("visualizations", Warn, "missing %d visualization files: %s", len(missing), strings.Join(missing, ", "))
	}
	r.add("visualizations", OK, "%d with real data, %d placeholders", withData, placeholders)

	if fsutil.Exists(filepath.Join(dir, "index.html")) {
		r.add("dashboard", OK, "index.html exists")
	} else {
		r.add("dashboard", Fail, "index.html not found in %s", dir)
	}
}

// Producer checks the remote producer's status endpoint.
func (r *Report) Producer(ctx context.Context, c *hollow.Client) {
	st, err := c.Status(ctx)
	if err != nil {
		r.add("producer", Fail, "could not connect to Hollow producer at %s: %v", c.BaseURL, err)
		return
	}
	r.add("producer", OK, "Hollow producer reachable at %s (status %s)", c.BaseURL, st.Status)
}

// LocalHollow checks for a hollow-local checkout.
func (r *Report) LocalHollow(dir string) {
	script := filepath.Join(dir, hollow.ProducerScript)
	if fsutil.Exists(script) {
		r.add("hollow-local", OK, "local Hollow producer found at %s", dir)
		return
	}
	r.add("hollow-local", Warn, "local Hollow producer not found at %s", dir)
}

// Document validates a metrics document.
func (r *Report) Document(path string) {
	doc, err := histogram.Load(path)
	if err == nil {
		err = doc.Validate()
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.add("document", Fail, "metrics JSON file not found: %s", path)
			return
		}
		r.add("document", Fail, "%s has no usable metrics data: %v", path, err)
		return
	}
	points, nonZero := 0, 0
	for _, s := range doc.Summarize() {
		points += s.Points
		nonZero += s.NonZero
	}
	r.add("document", OK, "%s contains %d metrics categories, %d data points, %d non-zero",
		path, len(doc.Metrics), points, nonZero)
}
