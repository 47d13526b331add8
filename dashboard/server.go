// Package dashboard serves the visualization directory with an
// auto-refreshing index page. Charts that do not exist yet are answered
// with a placeholder image instead of a 404.
package dashboard

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ebpfhollow/fsutil"
	"ebpfhollow/logger"
	"ebpfhollow/metrics"
	"ebpfhollow/render"
)

// RefreshSeconds is the page's meta refresh period.
const RefreshSeconds = 10

//go:embed index.html.tmpl
var indexSource string

var indexTemplate = template.Must(template.New("index").Parse(indexSource))

type chartEntry struct {
	ID    string `json:"id"`
	Src   string `json:"src"`
	Alt   string `json:"alt"`
	Title string `json:"-"`
}

// Server is the dashboard HTTP server.
type Server struct {
	Dir  string
	Port int
	Log  *zap.Logger

	started time.Time
}

// New returns a server rooted at dir.
func New(dir string, port int, log *zap.Logger) *Server {
	return &Server{Dir: dir, Port: port, Log: log, started: time.Now()}
}

// URL is where the dashboard is reachable locally.
func (s *Server) URL() string {
	return fmt.Sprintf("http://localhost:%d/", s.Port)
}

// RenderIndex returns the dashboard page.
func RenderIndex() ([]byte, error) {
	charts := make([]chartEntry, 0, len(render.Categories))
	for _, c := range render.Categories {
		charts = append(charts, chartEntry{
			ID:    strings.ReplaceAll(c.Name, "_", "-") + "-container",
			Src:   render.LatestFile(c.Name),
			Alt:   c.Title,
			Title: c.Title,
		})
	}
	var buf bytes.Buffer
	err := indexTemplate.Execute(&buf, struct {
		Refresh int
		Charts  []chartEntry
	}{RefreshSeconds, charts})
	if err != nil {
		return nil, fmt.Errorf("render index: %w", err)
	}
	return buf.Bytes(), nil
}

// Prepare creates the directory, seeds placeholder charts and writes
// index.html. It is safe to call while another process serves the directory.
func (s *Server) Prepare() error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create viz dir: %w", err)
	}
	if _, err := render.SeedPlaceholders(s.Dir, s.Log); err != nil {
		// the server still answers missing charts with the placeholder
		s.Log.Warn("failed to create placeholder images, dashboard may show errors initially", zap.Error(err))
	}
	page, err := RenderIndex()
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(s.Dir, "index.html"), page, 0o644)
}

// Run prepares the directory and serves until ctx is cancelled. When the
// port is taken it assumes a dashboard is already running there, logs a
// warning and returns nil.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Prepare(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			s.Log.Warn("port already in use, assuming dashboard is running", zap.Int("port", s.Port))
			return nil
		}
		return fmt.Errorf("listen on port %d: %w", s.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve answers requests on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.Log.Info("dashboard server started", zap.String("url", s.URL()), zap.String("addr", ln.Addr().String()), zap.String("dir", s.Dir))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("dashboard shutdown: %w", err)
		}
		s.Log.Info("dashboard server stopped")
		return nil
	}
}

// Handler routes /healthz, /metrics and the visualization files.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", s.fileHandler())
	return requestLogger(s.Log, mux)
}

func (s *Server) fileHandler() http.Handler {
	files := http.FileServer(http.Dir(s.Dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)
		if !strings.HasSuffix(name, ".png") {
			if name == "/" || name == "/index.html" {
				metrics.Get().RecordDashboardRequest("index")
			}
			files.ServeHTTP(w, r)
			return
		}

		if !fsutil.Exists(filepath.Join(s.Dir, filepath.FromSlash(name))) {
			logger.FromContext(r.Context(), s.Log).Debug("chart not yet available, serving placeholder", zap.String("path", name))
			metrics.Get().RecordDashboardRequest("placeholder")
			setNoCache(w)
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(render.PlaceholderPNG())
			return
		}
		if strings.HasSuffix(name, "_latest.png") {
			setNoCache(w)
		}
		metrics.Get().RecordDashboardRequest("file")
		files.ServeHTTP(w, r)
	})
}

func setNoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// Health is the /healthz body.
type Health struct {
	Status string `json:"status"`
	Dir    string `json:"dir"`
	Charts int    `json:"charts"` // latest charts present on disk
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	metrics.Get().RecordDashboardRequest("health")
	h := Health{Status: "ok", Dir: s.Dir, Uptime: time.Since(s.started).Round(time.Second).String()}
	for _, c := range render.Categories {
		if fsutil.Exists(filepath.Join(s.Dir, render.LatestFile(c.Name))) {
			h.Charts++
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h)
}
