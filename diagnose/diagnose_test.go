package diagnose

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ebpfhollow/histogram"
	"ebpfhollow/hollow"
	"ebpfhollow/render"
)

func TestVizDir(t *testing.T) {
	dir := t.TempDir()
	_, err := render.SeedPlaceholders(dir, zap.NewNop())
	require.NoError(t, err)

	var r Report
	r.VizDir(dir)
	assert.True(t, r.Failed(), "index.html is missing")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>"), 0o644))
	r = Report{}
	r.VizDir(dir)
	assert.False(t, r.Failed())
	assert.Equal(t, OK, r.Findings[0].Level)
}

func TestVizDirMissing(t *testing.T) {
	var r Report
	r.VizDir(filepath.Join(t.TempDir(), "nope"))
	require.Len(t, r.Findings, 1)
	assert.Equal(t, Fail, r.Findings[0].Level)
}

func TestPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	var r Report
	r.Port(port)
	assert.Equal(t, Warn, r.Findings[0].Level)

	ln.Close()
	r = Report{}
	r.Port(port)
	assert.Equal(t, OK, r.Findings[0].Level)
}

func TestDocument(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	doc := histogram.NewDocument("2025-03-14T09:26:53Z", "m.txt")
	doc.Metrics["Cpu Usage"] = histogram.Section{
		Data:  []histogram.Bucket{{Range: histogram.Range{Lower: 0, Upper: 1}, Count: 3, Unit: "cores"}},
		Total: 3,
	}
	require.NoError(t, doc.Save(good, false))
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"aggregates":{}}`), 0o644))

	var r Report
	r.Document(good)
	assert.False(t, r.Failed())
	assert.Contains(t, r.Findings[0].Detail, "1 metrics categories, 1 data points, 1 non-zero")

	r.Document(bad)
	r.Document(filepath.Join(dir, "missing.json"))
	assert.True(t, r.Failed())
	assert.Contains(t, r.Findings[2].Detail, "not found")
}

func TestTracer(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kea_metrics.py"), []byte("#"), 0o644))

	var r Report
	r.Tracer([]string{"sh", "kea_metrics.py"}, dir)
	assert.Equal(t, OK, r.Findings[0].Level)

	r = Report{}
	r.Tracer([]string{"sh", "missing.py"}, dir)
	assert.Equal(t, Fail, r.Findings[0].Level)

	r = Report{}
	r.Tracer([]string{"definitely-not-a-binary-xyz"}, dir)
	assert.Equal(t, Fail, r.Findings[0].Level)
}

func TestProducer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"RUNNING"}`))
	}))
	defer srv.Close()

	var r Report
	r.Producer(context.Background(), hollow.NewClient(srv.URL, "", time.Second, zap.NewNop()))
	assert.False(t, r.Failed())
	assert.Contains(t, r.Findings[0].String(), "RUNNING")
}
