package render

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ebpfhollow/collector"
	"ebpfhollow/histogram"
)

func decodePNG(t *testing.T, path string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	require.NoError(t, err, path)
}

func sampleDocument(t *testing.T) *histogram.Document {
	t.Helper()
	doc := histogram.Parse(string(collector.BundledSample()), "metrics_20250314_092653.txt", time.Now(), zap.NewNop())
	require.NotEmpty(t, doc.Metrics)
	return doc
}

func TestRenderSampleDocument(t *testing.T) {
	dir := t.TempDir()
	doc := sampleDocument(t)

	files, err := New(zap.NewNop()).Render(doc, dir, "20250314_092653", true)
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		decodePNG(t, f)
	}
	assert.FileExists(t, filepath.Join(dir, "summary_20250314_092653.png"))
	assert.FileExists(t, filepath.Join(dir, "packet_drop_rate_20250314_092653.png"))
	assert.FileExists(t, filepath.Join(dir, "aggregates_20250314_092653.png"))

	latest, err := os.ReadFile(filepath.Join(dir, "summary_latest.png"))
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(latest, []byte("\n<!-- Updated: 20250314_092653 -->")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}
}

func TestRenderSkipsEmptySections(t *testing.T) {
	dir := t.TempDir()
	doc := histogram.NewDocument("2025-03-14T09:26:53Z", "m.txt")
	doc.Metrics["CPU Usage"] = histogram.Section{
		Data: []histogram.Bucket{{Range: histogram.Range{Lower: 1, Upper: 2}, Count: 0, Unit: "cores"}},
	}

	files, err := New(nil).Render(doc, dir, "s1", false)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.NoFileExists(t, filepath.Join(dir, "cpu_usage_s1.png"))
}

func TestRenderEmptyDocument(t *testing.T) {
	files, err := New(nil).Render(histogram.NewDocument("", ""), t.TempDir(), "s1", true)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestBucketLabel(t *testing.T) {
	assert.Equal(t, "1", BucketLabel(0, 1))
	assert.Equal(t, "1,024", BucketLabel(10, 11))
	assert.Equal(t, "2^30", BucketLabel(30, 31))
	assert.Equal(t, "4-8", BucketLabel(2, 4))
	assert.Equal(t, "2^18-2^24", BucketLabel(18, 25))
}

func TestAxisLabel(t *testing.T) {
	assert.Equal(t, "Time (ns)", AxisLabel("Lease Allocation Time", "ns"))
	assert.Equal(t, "CPU Usage (cores)", AxisLabel("CPU Usage", "cores"))
	assert.Equal(t, "Memory Size (bytes)", AxisLabel("Memory Usage", "bytes"))
	assert.Equal(t, "Packet Count (count)", AxisLabel("Packet Drop Rate", "count"))
	assert.Equal(t, "Error Count (errors)", AxisLabel("Error Rates", "errors"))
	assert.Equal(t, "Value Range (count)", AxisLabel("Widgets", "count"))
}

func TestCleanName(t *testing.T) {
	assert.Equal(t, "packet_drop_rate", CleanName("Packet Drop Rate"))
	assert.Equal(t, "cpu_usage", CleanName(" CPU Usage "))
}

func TestUpdateLatestOnlyCopiesExistingCharts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cpu_usage_s1.png"), []byte("png"), 0o644))

	n, err := UpdateLatest(dir, "s1", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := os.ReadFile(filepath.Join(dir, "cpu_usage_latest.png"))
	require.NoError(t, err)
	assert.Equal(t, "png\n<!-- Updated: s1 -->", string(got))
	assert.NoFileExists(t, filepath.Join(dir, "summary_latest.png"))
}

func TestSeedPlaceholders(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "summary_latest.png")
	require.NoError(t, os.WriteFile(existing, []byte("keep"), 0o644))

	n, err := SeedPlaceholders(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, len(Categories)-1, n)

	got, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(got))
	decodePNG(t, filepath.Join(dir, "cpu_usage_latest.png"))

	n, err = SeedPlaceholders(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPlaceholderPNG(t *testing.T) {
	img, err := png.Decode(bytes.NewReader(PlaceholderPNG()))
	require.NoError(t, err)
	assert.Equal(t, 1, img.Bounds().Dx())
	assert.Equal(t, 1, img.Bounds().Dy())
}
