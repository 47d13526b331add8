package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ebpfhollow/collector"
	"ebpfhollow/histogram"
	"ebpfhollow/hollow"
	"ebpfhollow/storage"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := RootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metrics_20250314_092653.txt")
	require.NoError(t, os.WriteFile(path, collector.BundledSample(), 0o644))
	return path
}

func TestConvertDefaultOutput(t *testing.T) {
	in := writeSample(t)

	_, err := execute(t, "convert", in)
	require.NoError(t, err)

	doc, err := histogram.Load(jsonPathFor(in))
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Metrics)
	assert.Equal(t, filepath.Base(in), doc.Metadata.SourceFile)
}

func TestConvertExplicitOutput(t *testing.T) {
	in := writeSample(t)
	out := filepath.Join(t.TempDir(), "out.json")

	_, err := execute(t, "convert", in, "-o", out, "--pretty")
	require.NoError(t, err)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  \"metrics\"")
}

func TestConvertMissingInput(t *testing.T) {
	_, err := execute(t, "convert", filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	in := writeSample(t)
	_, err := execute(t, "convert", in)
	require.NoError(t, err)

	out, err := execute(t, "validate", jsonPathFor(in))
	require.NoError(t, err)
	assert.Contains(t, out, "metrics categories:")
	assert.Contains(t, out, "Metrics file looks valid!")
}

func TestValidateRejectsMissingMetricsKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"aggregates": {"x": 1}}`), 0o644))

	out, err := execute(t, "validate", path)
	require.ErrorIs(t, err, histogram.ErrMissingMetrics)
	assert.Contains(t, out, "Metrics file has issues.")
}

func TestPublishDryRun(t *testing.T) {
	in := writeSample(t)
	_, err := execute(t, "convert", in)
	require.NoError(t, err)
	doc := jsonPathFor(in)

	_, err = execute(t, "publish", doc, "--dry-run")
	require.NoError(t, err)

	payload, err := hollow.LoadPayload(hollow.PayloadFileFor(doc))
	require.NoError(t, err)
	assert.Len(t, payload.Data.MetricsState, 1)
}

func TestPublishRequiresTarget(t *testing.T) {
	in := writeSample(t)
	_, err := execute(t, "convert", in)
	require.NoError(t, err)

	_, err = execute(t, "publish", jsonPathFor(in))
	require.Error(t, err)
}

func TestVisualize(t *testing.T) {
	in := writeSample(t)
	_, err := execute(t, "convert", in)
	require.NoError(t, err)
	dir := t.TempDir()

	out, err := execute(t, "visualize", jsonPathFor(in), "--output-dir", dir, "--create-latest")
	require.NoError(t, err)
	assert.Contains(t, out, ".png")
	assert.FileExists(t, filepath.Join(dir, "summary_latest.png"))
}

func TestHistory(t *testing.T) {
	in := writeSample(t)
	_, err := execute(t, "convert", in)
	require.NoError(t, err)
	doc, err := histogram.Load(jsonPathFor(in))
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := storage.NewSQLite(dbPath, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), doc))
	require.NoError(t, store.Close())

	out, err := execute(t, "history", "--history-db", dbPath, "--aggregates")
	require.NoError(t, err)
	for _, name := range doc.Names() {
		assert.Contains(t, out, name)
	}
}
