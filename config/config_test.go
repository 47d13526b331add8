package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddProducerFlags(fs)
	AddCollectionFlags(fs)
	AddDashboardFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(newFlagSet(t), "")
	require.NoError(t, err)

	assert.Equal(t, "ebpf_metrics", cfg.DatasetName)
	assert.Equal(t, 60*time.Second, cfg.CollectionInterval)
	assert.Equal(t, 10*time.Second, cfg.RetryInterval)
	assert.Equal(t, 8000, cfg.DashboardPort)
	assert.Equal(t, "visualizations", cfg.VizDir)
	assert.Equal(t, []string{"sudo", "python3", "kea_metrics.py"}, cfg.TracerArgv())
	assert.ErrorIs(t, cfg.RequirePublishTarget(), ErrNoProducer)
}

func TestFlagsOverrideEnvAndFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(
		"dataset-name: from_file\ncollection-interval: 30s\ndashboard-port: 9000\n"), 0o644))
	t.Setenv("EBPF_HOLLOW_DASHBOARD_PORT", "9100")
	t.Setenv("EBPF_HOLLOW_PRODUCER_URL", "http://env:7001")

	fs := newFlagSet(t, "--collection-interval", "5s", "--tracer-sudo=false")
	cfg, err := Load(fs, file)
	require.NoError(t, err)

	assert.Equal(t, "from_file", cfg.DatasetName)
	assert.Equal(t, 5*time.Second, cfg.CollectionInterval)
	assert.Equal(t, 9100, cfg.DashboardPort)
	assert.Equal(t, "http://env:7001", cfg.ProducerURL)
	assert.Equal(t, []string{"python3", "kea_metrics.py"}, cfg.TracerArgv())
	assert.NoError(t, cfg.RequirePublishTarget())
}

func TestVerboseForcesDebug(t *testing.T) {
	fs := newFlagSet(t)
	fs.Bool("verbose", false, "")
	require.NoError(t, fs.Set("verbose", "true"))

	cfg, err := Load(fs, "")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidation(t *testing.T) {
	cases := map[string][]string{
		"zero interval":     {"--collection-interval", "0s"},
		"negative retry":    {"--retry-interval", "-1s"},
		"port out of range": {"--dashboard-port", "70000"},
		"empty dataset":     {"--dataset-name", ""},
		"negative failures": {"--max-publish-failures", "-1"},
		"sftp without key":  {"--sftp-host", "host:22", "--sftp-user", "hollow"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(newFlagSet(t, args...), "")
			assert.Error(t, err)
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(newFlagSet(t), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPublishTargets(t *testing.T) {
	for _, args := range [][]string{
		{"--local"},
		{"--dry-run"},
		{"--sftp-host", "h:22", "--sftp-user", "u", "--sftp-key", "k"},
	} {
		cfg, err := Load(newFlagSet(t, args...), "")
		require.NoError(t, err)
		assert.NoError(t, cfg.RequirePublishTarget(), args)
	}
}
