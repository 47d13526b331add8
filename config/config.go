package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. EBPF_HOLLOW_PRODUCER_URL.
const EnvPrefix = "EBPF_HOLLOW"

// ErrNoProducer is returned when a remote publish is requested without a
// producer URL.
var ErrNoProducer = errors.New("no producer URL specified and not using local mode; use --producer-url or --local")

// Config holds every configurable value for the pipeline.
type Config struct {
	// Producer
	ProducerURL string        `mapstructure:"producer-url"`
	DatasetName string        `mapstructure:"dataset-name"`
	AuthToken   string        `mapstructure:"auth-token"`
	HTTPTimeout time.Duration `mapstructure:"http-timeout"`
	Local       bool          `mapstructure:"local"`
	DryRun      bool          `mapstructure:"dry-run"`
	// directory of a hollow-local checkout holding run_producer.sh
	HollowLocalDir string `mapstructure:"hollow-local-dir"`

	// Remote drop over SFTP, used instead of the producer API when SFTPHost is set
	SFTPHost string `mapstructure:"sftp-host"` // host:port
	SFTPUser string `mapstructure:"sftp-user"`
	SFTPKey  string `mapstructure:"sftp-key"`
	SFTPDir  string `mapstructure:"sftp-dir"`
	// empty: accept any host key
	SFTPKnownHosts string `mapstructure:"sftp-known-hosts"`

	// Collection
	CollectionInterval time.Duration `mapstructure:"collection-interval"`
	RetryInterval      time.Duration `mapstructure:"retry-interval"`
	OutputDir          string        `mapstructure:"output-dir"` // empty: one temp dir per iteration
	Cleanup            bool          `mapstructure:"cleanup"`
	NoFallback         bool          `mapstructure:"no-fallback"`
	SampleFile         string        `mapstructure:"sample-file"`
	MaxPublishFailures int           `mapstructure:"max-publish-failures"`
	HistoryDB          string        `mapstructure:"history-db"`

	// Tracer
	TracerCommand []string      `mapstructure:"tracer-command"`
	TracerDir     string        `mapstructure:"tracer-dir"`
	TracerSudo    bool          `mapstructure:"tracer-sudo"`
	TracerGrace   time.Duration `mapstructure:"tracer-grace"`

	// Visualization and dashboard
	Visualize        bool   `mapstructure:"visualize"`
	Dashboard        bool   `mapstructure:"dashboard"`
	DashboardPreload bool   `mapstructure:"dashboard-preload"`
	DashboardPort    int    `mapstructure:"dashboard-port"`
	VizDir           string `mapstructure:"viz-dir"`

	// Preconditions
	RequireRoot   bool   `mapstructure:"require-root"`
	TargetProcess string `mapstructure:"target-process"`

	// Logging
	LogLevel string `mapstructure:"log-level"`
	Verbose  bool   `mapstructure:"verbose"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("producer-url", "")
	v.SetDefault("dataset-name", "ebpf_metrics")
	v.SetDefault("auth-token", "")
	v.SetDefault("http-timeout", 30*time.Second)
	v.SetDefault("local", false)
	v.SetDefault("dry-run", false)
	v.SetDefault("hollow-local-dir", "hollow-local")

	v.SetDefault("sftp-host", "")
	v.SetDefault("sftp-user", "")
	v.SetDefault("sftp-key", "")
	v.SetDefault("sftp-dir", "")
	v.SetDefault("sftp-known-hosts", "")

	v.SetDefault("collection-interval", 60*time.Second)
	v.SetDefault("retry-interval", 10*time.Second)
	v.SetDefault("output-dir", "")
	v.SetDefault("cleanup", false)
	v.SetDefault("no-fallback", false)
	v.SetDefault("sample-file", "")
	v.SetDefault("max-publish-failures", 0)
	v.SetDefault("history-db", "")

	v.SetDefault("tracer-command", []string{"python3", "kea_metrics.py"})
	v.SetDefault("tracer-dir", ".")
	v.SetDefault("tracer-sudo", true)
	v.SetDefault("tracer-grace", 10*time.Second)

	v.SetDefault("visualize", false)
	v.SetDefault("dashboard", false)
	v.SetDefault("dashboard-preload", false)
	v.SetDefault("dashboard-port", 8000)
	v.SetDefault("viz-dir", "visualizations")

	v.SetDefault("require-root", false)
	v.SetDefault("target-process", "")

	v.SetDefault("log-level", "info")
	v.SetDefault("verbose", false)
}

// Load reads configuration from (in decreasing priority):
//  1. command-line flags present in fs
//  2. environment variables (e.g. EBPF_HOLLOW_PRODUCER_URL)
//  3. a yaml file: configFile if given, else ./configs/config.yaml if it exists
//  4. defaults
func Load(fs *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		_ = v.ReadInConfig() // file is optional
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.CollectionInterval <= 0 {
		return fmt.Errorf("collection-interval must be positive, got %s", c.CollectionInterval)
	}
	if c.RetryInterval < 0 {
		return fmt.Errorf("retry-interval must not be negative, got %s", c.RetryInterval)
	}
	if c.DashboardPort <= 0 || c.DashboardPort > 65535 {
		return fmt.Errorf("dashboard-port out of range: %d", c.DashboardPort)
	}
	if c.DatasetName == "" {
		return errors.New("dataset-name must not be empty")
	}
	if c.MaxPublishFailures < 0 {
		return fmt.Errorf("max-publish-failures must not be negative, got %d", c.MaxPublishFailures)
	}
	if c.SFTPHost != "" && (c.SFTPUser == "" || c.SFTPKey == "") {
		return errors.New("sftp-host requires sftp-user and sftp-key")
	}
	return nil
}

// RequirePublishTarget fails unless the config names somewhere to publish to.
func (c *Config) RequirePublishTarget() error {
	if c.Local || c.DryRun || c.ProducerURL != "" || c.SFTPHost != "" {
		return nil
	}
	return ErrNoProducer
}

// TracerArgv returns the tracer command line, prefixed with sudo when asked.
func (c *Config) TracerArgv() []string {
	argv := make([]string, 0, len(c.TracerCommand)+1)
	if c.TracerSudo {
		argv = append(argv, "sudo")
	}
	return append(argv, c.TracerCommand...)
}
