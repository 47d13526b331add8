package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Flag groups. Each subcommand registers only the groups it uses; anything
// not registered still resolves through env, the config file and defaults.

func AddProducerFlags(fs *pflag.FlagSet) {
	fs.StringP("producer-url", "p", "", "URL of the Hollow producer API")
	fs.StringP("dataset-name", "d", "ebpf_metrics", "Name of the dataset in Hollow")
	fs.StringP("auth-token", "t", "", "Authentication token for the Hollow producer API")
	fs.Duration("http-timeout", 30*time.Second, "Timeout of each producer HTTP call")
	fs.Bool("local", false, "Use the local Hollow setup instead of the remote producer API")
	fs.Bool("dry-run", false, "Write the Hollow-formatted file but never call the producer")
	fs.String("hollow-local-dir", "hollow-local", "Directory of the local Hollow producer checkout")
	fs.String("sftp-host", "", "Upload the Hollow-formatted file to this host:port over SFTP")
	fs.String("sftp-user", "", "SSH user for --sftp-host")
	fs.String("sftp-key", "", "Private key file for --sftp-host")
	fs.String("sftp-dir", "", "Remote directory for --sftp-host uploads")
	fs.String("sftp-known-hosts", "", "known_hosts file used to verify --sftp-host (default: no verification)")
}

func AddCollectionFlags(fs *pflag.FlagSet) {
	fs.DurationP("collection-interval", "i", 60*time.Second, "Time between metrics collections")
	fs.DurationP("retry-interval", "r", 10*time.Second, "Time to wait before retrying after a failure")
	fs.StringP("output-dir", "o", "", "Directory to save metrics files (default: a temporary directory per iteration)")
	fs.Bool("cleanup", false, "Remove temporary files after each iteration")
	fs.Bool("no-fallback", false, "Disable fallback to sample metrics when collection fails")
	fs.String("sample-file", "", "Sample report used as fallback (default: bundled sample)")
	fs.Int("max-publish-failures", 0, "Stop after this many consecutive publish failures (0: never)")
	fs.String("history-db", "", "SQLite file recording every converted document (empty: disabled)")
	fs.StringSlice("tracer-command", []string{"python3", "kea_metrics.py"}, "Tracer command line")
	fs.String("tracer-dir", ".", "Working directory of the tracer")
	fs.Bool("tracer-sudo", true, "Run the tracer through sudo")
	fs.Duration("tracer-grace", 10*time.Second, "How long the tracer may take to exit after SIGINT")
	fs.Bool("require-root", false, "Refuse to start unless running as root")
	fs.String("target-process", "", "Refuse to start unless a process with this name is running (e.g. kea-dhcp4)")
}

func AddDashboardFlags(fs *pflag.FlagSet) {
	fs.Bool("visualize", false, "Create visualizations in real-time")
	fs.Bool("dashboard", false, "Enable the real-time dashboard")
	fs.Bool("dashboard-preload", false, "Start the dashboard with placeholders before the first collection")
	fs.Int("dashboard-port", 8000, "Port for the dashboard server")
	fs.String("viz-dir", "visualizations", "Directory to save visualizations")
}
