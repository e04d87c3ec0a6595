package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaneisley/patience-gate/pkg/config"
	"github.com/shaneisley/patience-gate/pkg/logging"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

// rootOptions holds the flags shared by every subcommand
type rootOptions struct {
	configFile  string
	debugConfig bool
}

// overrideFlags maps persistent flag names to the configuration keys they set
var overrideFlags = map[string]string{
	"log-level":        "log_level",
	"socket":           "daemon.socket_path",
	"rate":             "scheduler.rate",
	"capacity":         "scheduler.capacity",
	"timeout":          "scheduler.timeout",
	"max-retries":      "scheduler.max_retries",
	"base-retry-delay": "scheduler.base_retry_delay",
	"cache":            "cache.backend",
	"cache-path":       "cache.path",
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "patience-gate",
		Short: "Rate-limited, deduplicating gateway for translation APIs",
		Long: `patience-gate schedules calls to rate-limited translation providers.
Requests are ordered by schedule time, released under a token bucket, coalesced
when identical requests are already in flight, retried with exponential backoff
and cached.

Configuration precedence (highest to lowest):
1. CLI flags
2. Environment variables (PATIENCE_GATE_*)
3. Configuration file
4. Default values

Without --config the tool looks for .patience-gate.toml or patience-gate.toml in
the current directory, then in the home directory.

EXAMPLES:
  # Translate through a running daemon, or in-process when none is running
  patience-gate translate --to fr "good morning"

  # Translate a YAML batch file and print JSON
  patience-gate translate --file batch.yaml --output json

  # Run the daemon with a tighter rate limit
  PATIENCE_GATE_SCHEDULER_RATE=2 patience-gate serve`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "Configuration file path")
	flags.BoolVar(&opts.debugConfig, "debug-config", false, "Show configuration resolution debug information")
	flags.String("log-level", "", "Log level: debug, info, warn, error (default: info)")
	flags.String("socket", "", "Daemon Unix socket path")
	flags.Float64("rate", 0, "Tokens added per second (default: 5)")
	flags.Int("capacity", 0, "Token bucket capacity, the maximum burst (default: 10)")
	flags.Duration("timeout", 0, "Per-attempt timeout (default: 30s)")
	flags.Int("max-retries", 0, "Retries after the first failed attempt (default: 3)")
	flags.Duration("base-retry-delay", 0, "Backoff base delay (default: 1s)")
	flags.String("cache", "", "Cache backend: memory or sqlite (default: memory)")
	flags.String("cache-path", "", "SQLite cache database path")

	cmd.AddCommand(
		newTranslateCmd(opts),
		newServeCmd(opts),
		newStatsCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// loadConfiguration resolves configuration for cmd, honouring only the flags
// that were explicitly set
func loadConfiguration(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	configPath := opts.configFile
	if configPath == "" {
		configPath = config.DiscoverConfigFile()
	}

	overrides := make(map[string]interface{})
	for name, key := range overrideFlags {
		if cmd.Flags().Changed(name) {
			overrides[key] = cmd.Flags().Lookup(name).Value.String()
		}
	}

	cfg, debugInfo, err := config.Load(configPath, overrides, opts.debugConfig)
	if opts.debugConfig && debugInfo != nil {
		debugInfo.PrintDebugInfo(cmd.ErrOrStderr())
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// cliLogger writes human-readable logs to the command's stderr
func cliLogger(w io.Writer, level string) *logging.Logger {
	return logging.NewConsole(w, "cli", logging.LogLevel(level))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "patience-gate version %s\n", version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
