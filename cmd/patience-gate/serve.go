package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaneisley/patience-gate/pkg/daemon"
	"github.com/shaneisley/patience-gate/pkg/logging"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		httpAddr string
		pidFile  string
		workers  int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduling daemon",
		Long: `Run the daemon in the foreground. It accepts translate and stats requests on
the Unix socket, serves /health, /stats and /api/metrics on the HTTP address and
prunes expired cache entries periodically. SIGINT or SIGTERM stops it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfiguration(cmd, root)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http-addr") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("pid-file") {
				cfg.Daemon.PidFile = pidFile
			}
			if cmd.Flags().Changed("workers") {
				cfg.Daemon.Workers = workers
			}

			if running, pid, _ := daemon.IsRunning(cfg.Daemon.PidFile); running {
				return fmt.Errorf("daemon is already running with PID %d", pid)
			}

			logger := logging.New(cmd.OutOrStdout(), "patience-gate", logging.LogLevel(cfg.LogLevel))
			d, err := daemon.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := d.Start(ctx); err != nil {
				if stopErr := d.Stop(); stopErr != nil {
					logger.LogError("stop_daemon", stopErr)
				}
				return err
			}

			<-ctx.Done()
			logger.Info("shutdown requested")

			done := make(chan error, 1)
			go func() { done <- d.Stop() }()
			select {
			case err := <-done:
				return err
			case <-time.After(30 * time.Second):
				return fmt.Errorf("daemon did not stop within 30s")
			}
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP status address; empty disables it (default: 127.0.0.1:8642)")
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "PID file path")
	cmd.Flags().IntVar(&workers, "workers", 0, "Connection handler workers (default: 8)")

	return cmd
}
