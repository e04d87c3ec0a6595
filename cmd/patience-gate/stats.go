package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaneisley/patience-gate/pkg/daemon"
	"github.com/shaneisley/patience-gate/pkg/ui"
)

func newStatsCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show scheduler statistics from the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfiguration(cmd, root)
			if err != nil {
				return err
			}
			if !daemonReachable(cfg.Daemon.SocketPath) {
				return fmt.Errorf("daemon is not running at %s", cfg.Daemon.SocketPath)
			}

			client := daemon.NewClient(cfg.Daemon.SocketPath)
			defer client.Close()

			stats, err := client.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(stats)
			}

			ui.NewReporter(out, cmd.ErrOrStderr()).Stats(stats)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}
