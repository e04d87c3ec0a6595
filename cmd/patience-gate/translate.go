package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaneisley/patience-gate/pkg/config"
	"github.com/shaneisley/patience-gate/pkg/daemon"
	"github.com/shaneisley/patience-gate/pkg/translate"
	"github.com/shaneisley/patience-gate/pkg/ui"
)

// translateOptions holds the translate subcommand flags
type translateOptions struct {
	target   string
	source   string
	provider string
	file     string
	output   string
	noDaemon bool
	quiet    bool
}

// batchTranslator is satisfied by the daemon client adapter and the in-process runtime
type batchTranslator interface {
	TranslateBatch(ctx context.Context, reqs []translate.Request) []translate.BatchResult
}

func newTranslateCmd(root *rootOptions) *cobra.Command {
	var opts translateOptions

	cmd := &cobra.Command{
		Use:   "translate [flags] TEXT...",
		Short: "Translate text through the scheduler",
		Long: `Translate each TEXT argument, or every request of a YAML batch file.

Requests go to the daemon when its socket accepts connections; otherwise a
scheduler is started in-process for the duration of the command.

A batch file looks like:

  defaults:
    target: fr
  requests:
    - text: hello
    - text: goodbye
      target: de`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.file == "" {
				return errors.New("nothing to translate: pass TEXT arguments or --file")
			}
			if opts.output != "text" && opts.output != "json" {
				return fmt.Errorf("invalid --output %q: must be text or json", opts.output)
			}

			cfg, err := loadConfiguration(cmd, root)
			if err != nil {
				return err
			}

			reqs, err := buildRequests(args, opts)
			if err != nil {
				return err
			}

			translator, closer, err := openTranslator(cfg, opts.noDaemon, cmd)
			if err != nil {
				return err
			}
			defer closer()

			start := time.Now()
			results := translator.TranslateBatch(cmd.Context(), reqs)
			return printResults(cmd, results, time.Since(start), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.target, "to", "t", "", "Target language")
	cmd.Flags().StringVarP(&opts.source, "from", "s", "", "Source language (default: auto-detect)")
	cmd.Flags().StringVarP(&opts.provider, "provider", "p", "", "Provider name (default: the configured provider)")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "YAML batch file")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&opts.noDaemon, "no-daemon", false, "Always translate in-process")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress the summary line")

	return cmd
}

// buildRequests turns arguments and the batch file into validated requests.
// Flags fill fields that a batch entry leaves empty.
func buildRequests(args []string, opts translateOptions) ([]translate.Request, error) {
	flagDefaults := translate.Request{Target: opts.target, Source: opts.source, Provider: opts.provider}

	var reqs []translate.Request
	if opts.file != "" {
		loaded, err := translate.LoadBatchFile(opts.file, flagDefaults)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, loaded...)
	}
	for _, text := range args {
		req := flagDefaults
		req.Text = text
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("argument %q: %w", text, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// openTranslator prefers a reachable daemon and falls back to an in-process runtime
func openTranslator(cfg *config.Config, noDaemon bool, cmd *cobra.Command) (batchTranslator, func(), error) {
	logger := cliLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	if !noDaemon && daemonReachable(cfg.Daemon.SocketPath) {
		logger.Debug("using daemon", "socket", cfg.Daemon.SocketPath)
		return clientTranslator{socketPath: cfg.Daemon.SocketPath, connections: cfg.Daemon.Workers}, func() {}, nil
	}

	logger.Debug("translating in-process")
	runtime, err := daemon.NewRuntime(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return runtime.Service, func() {
		if err := runtime.Close(); err != nil {
			logger.LogError("close_runtime", err)
		}
	}, nil
}

func daemonReachable(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// clientTranslator fans a batch out over several daemon connections so the
// daemon's scheduler sees concurrent requests, as the in-process service does.
// Each connection carries one request at a time, so connections are capped at
// the daemon's worker count.
type clientTranslator struct {
	socketPath  string
	connections int
}

func (c clientTranslator) TranslateBatch(ctx context.Context, reqs []translate.Request) []translate.BatchResult {
	results := make([]translate.BatchResult, len(reqs))
	indices := make(chan int)

	var wg sync.WaitGroup
	for n := min(max(c.connections, 1), len(reqs)); n > 0; n-- {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := daemon.NewClient(c.socketPath)
			defer client.Close()

			for i := range indices {
				resp, err := client.Translate(ctx, reqs[i])
				results[i] = translate.BatchResult{Index: i, Response: resp, Err: err}
				if err != nil {
					results[i].Error = err.Error()
				}
			}
		}()
	}
	for i := range reqs {
		indices <- i
	}
	close(indices)
	wg.Wait()
	return results
}

func printResults(cmd *cobra.Command, results []translate.BatchResult, elapsed time.Duration, opts translateOptions) error {
	summary := ui.Summarize(results, elapsed)

	if opts.output == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(results); err != nil {
			return err
		}
	} else {
		reporter := ui.NewReporter(cmd.OutOrStdout(), cmd.ErrOrStderr())
		reporter.SetQuiet(opts.quiet)
		for _, result := range results {
			reporter.Result(result)
		}
		reporter.FinalSummary(summary)
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d translations failed", summary.Failed, summary.Total)
	}
	return nil
}
