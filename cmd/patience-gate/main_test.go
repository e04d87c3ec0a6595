package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaneisley/patience-gate/pkg/daemon"
	"github.com/shaneisley/patience-gate/pkg/logging"
	"github.com/shaneisley/patience-gate/pkg/translate"
)

// syncBuffer is a bytes.Buffer safe for the daemon's concurrent log writes
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// runCLI executes the root command in-process and captures its output
func runCLI(ctx context.Context, args ...string) (string, string, error) {
	cmd := newRootCmd()
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

// testEnv is a configuration file with a static dictionary provider
type testEnv struct {
	configPath string
	socketPath string
	pidFile    string
	dir        string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()

	// unix socket paths must stay short
	sockDir, err := os.MkdirTemp("", "pgcli")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	dict := filepath.Join(dir, "dict.yaml")
	require.NoError(t, os.WriteFile(dict, []byte("fr:\n  hello: bonjour\n  cat: chat\nde:\n  cat: Katze\n"), 0644))

	env := testEnv{
		configPath: filepath.Join(dir, "patience-gate.toml"),
		socketPath: filepath.Join(sockDir, "gate.sock"),
		pidFile:    filepath.Join(dir, "gate.pid"),
		dir:        dir,
	}
	content := fmt.Sprintf(`log_level = "error"

[scheduler]
rate = 20
capacity = 5
timeout = "2s"
max_retries = 0
base_retry_delay = "10ms"

[cache]
backend = "memory"
prune_interval = "0s"

[provider]
name = "dictionary"
type = "static"
dictionary = %q

[daemon]
socket_path = %q
http_addr = ""
workers = 2
pid_file = %q
`, dict, env.socketPath, env.pidFile)
	require.NoError(t, os.WriteFile(env.configPath, []byte(content), 0644))
	return env
}

func TestCLI_Version(t *testing.T) {
	stdout, _, err := runCLI(context.Background(), "version")

	require.NoError(t, err)
	assert.Equal(t, "patience-gate version dev\n", stdout)
}

func TestCLI_TranslateInProcess(t *testing.T) {
	// Given a configuration with a dictionary provider and no daemon
	env := newTestEnv(t)

	// When translating two words
	stdout, _, err := runCLI(context.Background(),
		"translate", "--config", env.configPath, "--no-daemon", "--to", "fr", "hello", "cat")

	// Then each translation is printed in argument order
	require.NoError(t, err)
	assert.Equal(t, "bonjour\nchat\n", stdout)
}

func TestCLI_TranslateJSONOutput(t *testing.T) {
	env := newTestEnv(t)

	stdout, _, err := runCLI(context.Background(),
		"translate", "--config", env.configPath, "--no-daemon", "-t", "de", "-o", "json", "cat")
	require.NoError(t, err)

	var results []translate.BatchResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &results))
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Response)
	assert.Equal(t, "Katze", results[0].Response.Translated)
	assert.Equal(t, "dictionary", results[0].Response.Provider)
	assert.Empty(t, results[0].Error)
}

func TestCLI_TranslateBatchFile(t *testing.T) {
	// Given a batch where one entry overrides the target
	env := newTestEnv(t)
	batch := filepath.Join(env.dir, "batch.yaml")
	require.NoError(t, os.WriteFile(batch, []byte("requests:\n  - text: hello\n  - text: cat\n    target: de\n"), 0644))

	// When --to supplies the missing target
	stdout, _, err := runCLI(context.Background(),
		"translate", "--config", env.configPath, "--no-daemon", "--file", batch, "--to", "fr")

	// Then entries keep their own target and the rest use the flag
	require.NoError(t, err)
	assert.Equal(t, "bonjour\nKatze\n", stdout)
}

func TestCLI_TranslatePartialFailure(t *testing.T) {
	env := newTestEnv(t)

	stdout, stderr, err := runCLI(context.Background(),
		"translate", "--config", env.configPath, "--no-daemon", "--to", "fr", "hello", "dog")

	assert.EqualError(t, err, "1 of 2 translations failed")
	assert.Equal(t, "bonjour\n", stdout)
	assert.Contains(t, stderr, "error: request 1:")
	assert.Contains(t, stderr, `no translation for "dog"`)
	assert.Contains(t, stderr, "❌ [gate] 1 of 2 translations failed")
}

func TestCLI_TranslateQuiet(t *testing.T) {
	env := newTestEnv(t)

	stdout, stderr, err := runCLI(context.Background(),
		"translate", "--config", env.configPath, "--no-daemon", "-q", "--to", "fr", "hello")

	require.NoError(t, err)
	assert.Equal(t, "bonjour\n", stdout)
	assert.NotContains(t, stderr, "[gate]")
}

func TestCLI_TranslateInputErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := runCLI(ctx, "translate", "--config", env.configPath)
	assert.EqualError(t, err, "nothing to translate: pass TEXT arguments or --file")

	_, _, err = runCLI(ctx, "translate", "--config", env.configPath, "--no-daemon", "hello")
	assert.ErrorIs(t, err, translate.ErrMissingTarget)

	_, _, err = runCLI(ctx, "translate", "--config", env.configPath, "--to", "fr", "--output", "xml", "hello")
	assert.EqualError(t, err, `invalid --output "xml": must be text or json`)
}

func TestCLI_InvalidConfiguration(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := runCLI(context.Background(),
		"translate", "--config", env.configPath, "--no-daemon", "--rate", "-1", "--to", "fr", "hello")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scheduler.rate")
}

func TestLoadConfiguration_Precedence(t *testing.T) {
	// Given a file, environment and flag that disagree
	env := newTestEnv(t)
	t.Setenv("PATIENCE_GATE_SCHEDULER_RATE", "3")
	t.Setenv("PATIENCE_GATE_SCHEDULER_CAPACITY", "4")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--rate", "7", "--cache", "sqlite"}))

	// When resolving configuration
	cfg, err := loadConfiguration(cmd, &rootOptions{configFile: env.configPath})
	require.NoError(t, err)

	// Then explicit flags beat the environment, which beats the file
	assert.Equal(t, 7.0, cfg.Scheduler.Rate)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, 4, cfg.Scheduler.Capacity)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.Timeout)
	assert.Equal(t, "dictionary", cfg.Provider.Name)
}

func TestLoadConfiguration_DebugOutput(t *testing.T) {
	env := newTestEnv(t)
	cmd := newRootCmd()
	stderr := &syncBuffer{}
	cmd.SetErr(stderr)
	require.NoError(t, cmd.ParseFlags([]string{"--max-retries", "1"}))

	_, err := loadConfiguration(cmd, &rootOptions{configFile: env.configPath, debugConfig: true})
	require.NoError(t, err)

	out := stderr.String()
	assert.Contains(t, out, "Configuration Resolution Debug Info:")
	assert.Regexp(t, `scheduler\.max_retries\s*: 1\s+\(from CLI flag\)`, out)
	assert.Regexp(t, `scheduler\.capacity\s*: 5\s+\(from config file\)`, out)
	assert.Regexp(t, `cache\.ttl\s*: \S+\s+\(from default\)`, out)
}

func TestCLI_StatsWithoutDaemon(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := runCLI(context.Background(), "stats", "--config", env.configPath)

	assert.EqualError(t, err, "daemon is not running at "+env.socketPath)
}

func TestCLI_ServeTranslateAndStats(t *testing.T) {
	// Given a daemon started by the serve command
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := make(chan error, 1)
	go func() {
		_, _, err := runCLI(ctx, "serve", "--config", env.configPath)
		served <- err
	}()
	require.Eventually(t, func() bool { return daemonReachable(env.socketPath) },
		5*time.Second, 20*time.Millisecond)

	running, _, err := daemon.IsRunning(env.pidFile)
	require.NoError(t, err)
	assert.True(t, running)

	// When translating through the daemon twice
	for i := 0; i < 2; i++ {
		stdout, _, err := runCLI(context.Background(),
			"translate", "--config", env.configPath, "--to", "fr", "hello")
		require.NoError(t, err)
		assert.Equal(t, "bonjour\n", stdout)
	}

	// Then the daemon reports one provider call and one cached entry
	stdout, _, err := runCLI(context.Background(), "stats", "--config", env.configPath, "--json")
	require.NoError(t, err)
	var stats daemon.StatsResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &stats))
	assert.Equal(t, int64(1), stats.Counters.Enqueued)
	assert.Equal(t, int64(1), stats.Counters.Succeeded)
	assert.Equal(t, 1, stats.CacheSize)
	assert.Equal(t, []string{"dictionary"}, stats.Providers)

	stdout, _, err = runCLI(context.Background(), "stats", "--config", env.configPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Cache size: 1")
	assert.Contains(t, stdout, "Providers:  dictionary")

	// And a second serve refuses to start
	_, _, err = runCLI(context.Background(), "serve", "--config", env.configPath)
	assert.ErrorContains(t, err, "daemon is already running")

	// When the context is cancelled the daemon shuts down cleanly
	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
	_, err = os.Stat(env.socketPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(env.pidFile)
	assert.True(t, os.IsNotExist(err))
}

// concurrencyBackend echoes requests and records how many were in flight at once
type concurrencyBackend struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (b *concurrencyBackend) Translate(ctx context.Context, req translate.Request) (*translate.Response, error) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(30 * time.Millisecond)
	return &translate.Response{Text: req.Text, Translated: strings.ToUpper(req.Text), Target: req.Target}, nil
}

func (b *concurrencyBackend) Stats(ctx context.Context) daemon.StatsResponse {
	return daemon.StatsResponse{Type: daemon.TypeStatsResponse}
}

func TestClientTranslator_UsesConcurrentConnections(t *testing.T) {
	// Given a socket server with two connection workers
	dir, err := os.MkdirTemp("", "pgct")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "gate.sock")

	backend := &concurrencyBackend{}
	server := daemon.NewUnixServer(socket, backend, 2, logging.Nop())
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	// When a batch goes through a translator allowed two connections
	texts := []string{"a", "b", "c", "d", "e"}
	reqs := make([]translate.Request, len(texts))
	for i, text := range texts {
		reqs[i] = translate.Request{Text: text, Target: "fr"}
	}
	translator := clientTranslator{socketPath: socket, connections: 2}
	results := translator.TranslateBatch(context.Background(), reqs)

	// Then results keep input order and requests overlapped on the daemon
	require.Len(t, results, len(texts))
	for i, result := range results {
		require.NoError(t, result.Err)
		assert.Equal(t, i, result.Index)
		assert.Equal(t, strings.ToUpper(texts[i]), result.Response.Translated)
	}
	assert.Equal(t, int32(2), backend.peak.Load())
}
