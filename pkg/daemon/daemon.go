package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaneisley/patience-gate/pkg/config"
	"github.com/shaneisley/patience-gate/pkg/logging"
	"github.com/shaneisley/patience-gate/pkg/monitoring"
	"github.com/shaneisley/patience-gate/pkg/translate"
)

// resourceCheckInterval is how often resource limits are logged when exceeded
const resourceCheckInterval = time.Minute

// Daemon hosts one Runtime behind the Unix socket and the HTTP status server
type Daemon struct {
	config  *config.Config
	runtime *Runtime
	unix    *UnixServer
	server  *Server
	cron    *cron.Cron
	monitor *monitoring.ResourceMonitor
	logger  *logging.Logger

	mu        sync.Mutex // guards lifecycle transitions
	running   bool
	stopped   bool
	startedAt atomic.Int64 // unix nanoseconds, zero before Start
	wg        sync.WaitGroup
}

// New creates a daemon for cfg; nothing listens until Start
func New(cfg *config.Config, logger *logging.Logger) (*Daemon, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	runtime, err := NewRuntime(cfg, logger)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		config:  cfg,
		runtime: runtime,
		monitor: monitoring.NewResourceMonitor(cfg.Daemon.MaxMemoryMB, cfg.Daemon.MaxGoroutines),
		logger:  logger.WithComponent("daemon"),
	}
	d.unix = NewUnixServer(cfg.Daemon.SocketPath, d, cfg.Daemon.Workers, logger.WithComponent("unix_server"))
	if cfg.Daemon.HTTPAddr != "" {
		d.server = NewServer(d, runtime.Storage, cfg.Daemon.HTTPAddr, logger.WithComponent("http_server"))
		d.server.SetMonitor(d.monitor)
	}
	d.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{d.logger})), cron.WithLogger(cronLogger{d.logger}))
	if cfg.Cache.PruneInterval > 0 {
		d.cron.Schedule(cron.Every(cfg.Cache.PruneInterval), cron.FuncJob(d.pruneCache))
	}
	d.cron.Schedule(cron.Every(resourceCheckInterval), cron.FuncJob(d.checkResources))
	return d, nil
}

// Runtime exposes the hosted translation stack
func (d *Daemon) Runtime() *Runtime {
	return d.runtime
}

// Start writes the pid file and brings up every listener
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return errors.New("daemon already running")
	}
	if d.stopped {
		return errors.New("daemon already stopped")
	}
	d.logger.Info("starting daemon", "socket", d.config.Daemon.SocketPath, "http_addr", d.config.Daemon.HTTPAddr)

	if err := d.writePidFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := d.unix.Start(ctx); err != nil {
		d.removePidFile()
		return fmt.Errorf("failed to start socket server: %w", err)
	}

	if d.server != nil {
		if err := d.server.Listen(); err != nil {
			d.unix.Stop()
			d.removePidFile()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.server.Serve(); err != nil {
				d.logger.LogError("http_serve", err)
			}
		}()
	}

	d.cron.Start()
	d.startedAt.Store(time.Now().UnixNano())
	d.running = true
	d.logger.Info("daemon started", "pid", os.Getpid())
	return nil
}

// Stop shuts down listeners, rejects pending work and removes the pid file.
// A daemon that never started only releases its runtime.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return nil
	}
	d.stopped = true
	if !d.running {
		return d.runtime.Close()
	}
	d.running = false
	d.logger.Info("stopping daemon")

	<-d.cron.Stop().Done()

	var errs []error
	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	// closing the scheduler rejects pending requests; executing ones finish
	// within the attempt timeout before the socket workers drain
	d.runtime.Scheduler.Close()
	if err := d.unix.Stop(); err != nil {
		errs = append(errs, err)
	}
	d.wg.Wait()
	if err := d.runtime.Close(); err != nil {
		errs = append(errs, err)
	}
	d.removePidFile()

	d.logger.Info("daemon stopped")
	return errors.Join(errs...)
}

// Translate implements Backend
func (d *Daemon) Translate(ctx context.Context, req translate.Request) (*translate.Response, error) {
	return d.runtime.Translate(ctx, req)
}

// Stats implements Backend
func (d *Daemon) Stats(ctx context.Context) StatsResponse {
	stats := StatsResponse{
		Type:      TypeStatsResponse,
		Scheduler: d.runtime.Scheduler.Stats(),
		Counters:  d.runtime.Collector.Snapshot(),
		Workers:   d.unix.Pool().GetStats(),
		Providers: d.runtime.Service.Providers(),
		Resources: d.monitor.Snapshot(),
	}
	if started := d.startedAt.Load(); started != 0 {
		stats.Uptime = time.Since(time.Unix(0, started))
	}
	if store := d.runtime.Cache(); store != nil {
		if n, err := store.Len(ctx); err == nil {
			stats.CacheSize = n
		}
	}
	return stats
}

func (d *Daemon) pruneCache() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := d.runtime.PruneCache(ctx)
	if err != nil {
		d.logger.LogError("prune_cache", err)
		return
	}
	d.logger.Debug("pruned cache", "removed", removed)
}

func (d *Daemon) checkResources() {
	snapshot := d.monitor.Snapshot()
	if err := d.monitor.Check(snapshot); err != nil {
		d.logger.Warn("resource limit exceeded", "error", err,
			"alloc_mb", snapshot.AllocMB, "goroutines", snapshot.NumGoroutine)
	}
}

func (d *Daemon) writePidFile() error {
	if d.config.Daemon.PidFile == "" {
		return nil
	}

	dir := filepath.Dir(d.config.Daemon.PidFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(d.config.Daemon.PidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

func (d *Daemon) removePidFile() {
	if d.config.Daemon.PidFile != "" {
		os.Remove(d.config.Daemon.PidFile)
	}
}

// IsRunning checks if the daemon is running by checking the PID file
func IsRunning(pidFile string) (bool, int, error) {
	if pidFile == "" {
		return false, 0, nil
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return false, 0, fmt.Errorf("invalid PID file format: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, pid, nil
	}

	// signal 0 probes for existence without delivering anything
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return false, pid, nil
	}
	return true, pid, nil
}

// cronLogger routes cron's diagnostics into the daemon log
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
