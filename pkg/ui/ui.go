package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shaneisley/patience-gate/pkg/daemon"
	"github.com/shaneisley/patience-gate/pkg/translate"
)

// Reporter writes translations to out and status lines to status
type Reporter struct {
	out    io.Writer
	status io.Writer
	quiet  bool
}

// BatchSummary tallies the outcome of a translate run
type BatchSummary struct {
	Total     int
	Succeeded int
	Failed    int
	Cached    int
	Duration  time.Duration
}

// NewReporter creates a new status reporter
func NewReporter(out, status io.Writer) *Reporter {
	return &Reporter{out: out, status: status}
}

// SetQuiet suppresses the final summary
func (r *Reporter) SetQuiet(quiet bool) {
	r.quiet = quiet
}

// Result prints one translation, or its error on the status writer
func (r *Reporter) Result(result translate.BatchResult) {
	if result.Err != nil {
		fmt.Fprintf(r.status, "error: request %d: %v\n", result.Index, result.Err)
		return
	}
	fmt.Fprintln(r.out, result.Response.Translated)
}

// Summarize tallies results that took elapsed in total
func Summarize(results []translate.BatchResult, elapsed time.Duration) BatchSummary {
	summary := BatchSummary{Total: len(results), Duration: elapsed}
	for _, result := range results {
		switch {
		case result.Err != nil:
			summary.Failed++
		case result.Response != nil && result.Response.Cached:
			summary.Succeeded++
			summary.Cached++
		default:
			summary.Succeeded++
		}
	}
	return summary
}

// FinalSummary reports the run's outcome
func (r *Reporter) FinalSummary(summary BatchSummary) {
	if r.quiet {
		return
	}

	noun := "translations"
	if summary.Total == 1 {
		noun = "translation"
	}
	if summary.Failed == 0 {
		fmt.Fprintf(r.status, "✅ [gate] %d %s succeeded (%d cached) in %s.\n",
			summary.Succeeded, noun, summary.Cached, FormatDuration(summary.Duration))
		return
	}
	fmt.Fprintf(r.status, "❌ [gate] %d of %d %s failed in %s.\n",
		summary.Failed, summary.Total, noun, FormatDuration(summary.Duration))
}

// Stats prints a daemon stats response as an aligned table
func (r *Reporter) Stats(stats *daemon.StatsResponse) {
	rows := [][2]string{
		{"Uptime", FormatDuration(stats.Uptime)},
		{"Providers", strings.Join(stats.Providers, ", ")},
		{"Pending", fmt.Sprint(stats.Scheduler.Pending)},
		{"Executing", fmt.Sprint(stats.Scheduler.Executing)},
		{"Tokens", fmt.Sprintf("%.2f/%d", stats.Scheduler.Tokens, stats.Scheduler.Capacity)},
		{"Cache size", fmt.Sprint(stats.CacheSize)},
		{"Enqueued", fmt.Sprintf("%d (dedup hits %d)", stats.Counters.Enqueued, stats.Counters.DedupHits)},
		{"Succeeded", fmt.Sprint(stats.Counters.Succeeded)},
		{"Failed", fmt.Sprint(stats.Counters.Failed)},
		{"Retries", fmt.Sprintf("%d (timeouts %d)", stats.Counters.Retries, stats.Counters.Timeouts)},
		{"Workers", fmt.Sprintf("%d (queue %d/%d)", stats.Workers.Workers, stats.Workers.QueueLength, stats.Workers.QueueCapacity)},
		{"Memory", fmt.Sprintf("%.1f MB", stats.Resources.AllocMB)},
		{"Goroutines", fmt.Sprint(stats.Resources.NumGoroutine)},
	}
	for _, row := range rows {
		fmt.Fprintf(r.out, "%-12s%s\n", row[0]+":", row[1])
	}
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	if d < time.Second {
		return fmt.Sprintf("%.1fs", float64(d)/float64(time.Second))
	}

	if d < time.Minute {
		seconds := float64(d) / float64(time.Second)
		if seconds == float64(int(seconds)) {
			return fmt.Sprintf("%.0fs", seconds)
		}
		formatted := fmt.Sprintf("%.2f", seconds)
		formatted = strings.TrimRight(formatted, "0")
		formatted = strings.TrimRight(formatted, ".")
		return formatted + "s"
	}

	hours := d / time.Hour
	minutes := (d % time.Hour) / time.Minute
	seconds := (d % time.Minute) / time.Second

	var b strings.Builder
	if hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
	}
	if minutes > 0 {
		fmt.Fprintf(&b, "%dm", minutes)
	}
	if seconds > 0 {
		fmt.Fprintf(&b, "%ds", seconds)
	}
	return b.String()
}
