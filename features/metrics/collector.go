package metrics

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/joelmnz/mcp-markdown-manager-sub001/features/queue"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
)

type QueueStatsSource interface {
	GetQueueStats(ctx context.Context) (queue.Stats, error)
}

// Collector records performance samples and builds reports from them.
// Recording never fails the caller.
type Collector struct {
	repo    Repository
	queue   QueueStatsSource
	prom    *Prometheus
	started time.Time
	now     func() time.Time
}

func NewCollector(repo Repository, q QueueStatsSource, prom *Prometheus) *Collector {
	return &Collector{repo: repo, queue: q, prom: prom, started: time.Now(), now: time.Now}
}

func (c *Collector) Record(ctx context.Context, s Sample) {
	if s.RecordedAt.IsZero() {
		s.RecordedAt = c.now()
	}
	if c.prom != nil {
		c.prom.Observe(s)
	}
	if err := c.repo.Insert(ctx, s); err != nil {
		if c.prom != nil {
			c.prom.RecordErrors.Inc()
		}
		slog.WarnContext(ctx, "failed to record metric", "type", s.Type, "error", err)
	}
}

// RecordDuration records d in milliseconds.
func (c *Collector) RecordDuration(ctx context.Context, t Type, d time.Duration, taskID, articleID string) {
	c.Record(ctx, Sample{
		Type:      t,
		Value:     float64(d.Microseconds()) / 1000,
		Unit:      UnitMilliseconds,
		TaskID:    taskID,
		ArticleID: articleID,
	})
}

func (c *Collector) Stats(ctx context.Context, t Type, from, to time.Time) (Statistics, error) {
	if !t.Valid() {
		return Statistics{}, apperr.Newf(apperr.KindValidation, "unknown metric type %q", t)
	}
	if to.Before(from) {
		return Statistics{}, apperr.New(apperr.KindValidation, "range end before start")
	}
	return c.repo.Stats(ctx, t, from, to)
}

func (c *Collector) Summary(ctx context.Context, window time.Duration) (Report, error) {
	if window <= 0 {
		return Report{}, apperr.New(apperr.KindValidation, "window must be positive")
	}
	now := c.now()
	from := now.Add(-window)

	proc, err := c.repo.Stats(ctx, TypeProcessingTime, from, now)
	if err != nil {
		return Report{}, err
	}
	completed, failed, err := c.repo.TaskOutcomes(ctx, from)
	if err != nil {
		return Report{}, err
	}
	qs, err := c.queue.GetQueueStats(ctx)
	if err != nil {
		return Report{}, err
	}
	ws, err := c.repo.WorkerStatus(ctx)
	if err != nil {
		return Report{}, err
	}

	tasks := TaskSummary{
		ProcessingTime:    proc,
		Completed:         completed,
		Failed:            failed,
		ThroughputPerHour: float64(completed) / window.Hours(),
	}
	if total := completed + failed; total > 0 {
		tasks.ErrorRate = float64(failed) / float64(total) * 100
	}

	return Report{
		Window:      window.String(),
		GeneratedAt: now,
		Tasks:       tasks,
		Queue:       qs,
		Worker:      ws,
		System:      c.systemStats(now),
	}, nil
}

func (c *Collector) systemStats(now time.Time) SystemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemStats{
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(m.HeapAlloc) / (1 << 20),
		SysMB:         float64(m.Sys) / (1 << 20),
		NumGC:         m.NumGC,
		UptimeSeconds: now.Sub(c.started).Seconds(),
	}
}

func (c *Collector) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := c.repo.DeleteBefore(ctx, c.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.InfoContext(ctx, "deleted old metric samples", "count", n, "retention", retention)
	}
	return n, nil
}
