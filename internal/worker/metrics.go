package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/joelmnz/mcp-markdown-manager-sub001/features/metrics"
)

const retentionInterval = time.Hour

// collectMetrics samples queue depth, throughput, utilization and error rate
// since the previous tick, and applies retention once an hour.
func (w *Worker) collectMetrics(ctx context.Context) {
	if w.deps.Metrics == nil {
		return
	}
	now := w.now()
	elapsed := now.Sub(w.lastTick)

	if stats, err := w.deps.Queue.GetQueueStats(ctx); err != nil {
		slog.WarnContext(ctx, "failed to read queue stats for metrics", "error", err)
	} else {
		w.deps.Metrics.Record(ctx, metrics.Sample{Type: metrics.TypeQueueDepth, Value: float64(stats.Pending), Unit: metrics.UnitCount})
	}

	succeeded := w.succeeded.Load()
	busy := w.busy.Load()
	if elapsed > 0 {
		w.deps.Metrics.Record(ctx, metrics.Sample{
			Type:  metrics.TypeThroughput,
			Value: float64(succeeded-w.lastSucceeded) / elapsed.Hours(),
			Unit:  metrics.UnitPerHour,
		})
		util := float64(busy-w.lastBusy) / float64(elapsed) * 100
		if util > 100 {
			util = 100
		}
		w.deps.Metrics.Record(ctx, metrics.Sample{Type: metrics.TypeWorkerUtilization, Value: util, Unit: metrics.UnitPercent})
	}
	if processed := w.processed.Load(); processed > 0 {
		w.deps.Metrics.Record(ctx, metrics.Sample{
			Type:  metrics.TypeErrorRate,
			Value: float64(w.failed.Load()) / float64(processed) * 100,
			Unit:  metrics.UnitPercent,
		})
	}
	w.lastTick, w.lastSucceeded, w.lastBusy = now, succeeded, busy

	if now.Sub(w.lastCleanup) >= retentionInterval {
		w.applyRetention(ctx)
		w.lastCleanup = now
	}
}

func (w *Worker) applyRetention(ctx context.Context) {
	if w.cfg.CompletedRetention > 0 {
		n, err := w.deps.Queue.ClearCompletedTasks(ctx, w.cfg.CompletedRetention)
		if err != nil {
			slog.WarnContext(ctx, "failed to clear completed tasks", "error", err)
		} else if n > 0 {
			slog.InfoContext(ctx, "cleared completed tasks", "count", n)
		}
	}
	if w.cfg.MetricsRetention > 0 {
		if _, err := w.deps.Metrics.Cleanup(ctx, w.cfg.MetricsRetention); err != nil {
			slog.WarnContext(ctx, "failed to clean up metrics", "error", err)
		}
	}
}
