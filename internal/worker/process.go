package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joelmnz/mcp-markdown-manager-sub001/features/metrics"
	"github.com/joelmnz/mcp-markdown-manager-sub001/features/queue"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/audit"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/middleware"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/text"
)

// Backoff returns base * 2^(attempts-1), capped at max.
func Backoff(base time.Duration, attempts int, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// ProcessNext dequeues and handles at most one task. It reports whether a
// task was taken. Task failures are recorded on the task, not returned.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	task, err := w.deps.Queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	// A claimed task is finished even if ctx is cancelled meanwhile: the
	// handler gets DrainTimeout after cancellation and the status writes
	// always run, so the row never stays in processing.
	parent := ctx
	ctx = middleware.WithTaskID(context.WithoutCancel(ctx), task.ID)
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go w.drain(parent, done, cancel)

	slog.InfoContext(ctx, "processing task",
		"article_id", task.ArticleID,
		"operation", task.Operation,
		"attempt", task.Attempts,
	)
	w.deps.Audit.Emit(ctx, audit.Event{
		Type:      audit.TaskStarted,
		ArticleID: task.ArticleID,
		Operation: string(task.Operation),
		Attempt:   task.Attempts,
	})

	start := w.now()
	herr := w.handle(hctx, task)
	elapsed := w.now().Sub(start)
	w.busy.Add(int64(elapsed))
	w.processed.Add(1)

	if herr != nil {
		return true, w.fail(ctx, task, herr)
	}
	return true, w.complete(ctx, task, elapsed)
}

// drain cancels the task handler once parent has been done for DrainTimeout.
func (w *Worker) drain(parent context.Context, done <-chan struct{}, cancel context.CancelFunc) {
	select {
	case <-done:
		return
	case <-parent.Done():
	}
	t := time.NewTimer(w.cfg.DrainTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		slog.WarnContext(parent, "task did not finish within drain timeout", "timeout", w.cfg.DrainTimeout)
		cancel()
	}
}

func (w *Worker) handle(ctx context.Context, task *queue.Task) error {
	switch task.Operation {
	case queue.OpCreate, queue.OpUpdate:
		a, err := w.deps.Articles.ReadArticle(ctx, task.Slug)
		if err != nil {
			return err
		}
		if task.ArticleID != "" && a.ID != task.ArticleID {
			slog.WarnContext(ctx, "task article id differs from stored article", "task_article_id", task.ArticleID, "article_id", a.ID)
		}
		chunks := w.deps.Chunker.Chunk(a.ID, text.Document{
			Title:     a.Title,
			Content:   a.Content,
			CreatedAt: a.CreatedAt,
			UpdatedAt: a.UpdatedAt,
		})
		_, err = w.deps.Indexer.Upsert(ctx, a.ID, a.Title, chunks)
		return err
	case queue.OpDelete:
		return w.deps.Indexer.Delete(ctx, task.ArticleID)
	}
	return apperr.Newf(apperr.KindValidation, "unknown operation %q", task.Operation)
}

func (w *Worker) complete(ctx context.Context, task *queue.Task, elapsed time.Duration) error {
	if err := w.deps.Queue.UpdateStatus(ctx, task.ID, queue.StatusCompleted, ""); err != nil {
		// left in processing; the stuck sweep hands it back
		return fmt.Errorf("mark task %s completed: %w", task.ID, err)
	}
	w.succeeded.Add(1)
	w.recordOutcome(ctx, true)
	if w.deps.Metrics != nil {
		w.deps.Metrics.RecordDuration(ctx, metrics.TypeProcessingTime, elapsed, task.ID, task.ArticleID)
	}

	slog.InfoContext(ctx, "task completed", "article_id", task.ArticleID, "duration_ms", elapsed.Milliseconds())
	w.deps.Audit.Emit(ctx, audit.Event{
		Type:      audit.TaskCompleted,
		ArticleID: task.ArticleID,
		Operation: string(task.Operation),
		Attempt:   task.Attempts,
	})
	return nil
}

// fail retries transient errors with exponential backoff until the task runs
// out of attempts. Permanent errors fail the task at once.
func (w *Worker) fail(ctx context.Context, task *queue.Task, cause error) error {
	w.failed.Add(1)
	w.recordOutcome(ctx, false)
	w.recordErrorRate(ctx, task)

	msg := cause.Error()
	ev := audit.Event{
		ArticleID: task.ArticleID,
		Operation: string(task.Operation),
		Attempt:   task.Attempts,
		Error:     msg,
	}

	if apperr.IsPermanent(cause) || task.Attempts >= task.MaxAttempts {
		slog.ErrorContext(ctx, "task failed",
			"article_id", task.ArticleID,
			"attempts", task.Attempts,
			"permanent", apperr.IsPermanent(cause),
			"error", cause,
		)
		ev.Type = audit.TaskFailed
		w.deps.Audit.Emit(ctx, ev)
		if err := w.deps.Queue.UpdateStatus(ctx, task.ID, queue.StatusFailed, msg); err != nil {
			return fmt.Errorf("mark task %s failed: %w", task.ID, err)
		}
		return nil
	}

	delay := Backoff(w.cfg.RetryBaseDelay, task.Attempts, w.cfg.MaxRetryDelay)
	at := w.now().Add(delay)
	slog.WarnContext(ctx, "task failed, retry scheduled",
		"article_id", task.ArticleID,
		"attempts", task.Attempts,
		"max_attempts", task.MaxAttempts,
		"retry_in", delay,
		"error", cause,
	)
	ev.Type = audit.TaskRetryScheduled
	ev.RetryAt = &at
	w.deps.Audit.Emit(ctx, ev)
	if err := w.deps.Queue.Reschedule(ctx, task.ID, at, msg); err != nil {
		return fmt.Errorf("reschedule task %s: %w", task.ID, err)
	}
	return nil
}

func (w *Worker) recordOutcome(ctx context.Context, succeeded bool) {
	if err := w.deps.Status.RecordOutcome(ctx, succeeded); err != nil {
		slog.WarnContext(ctx, "failed to persist worker counters", "error", err)
	}
}

func (w *Worker) recordErrorRate(ctx context.Context, task *queue.Task) {
	if w.deps.Metrics == nil {
		return
	}
	processed := w.processed.Load()
	if processed == 0 {
		return
	}
	w.deps.Metrics.Record(ctx, metrics.Sample{
		Type:      metrics.TypeErrorRate,
		Value:     float64(w.failed.Load()) / float64(processed) * 100,
		Unit:      metrics.UnitPercent,
		TaskID:    task.ID,
		ArticleID: task.ArticleID,
	})
}
