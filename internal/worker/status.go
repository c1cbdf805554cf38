package worker

import (
	"context"
	"database/sql"
	"time"

	"github.com/joelmnz/mcp-markdown-manager-sub001/features/metrics"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
)

// StatusRepository persists the singleton worker status row.
type StatusRepository interface {
	MarkStarted(ctx context.Context, at time.Time) error
	Heartbeat(ctx context.Context, at time.Time) error
	RecordOutcome(ctx context.Context, succeeded bool) error
	MarkStopped(ctx context.Context) error
	Get(ctx context.Context) (*metrics.WorkerStatus, error)
}

type PostgresStatusRepo struct {
	db *sql.DB
}

func NewPostgresStatusRepo(db *sql.DB) *PostgresStatusRepo {
	return &PostgresStatusRepo{db: db}
}

// MarkStarted resets the counters and flags the worker as running.
func (r *PostgresStatusRepo) MarkStarted(ctx context.Context, at time.Time) error {
	query := `
INSERT INTO embedding_worker_status (id, is_running, tasks_processed, tasks_succeeded, tasks_failed, started_at, last_heartbeat, updated_at)
VALUES (1, TRUE, 0, 0, 0, $1, $1, $1)
ON CONFLICT (id) DO UPDATE SET
  is_running = TRUE,
  tasks_processed = 0,
  tasks_succeeded = 0,
  tasks_failed = 0,
  started_at = EXCLUDED.started_at,
  last_heartbeat = EXCLUDED.last_heartbeat,
  updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, at); err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "mark worker started")
	}
	return nil
}

func (r *PostgresStatusRepo) Heartbeat(ctx context.Context, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE embedding_worker_status SET last_heartbeat = $1, updated_at = $1 WHERE id = 1`, at); err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "worker heartbeat")
	}
	return nil
}

func (r *PostgresStatusRepo) RecordOutcome(ctx context.Context, succeeded bool) error {
	query := `
UPDATE embedding_worker_status SET
  tasks_processed = tasks_processed + 1,
  tasks_succeeded = tasks_succeeded + CASE WHEN $1 THEN 1 ELSE 0 END,
  tasks_failed = tasks_failed + CASE WHEN $1 THEN 0 ELSE 1 END,
  updated_at = NOW()
WHERE id = 1`
	if _, err := r.db.ExecContext(ctx, query, succeeded); err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "record worker outcome")
	}
	return nil
}

func (r *PostgresStatusRepo) MarkStopped(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE embedding_worker_status SET is_running = FALSE, updated_at = NOW() WHERE id = 1`); err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "mark worker stopped")
	}
	return nil
}

func (r *PostgresStatusRepo) Get(ctx context.Context) (*metrics.WorkerStatus, error) {
	return metrics.NewPostgresRepo(r.db).WorkerStatus(ctx)
}
