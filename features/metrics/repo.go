package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
)

type Repository interface {
	Insert(ctx context.Context, s Sample) error
	Stats(ctx context.Context, t Type, from, to time.Time) (Statistics, error)
	TaskOutcomes(ctx context.Context, since time.Time) (completed, failed int, err error)
	WorkerStatus(ctx context.Context) (*WorkerStatus, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Insert(ctx context.Context, s Sample) error {
	meta := []byte("{}")
	if s.Metadata != nil {
		b, err := json.Marshal(s.Metadata)
		if err != nil {
			return err
		}
		meta = b
	}
	query := `INSERT INTO embedding_metrics (metric_type, value, unit, task_id, article_id, metadata, recorded_at) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)`
	_, err := r.db.ExecContext(ctx, query, s.Type, s.Value, s.Unit, s.TaskID, s.ArticleID, meta, s.RecordedAt)
	return err
}

func (r *PostgresRepo) Stats(ctx context.Context, t Type, from, to time.Time) (Statistics, error) {
	st := Statistics{Type: t}
	query := `SELECT COUNT(*),
		COALESCE(MIN(value), 0), COALESCE(MAX(value), 0), COALESCE(AVG(value), 0),
		COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY value), 0),
		COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY value), 0),
		COALESCE(percentile_cont(0.99) WITHIN GROUP (ORDER BY value), 0)
		FROM embedding_metrics WHERE metric_type = $1 AND recorded_at >= $2 AND recorded_at <= $3`
	err := r.db.QueryRowContext(ctx, query, t, from, to).
		Scan(&st.Count, &st.Min, &st.Max, &st.Mean, &st.Median, &st.P95, &st.P99)
	if err != nil {
		return st, apperr.Wrap(apperr.KindStorage, err, "metric stats")
	}
	return st, nil
}

func (r *PostgresRepo) TaskOutcomes(ctx context.Context, since time.Time) (int, int, error) {
	var completed, failed int
	query := `SELECT COUNT(*) FILTER (WHERE status = 'completed'), COUNT(*) FILTER (WHERE status = 'failed') FROM embedding_queue WHERE completed_at >= $1`
	if err := r.db.QueryRowContext(ctx, query, since).Scan(&completed, &failed); err != nil {
		return 0, 0, apperr.Wrap(apperr.KindStorage, err, "task outcomes")
	}
	return completed, failed, nil
}

// WorkerStatus returns nil when the worker has never started.
func (r *PostgresRepo) WorkerStatus(ctx context.Context) (*WorkerStatus, error) {
	var (
		ws        WorkerStatus
		started   sql.NullTime
		heartbeat sql.NullTime
	)
	query := `SELECT is_running, tasks_processed, tasks_succeeded, tasks_failed, started_at, last_heartbeat FROM embedding_worker_status WHERE id = 1`
	err := r.db.QueryRowContext(ctx, query).Scan(&ws.IsRunning, &ws.TasksProcessed, &ws.TasksSucceeded, &ws.TasksFailed, &started, &heartbeat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "worker status")
	}
	if started.Valid {
		ws.StartedAt = &started.Time
	}
	if heartbeat.Valid {
		ws.LastHeartbeat = &heartbeat.Time
	}
	return &ws, nil
}

func (r *PostgresRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM embedding_metrics WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, err, "delete metrics")
	}
	return res.RowsAffected()
}
