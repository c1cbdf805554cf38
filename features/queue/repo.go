package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
)

type Repository interface {
	Insert(ctx context.Context, t *Task) error
	InsertUnique(ctx context.Context, t *Task) (string, bool, error)
	Dequeue(ctx context.Context, now time.Time) (*Task, error)
	UpdateStatus(ctx context.Context, id string, status Status, errMsg string, at time.Time) error
	Reschedule(ctx context.Context, id string, at time.Time, errMsg string) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, status Status, limit int) ([]Task, error)
	Delete(ctx context.Context, id string) (bool, error)
	ClearFailed(ctx context.Context) (int64, error)
	RetryFailed(ctx context.Context, at time.Time) (int64, error)
	ClearCompleted(ctx context.Context, before time.Time) (int64, error)
	ResetStuck(ctx context.Context, before time.Time, errMsg string) (int64, error)
	CountByStatus(ctx context.Context) (Stats, error)
	CountActiveBy(ctx context.Context, column string) (map[string]int, error)
	RecentErrors(ctx context.Context, limit int) ([]TaskError, error)
	FailedSince(ctx context.Context, since time.Time) (int, error)
	OldestPending(ctx context.Context) (*time.Time, error)
	HasPending(ctx context.Context, articleID string) (bool, error)
}

const taskColumns = `id, article_id, slug, operation, priority, status, attempts, max_attempts, created_at, scheduled_at, processed_at, completed_at, error_message, metadata`

const priorityRank = `CASE priority WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(s rowScanner) (*Task, error) {
	var (
		t           Task
		processedAt sql.NullTime
		completedAt sql.NullTime
		errMsg      sql.NullString
		metadata    []byte
	)
	err := s.Scan(&t.ID, &t.ArticleID, &t.Slug, &t.Operation, &t.Priority, &t.Status, &t.Attempts, &t.MaxAttempts,
		&t.CreatedAt, &t.ScheduledAt, &processedAt, &completedAt, &errMsg, &metadata)
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		t.ProcessedAt = &processedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	t.ErrorMessage = errMsg.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode task metadata: %w", err)
		}
	}
	return &t, nil
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (r *PostgresRepo) Insert(ctx context.Context, t *Task) error {
	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "encode metadata")
	}
	query := `INSERT INTO embedding_queue (id, article_id, slug, operation, priority, status, attempts, max_attempts, created_at, scheduled_at, metadata) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.db.ExecContext(ctx, query, t.ID, t.ArticleID, t.Slug, t.Operation, t.Priority, t.Status, t.Attempts, t.MaxAttempts, t.CreatedAt, t.ScheduledAt, meta)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "insert task")
	}
	return nil
}

// InsertUnique inserts t unless a pending or processing task for the same
// article and operation exists. It returns the id of whichever task is live
// and whether a new row was written.
func (r *PostgresRepo) InsertUnique(ctx context.Context, t *Task) (string, bool, error) {
	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return "", false, apperr.Wrap(apperr.KindValidation, err, "encode metadata")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, apperr.Wrap(apperr.KindStorage, err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, t.ArticleID); err != nil {
		return "", false, apperr.Wrap(apperr.KindStorage, err, "lock article")
	}

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM embedding_queue WHERE article_id = $1 AND operation = $2 AND status IN ('pending', 'processing') ORDER BY created_at LIMIT 1`,
		t.ArticleID, t.Operation).Scan(&existing)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", false, apperr.Wrap(apperr.KindStorage, err, "find live task")
	}

	query := `INSERT INTO embedding_queue (id, article_id, slug, operation, priority, status, attempts, max_attempts, created_at, scheduled_at, metadata) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := tx.ExecContext(ctx, query, t.ID, t.ArticleID, t.Slug, t.Operation, t.Priority, t.Status, t.Attempts, t.MaxAttempts, t.CreatedAt, t.ScheduledAt, meta); err != nil {
		return "", false, apperr.Wrap(apperr.KindStorage, err, "insert task")
	}
	if err := tx.Commit(); err != nil {
		return "", false, apperr.Wrap(apperr.KindStorage, err, "commit")
	}
	return t.ID, true, nil
}

// Dequeue claims the next task due at now. Rows locked by another
// transaction are skipped, so concurrent callers never receive the same task.
func (r *PostgresRepo) Dequeue(ctx context.Context, now time.Time) (*Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	selectQuery := `SELECT id FROM embedding_queue WHERE status = 'pending' AND scheduled_at <= $1 ORDER BY ` + priorityRank + `, created_at LIMIT 1 FOR UPDATE SKIP LOCKED`
	if err := tx.QueryRowContext(ctx, selectQuery, now).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindStorage, err, "select next task")
	}

	updateQuery := `UPDATE embedding_queue SET status = 'processing', attempts = attempts + 1, processed_at = $1 WHERE id = $2 RETURNING ` + taskColumns
	t, err := scanTask(tx.QueryRowContext(ctx, updateQuery, now, id))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "claim task")
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "commit")
	}
	return t, nil
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id string, status Status, errMsg string, at time.Time) error {
	query := `UPDATE embedding_queue SET status = $1, error_message = NULLIF($2, ''), completed_at = $3 WHERE id = $4`
	res, err := r.db.ExecContext(ctx, query, status, errMsg, at, id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "update task status")
	}
	return requireRow(res, id)
}

func (r *PostgresRepo) Reschedule(ctx context.Context, id string, at time.Time, errMsg string) error {
	query := `UPDATE embedding_queue SET status = 'pending', scheduled_at = $1, error_message = NULLIF($2, '') WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, at, errMsg, id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "reschedule task")
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "rows affected")
	}
	if n == 0 {
		return apperr.Newf(apperr.KindNotFound, "task %s not found", id)
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Task, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM embedding_queue WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "task %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "get task")
	}
	return t, nil
}

// List returns tasks newest first. An empty status lists every status.
func (r *PostgresRepo) List(ctx context.Context, status Status, limit int) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM embedding_queue WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "list tasks")
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, err, "scan task")
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM embedding_queue WHERE id = $1`, id)
	if err != nil {
		return false, apperr.Wrap(apperr.KindStorage, err, "delete task")
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepo) ClearFailed(ctx context.Context) (int64, error) {
	return r.execCount(ctx, "clear failed tasks", `DELETE FROM embedding_queue WHERE status = 'failed'`)
}

func (r *PostgresRepo) RetryFailed(ctx context.Context, at time.Time) (int64, error) {
	return r.execCount(ctx, "retry failed tasks",
		`UPDATE embedding_queue SET status = 'pending', scheduled_at = $1, completed_at = NULL WHERE status = 'failed' AND attempts < max_attempts`, at)
}

func (r *PostgresRepo) ClearCompleted(ctx context.Context, before time.Time) (int64, error) {
	return r.execCount(ctx, "clear completed tasks",
		`DELETE FROM embedding_queue WHERE status = 'completed' AND completed_at < $1`, before)
}

func (r *PostgresRepo) ResetStuck(ctx context.Context, before time.Time, errMsg string) (int64, error) {
	return r.execCount(ctx, "reset stuck tasks",
		`UPDATE embedding_queue SET status = 'pending', error_message = $1 WHERE status = 'processing' AND processed_at < $2`, errMsg, before)
}

func (r *PostgresRepo) execCount(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, err, op)
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (Stats, error) {
	var s Stats
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM embedding_queue GROUP BY status`)
	if err != nil {
		return s, apperr.Wrap(apperr.KindStorage, err, "count by status")
	}
	defer rows.Close()

	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return s, apperr.Wrap(apperr.KindStorage, err, "scan status count")
		}
		switch status {
		case StatusPending:
			s.Pending = n
		case StatusProcessing:
			s.Processing = n
		case StatusCompleted:
			s.Completed = n
		case StatusFailed:
			s.Failed = n
		}
		s.Total += n
	}
	return s, rows.Err()
}

// CountActiveBy groups pending and processing tasks by priority or operation.
func (r *PostgresRepo) CountActiveBy(ctx context.Context, column string) (map[string]int, error) {
	if column != "priority" && column != "operation" {
		return nil, apperr.Newf(apperr.KindValidation, "cannot group by %q", column)
	}
	query := `SELECT ` + column + `, COUNT(*) FROM embedding_queue WHERE status IN ('pending', 'processing') GROUP BY ` + column
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "count by "+column)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, err, "scan count")
		}
		out[key] = n
	}
	return out, rows.Err()
}

func (r *PostgresRepo) RecentErrors(ctx context.Context, limit int) ([]TaskError, error) {
	query := `SELECT id, slug, error_message, attempts, COALESCE(completed_at, processed_at, created_at) AS at FROM embedding_queue WHERE error_message IS NOT NULL ORDER BY at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "recent errors")
	}
	defer rows.Close()

	var out []TaskError
	for rows.Next() {
		var e TaskError
		if err := rows.Scan(&e.TaskID, &e.Slug, &e.ErrorMessage, &e.Attempts, &e.At); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, err, "scan error row")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) FailedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_queue WHERE status = 'failed' AND completed_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, err, "count recent failures")
	}
	return n, nil
}

func (r *PostgresRepo) OldestPending(ctx context.Context) (*time.Time, error) {
	var oldest sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT MIN(created_at) FROM embedding_queue WHERE status = 'pending'`).Scan(&oldest)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "oldest pending")
	}
	if !oldest.Valid {
		return nil, nil
	}
	return &oldest.Time, nil
}

func (r *PostgresRepo) HasPending(ctx context.Context, articleID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM embedding_queue WHERE article_id = $1 AND status IN ('pending', 'processing'))`
	if err := r.db.QueryRowContext(ctx, query, articleID).Scan(&exists); err != nil {
		return false, apperr.Wrap(apperr.KindStorage, err, "has pending")
	}
	return exists, nil
}
