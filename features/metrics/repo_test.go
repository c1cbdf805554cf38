package metrics_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelmnz/mcp-markdown-manager-sub001/features/metrics"
)

func TestPostgresRepo_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO embedding_metrics (metric_type, value, unit, task_id, article_id, metadata, recorded_at)")).
		WithArgs("processing_time", 120.5, "ms", "t1", "", []byte(`{"op":"create"}`), at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = metrics.NewPostgresRepo(db).Insert(context.Background(), metrics.Sample{
		Type: metrics.TypeProcessingTime, Value: 120.5, Unit: "ms", TaskID: "t1",
		Metadata: map[string]string{"op": "create"}, RecordedAt: at,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Stats(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	from, to := time.Now().Add(-time.Hour), time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("percentile_cont(0.95) WITHIN GROUP (ORDER BY value)")).
		WithArgs("error_rate", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"count", "min", "max", "avg", "p50", "p95", "p99"}).
			AddRow(4, 1.0, 9.0, 4.5, 4.0, 8.7, 8.9))

	st, err := metrics.NewPostgresRepo(db).Stats(context.Background(), metrics.TypeErrorRate, from, to)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Count)
	assert.Equal(t, 8.7, st.P95)
	assert.Equal(t, metrics.TypeErrorRate, st.Type)
}

func TestPostgresRepo_WorkerStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := metrics.NewPostgresRepo(db)
	query := regexp.QuoteMeta("FROM embedding_worker_status WHERE id = 1")

	mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"is_running", "tp", "ts", "tf", "started_at", "last_heartbeat"}))
	ws, err := repo.WorkerStatus(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, ws)

	now := time.Now()
	mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"is_running", "tp", "ts", "tf", "started_at", "last_heartbeat"}).
		AddRow(true, 10, 9, 1, now, nil))
	ws, err = repo.WorkerStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, ws.IsRunning)
	assert.Equal(t, 9, ws.TasksSucceeded)
	assert.NotNil(t, ws.StartedAt)
	assert.Nil(t, ws.LastHeartbeat)
}

func TestPostgresRepo_DeleteBefore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cut := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM embedding_metrics WHERE recorded_at < $1")).
		WithArgs(cut).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := metrics.NewPostgresRepo(db).DeleteBefore(context.Background(), cut)
	assert.NoError(t, err)
	assert.Equal(t, int64(12), n)
}
