package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/config"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		ServerPort:         8081,
		EmbeddingDimension: 3,
		ChunkWords:         50,
		ChunkOverlapWords:  5,
		QueueMaxAttempts:   3,
	}
}

func newTestApp(t *testing.T, vectorInstalled bool) (*App, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM pg_extension`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(vectorInstalled))

	a, err := New(context.Background(), testConfig(), db, stubEmbedder{}, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	return a, mock
}

func TestNew(t *testing.T) {
	a, mock := newTestApp(t, true)

	assert.NotNil(t, a.Handler)
	assert.NotNil(t, a.Queue)
	assert.NotNil(t, a.Indexer)
	assert.NotNil(t, a.Retrieval)
	assert.NotNil(t, a.Worker)
	assert.NotNil(t, a.Intake)
	assert.Equal(t, "pgvector", a.Searcher.Name())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(context.Background(), testConfig(), nil, stubEmbedder{}, nil, nil)
	assert.Error(t, err)
}

func TestNew_FallsBackToMemorySearcher(t *testing.T) {
	a, _ := newTestApp(t, false)
	assert.Equal(t, "memory", a.Searcher.Name())
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		a, mock := newTestApp(t, true)
		mock.ExpectPing()

		rec := httptest.NewRecorder()
		a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "pgvector", body["searcher"])
		assert.Equal(t, false, body["worker"])
		assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
	})

	t.Run("db down", func(t *testing.T) {
		a, mock := newTestApp(t, true)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		rec := httptest.NewRecorder()
		a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "unavailable", body["status"])
	})
}

func TestWorkerStatus(t *testing.T) {
	a, mock := newTestApp(t, true)
	mock.ExpectQuery(`SELECT is_running, tasks_processed`).
		WillReturnRows(sqlmock.NewRows([]string{"is_running", "tasks_processed", "tasks_succeeded", "tasks_failed", "started_at", "last_heartbeat"}).
			AddRow(false, 4, 3, 1, nil, nil))

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/worker/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.NotNil(t, body.Data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricsEndpoint(t *testing.T) {
	a, _ := newTestApp(t, true)

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWorkerConfig(t *testing.T) {
	cfg := testConfig()
	cfg.WorkerPollInterval = 7
	cfg.WorkerMaxRetryDelay = 9

	wc := WorkerConfig(cfg)
	assert.EqualValues(t, 7, wc.PollInterval)
	assert.EqualValues(t, 9, wc.MaxRetryDelay)
}
