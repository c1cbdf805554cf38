package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joelmnz/mcp-markdown-manager-sub001/features/article"
	"github.com/joelmnz/mcp-markdown-manager-sub001/features/metrics"
	"github.com/joelmnz/mcp-markdown-manager-sub001/features/queue"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/audit"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/index"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/text"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/worker"
)

type harness struct {
	queue   *fakeQueue
	indexer *MockIndexer
	status  *fakeStatus
	metrics *fakeMetrics
	audit   *fakeAudit
	worker  *worker.Worker
}

func newHarness(cfg worker.Config, tasks ...*queue.Task) *harness {
	h := &harness{
		queue:   &fakeQueue{tasks: tasks},
		indexer: new(MockIndexer),
		status:  &fakeStatus{},
		metrics: &fakeMetrics{},
		audit:   &fakeAudit{},
	}
	h.worker = worker.New(worker.Deps{
		Queue: h.queue,
		Articles: &fakeArticles{articles: map[string]*article.Article{
			"guide": {ID: "a1", Slug: "guide", Title: "Guide", Content: "# Install\nrun the installer"},
		}},
		Chunker: text.NewChunker(0, 0),
		Indexer: h.indexer,
		Metrics: h.metrics,
		Status:  h.status,
		Audit:   h.audit,
	}, cfg)
	return h
}

func task(op queue.Operation, attempts, max int) *queue.Task {
	return &queue.Task{
		ID:          "t1",
		ArticleID:   "a1",
		Slug:        "guide",
		Operation:   op,
		Priority:    queue.PriorityNormal,
		Status:      queue.StatusPending,
		Attempts:    attempts,
		MaxAttempts: max,
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		max      time.Duration
		want     time.Duration
	}{
		{0, time.Hour, time.Second},
		{1, time.Hour, time.Second},
		{2, time.Hour, 2 * time.Second},
		{3, time.Hour, 4 * time.Second},
		{4, time.Hour, 8 * time.Second},
		{5, 10 * time.Second, 10 * time.Second},
		{200, time.Hour, time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, worker.Backoff(time.Second, tt.attempts, tt.max), "attempts=%d", tt.attempts)
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, worker.DefaultConfig().Validate())

	cfg := worker.DefaultConfig()
	cfg.PollInterval = 0
	assert.ErrorIs(t, cfg.Validate(), worker.ErrInvalidConfig)

	cfg = worker.DefaultConfig()
	cfg.MaxRetryDelay = cfg.RetryBaseDelay / 2
	assert.ErrorIs(t, cfg.Validate(), worker.ErrInvalidConfig)
}

func TestProcessNext_EmptyQueue(t *testing.T) {
	h := newHarness(worker.DefaultConfig())

	took, err := h.worker.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, took)
	h.indexer.AssertNotCalled(t, "Upsert")
}

func TestProcessNext_DequeueError(t *testing.T) {
	h := newHarness(worker.DefaultConfig())
	h.queue.dequeueErr = errors.New("connection refused")

	took, err := h.worker.ProcessNext(context.Background())
	assert.Error(t, err)
	assert.False(t, took)
}

func TestProcessNext_Success(t *testing.T) {
	h := newHarness(worker.DefaultConfig(), task(queue.OpCreate, 0, 3))
	h.indexer.On("Upsert", mock.Anything, "a1", "Guide", mock.MatchedBy(func(c []text.Chunk) bool {
		return len(c) == 1 && c[0].Text == "run the installer" && c[0].HeadingPath[0] == "Install"
	})).Return(index.UpsertResult{Embedded: 1}, nil)

	took, err := h.worker.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, took)

	updates, res, _ := h.queue.snapshot()
	require.Len(t, updates, 1)
	assert.Equal(t, queue.StatusCompleted, updates[0].status)
	assert.Empty(t, res)
	assert.Equal(t, 1, h.status.succeeded)
	assert.Equal(t, 1, h.metrics.types()[metrics.TypeProcessingTime])
	assert.Equal(t, []audit.EventType{audit.TaskStarted, audit.TaskCompleted}, h.audit.types())
	h.indexer.AssertExpectations(t)
}

func TestProcessNext_Delete(t *testing.T) {
	h := newHarness(worker.DefaultConfig(), task(queue.OpDelete, 0, 3))
	h.indexer.On("Delete", mock.Anything, "a1").Return(nil)

	_, err := h.worker.ProcessNext(context.Background())
	require.NoError(t, err)

	updates, _, _ := h.queue.snapshot()
	require.Len(t, updates, 1)
	assert.Equal(t, queue.StatusCompleted, updates[0].status)
}

func TestProcessNext_TransientFailureReschedules(t *testing.T) {
	h := newHarness(worker.DefaultConfig(), task(queue.OpUpdate, 1, 3))
	h.indexer.On("Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(index.UpsertResult{}, apperr.New(apperr.KindProvider, "rate limited"))

	before := time.Now()
	took, err := h.worker.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, took)

	updates, res, _ := h.queue.snapshot()
	assert.Empty(t, updates)
	require.Len(t, res, 1)
	// second attempt: base * 2
	assert.WithinDuration(t, before.Add(2*time.Second), res[0].at, time.Second)
	assert.Contains(t, res[0].msg, "rate limited")
	assert.Equal(t, 1, h.status.failed)
	assert.Equal(t, 1, h.metrics.types()[metrics.TypeErrorRate])
	assert.Contains(t, h.audit.types(), audit.TaskRetryScheduled)
}

func TestProcessNext_ExhaustedAttemptsFail(t *testing.T) {
	h := newHarness(worker.DefaultConfig(), task(queue.OpUpdate, 2, 3))
	h.indexer.On("Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(index.UpsertResult{}, errors.New("timeout"))

	_, err := h.worker.ProcessNext(context.Background())
	require.NoError(t, err)

	updates, res, _ := h.queue.snapshot()
	assert.Empty(t, res)
	require.Len(t, updates, 1)
	assert.Equal(t, queue.StatusFailed, updates[0].status)
	assert.Equal(t, "timeout", updates[0].msg)
	assert.Contains(t, h.audit.types(), audit.TaskFailed)
}

func TestProcessNext_PermanentErrorFailsImmediately(t *testing.T) {
	tests := []struct {
		name  string
		task  *queue.Task
		setup func(*MockIndexer)
	}{
		{
			name: "article missing",
			task: &queue.Task{ID: "t1", ArticleID: "a9", Slug: "gone", Operation: queue.OpUpdate, MaxAttempts: 3},
		},
		{
			name: "dimension mismatch",
			task: task(queue.OpCreate, 0, 3),
			setup: func(m *MockIndexer) {
				m.On("Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(index.UpsertResult{}, apperr.New(apperr.KindValidation, "dimension mismatch"))
			},
		},
		{
			name: "unknown operation",
			task: &queue.Task{ID: "t1", ArticleID: "a1", Operation: "reindex", MaxAttempts: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(worker.DefaultConfig(), tt.task)
			if tt.setup != nil {
				tt.setup(h.indexer)
			}

			_, err := h.worker.ProcessNext(context.Background())
			require.NoError(t, err)

			updates, res, _ := h.queue.snapshot()
			assert.Empty(t, res)
			require.Len(t, updates, 1)
			assert.Equal(t, queue.StatusFailed, updates[0].status)
			assert.NotEmpty(t, updates[0].msg)
		})
	}
}

func fastConfig() worker.Config {
	cfg := worker.DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.HeartbeatInterval = 5 * time.Millisecond
	cfg.MetricsInterval = 5 * time.Millisecond
	cfg.StuckSweepInterval = 5 * time.Millisecond
	return cfg
}

func TestWorker_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(fastConfig(), task(queue.OpCreate, 0, 3))
	h.queue.stuck = 2
	h.indexer.On("Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(index.UpsertResult{}, nil)
	ctx := context.Background()

	require.NoError(t, h.worker.Start(ctx))
	assert.True(t, h.worker.IsRunning())
	require.NoError(t, h.worker.Start(ctx), "second start is a no-op")

	require.Eventually(t, func() bool {
		updates, _, _ := h.queue.snapshot()
		return len(updates) == 1 && h.status.heartbeats() > 0 && h.metrics.types()[metrics.TypeQueueDepth] > 0
	}, 2*time.Second, 5*time.Millisecond)

	stats, err := h.worker.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Running)
	assert.Equal(t, int64(1), stats.Succeeded)
	require.NotNil(t, stats.Persisted)
	assert.True(t, stats.Persisted.IsRunning)

	require.NoError(t, h.worker.Stop(ctx))
	assert.False(t, h.worker.IsRunning())
	require.NoError(t, h.worker.Stop(ctx), "second stop is a no-op")

	_, _, stuckCalls := h.queue.snapshot()
	assert.GreaterOrEqual(t, stuckCalls, 1)
	assert.Equal(t, 1, h.status.started)
	assert.Equal(t, 1, h.status.stopped)
	assert.Equal(t, 1, h.metrics.cleaned, "retention runs once an hour")

	types := h.audit.types()
	assert.Equal(t, audit.WorkerStarted, types[0])
	assert.Contains(t, types, audit.TasksRecovered)
	assert.Equal(t, audit.WorkerStopped, types[len(types)-1])
}

func TestWorker_StartRejectsInvalidConfig(t *testing.T) {
	cfg := worker.DefaultConfig()
	cfg.HeartbeatInterval = 0
	h := newHarness(cfg)

	err := h.worker.Start(context.Background())
	assert.ErrorIs(t, err, worker.ErrInvalidConfig)
	assert.False(t, h.worker.IsRunning())
	assert.Equal(t, 0, h.status.started)
}

func TestWorker_SurvivesTickErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(fastConfig())
	h.queue.dequeueErr = errors.New("db down")

	require.NoError(t, h.worker.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, h.worker.IsRunning())
	require.NoError(t, h.worker.Stop(context.Background()))
}

func TestWorker_StopFinishesClaimedTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(fastConfig(), task(queue.OpCreate, 0, 3))
	started := make(chan struct{})
	release := make(chan struct{})
	h.indexer.On("Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			ctx := args.Get(0).(context.Context)
			select {
			case <-release:
			case <-ctx.Done():
			}
		}).
		Return(index.UpsertResult{}, nil)

	require.NoError(t, h.worker.Start(context.Background()))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task was never picked up")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- h.worker.Stop(context.Background()) }()
	require.Eventually(t, func() bool { return !h.worker.IsRunning() }, time.Second, time.Millisecond)
	// let the loops see the cancellation before the handler returns
	time.Sleep(20 * time.Millisecond)
	close(release)
	require.NoError(t, <-stopped)

	updates, res, _ := h.queue.snapshot()
	assert.Empty(t, res)
	require.Len(t, updates, 1)
	assert.Equal(t, queue.StatusCompleted, updates[0].status)
}

func TestWorker_StopReschedulesTaskAfterDrainTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := fastConfig()
	cfg.DrainTimeout = 10 * time.Millisecond
	h := newHarness(cfg, task(queue.OpCreate, 0, 3))
	started := make(chan struct{})
	h.indexer.On("Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(index.UpsertResult{}, context.Canceled)

	require.NoError(t, h.worker.Start(context.Background()))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task was never picked up")
	}
	require.NoError(t, h.worker.Stop(context.Background()))

	updates, res, _ := h.queue.snapshot()
	assert.Empty(t, updates)
	require.Len(t, res, 1, "task handed back to pending")
	assert.Equal(t, "t1", res[0].id)
}
