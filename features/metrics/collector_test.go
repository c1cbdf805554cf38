package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelmnz/mcp-markdown-manager-sub001/features/queue"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
)

type fakeRepo struct {
	inserted  []Sample
	insertErr error
	stats     Statistics
	completed int
	failed    int
	worker    *WorkerStatus
	deleteCut time.Time
}

func (f *fakeRepo) Insert(ctx context.Context, s Sample) error {
	f.inserted = append(f.inserted, s)
	return f.insertErr
}

func (f *fakeRepo) Stats(ctx context.Context, t Type, from, to time.Time) (Statistics, error) {
	s := f.stats
	s.Type = t
	return s, nil
}

func (f *fakeRepo) TaskOutcomes(ctx context.Context, since time.Time) (int, int, error) {
	return f.completed, f.failed, nil
}

func (f *fakeRepo) WorkerStatus(ctx context.Context) (*WorkerStatus, error) {
	return f.worker, nil
}

func (f *fakeRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	f.deleteCut = before
	return 7, nil
}

type fakeQueue struct{ stats queue.Stats }

func (f fakeQueue) GetQueueStats(ctx context.Context) (queue.Stats, error) { return f.stats, nil }

func newTestCollector(repo *fakeRepo) (*Collector, *Prometheus) {
	prom := NewPrometheus(prometheus.NewRegistry())
	c := NewCollector(repo, fakeQueue{stats: queue.Stats{Pending: 4, Total: 4}}, prom)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.started = now.Add(-time.Hour)
	return c, prom
}

func TestCollector_Record_SwallowsErrors(t *testing.T) {
	repo := &fakeRepo{insertErr: errors.New("db down")}
	c, prom := newTestCollector(repo)

	assert.NotPanics(t, func() {
		c.Record(context.Background(), Sample{Type: TypeQueueDepth, Value: 12, Unit: UnitCount})
	})

	require.Len(t, repo.inserted, 1)
	assert.False(t, repo.inserted[0].RecordedAt.IsZero())
	assert.Equal(t, 12.0, testutil.ToFloat64(prom.QueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.RecordErrors))
}

func TestCollector_RecordDuration(t *testing.T) {
	repo := &fakeRepo{}
	c, prom := newTestCollector(repo)

	c.RecordDuration(context.Background(), TypeProcessingTime, 1500*time.Millisecond, "t1", "a1")

	require.Len(t, repo.inserted, 1)
	assert.Equal(t, 1500.0, repo.inserted[0].Value)
	assert.Equal(t, UnitMilliseconds, repo.inserted[0].Unit)
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.SamplesRecorded.WithLabelValues("processing_time")))
}

func TestCollector_Stats_Validation(t *testing.T) {
	c, _ := newTestCollector(&fakeRepo{})
	now := time.Now()

	_, err := c.Stats(context.Background(), "latency", now.Add(-time.Hour), now)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = c.Stats(context.Background(), TypeErrorRate, now, now.Add(-time.Hour))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCollector_Summary(t *testing.T) {
	repo := &fakeRepo{
		stats:     Statistics{Count: 3, Mean: 200, P95: 400},
		completed: 36,
		failed:    4,
		worker:    &WorkerStatus{IsRunning: true, TasksProcessed: 40},
	}
	c, _ := newTestCollector(repo)

	r, err := c.Summary(context.Background(), 12*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, TypeProcessingTime, r.Tasks.ProcessingTime.Type)
	assert.Equal(t, 36, r.Tasks.Completed)
	assert.InDelta(t, 10.0, r.Tasks.ErrorRate, 0.001)
	assert.InDelta(t, 3.0, r.Tasks.ThroughputPerHour, 0.001)
	assert.Equal(t, 4, r.Queue.Pending)
	assert.True(t, r.Worker.IsRunning)
	assert.InDelta(t, 3600, r.System.UptimeSeconds, 0.001)
	assert.Greater(t, r.System.Goroutines, 0)
}

func TestCollector_Summary_NoTasks(t *testing.T) {
	c, _ := newTestCollector(&fakeRepo{})

	r, err := c.Summary(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, r.Tasks.ErrorRate)
	assert.Nil(t, r.Worker)

	_, err = c.Summary(context.Background(), 0)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCollector_Cleanup(t *testing.T) {
	repo := &fakeRepo{}
	c, _ := newTestCollector(repo)

	n, err := c.Cleanup(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, c.now().Add(-30*24*time.Hour), repo.deleteCut)
}
