package worker_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/joelmnz/mcp-markdown-manager-sub001/features/article"
	"github.com/joelmnz/mcp-markdown-manager-sub001/features/metrics"
	"github.com/joelmnz/mcp-markdown-manager-sub001/features/queue"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/audit"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/index"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/text"
)

type statusUpdate struct {
	id     string
	status queue.Status
	msg    string
}

type reschedule struct {
	id  string
	at  time.Time
	msg string
}

// fakeQueue hands out tasks in order and records what happened to them.
type fakeQueue struct {
	mu          sync.Mutex
	tasks       []*queue.Task
	dequeueErr  error
	updates     []statusUpdate
	reschedules []reschedule
	stuckCalls  int
	stuck       int64
	cleared     int
	stats       queue.Stats
}

func (q *fakeQueue) Dequeue(context.Context) (*queue.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dequeueErr != nil {
		return nil, q.dequeueErr
	}
	if len(q.tasks) == 0 {
		return nil, nil
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	t.Status = queue.StatusProcessing
	t.Attempts++
	return t, nil
}

// Writes fail on a cancelled context, as they do through database/sql.
func (q *fakeQueue) UpdateStatus(ctx context.Context, id string, status queue.Status, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.updates = append(q.updates, statusUpdate{id, status, msg})
	return nil
}

func (q *fakeQueue) Reschedule(ctx context.Context, id string, at time.Time, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reschedules = append(q.reschedules, reschedule{id, at, msg})
	return nil
}

func (q *fakeQueue) CleanupStuckTasks(context.Context, time.Duration) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stuckCalls++
	n := q.stuck
	q.stuck = 0
	return n, nil
}

func (q *fakeQueue) ClearCompletedTasks(context.Context, time.Duration) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cleared++
	return 0, nil
}

func (q *fakeQueue) GetQueueStats(context.Context) (queue.Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats, nil
}

func (q *fakeQueue) snapshot() ([]statusUpdate, []reschedule, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]statusUpdate(nil), q.updates...), append([]reschedule(nil), q.reschedules...), q.stuckCalls
}

type MockIndexer struct{ mock.Mock }

func (m *MockIndexer) Upsert(ctx context.Context, articleID, title string, chunks []text.Chunk) (index.UpsertResult, error) {
	args := m.Called(ctx, articleID, title, chunks)
	return args.Get(0).(index.UpsertResult), args.Error(1)
}

func (m *MockIndexer) Delete(ctx context.Context, articleID string) error {
	return m.Called(ctx, articleID).Error(0)
}

type fakeArticles struct {
	articles map[string]*article.Article
}

func (f *fakeArticles) ReadArticle(_ context.Context, slug string) (*article.Article, error) {
	if a, ok := f.articles[slug]; ok {
		return a, nil
	}
	return nil, apperr.Newf(apperr.KindNotFound, "article %s not found", slug)
}

func (f *fakeArticles) ListArticles(context.Context) ([]article.Summary, error) { return nil, nil }

func (f *fakeArticles) GetArticleID(context.Context, string) (string, error) { return "", nil }

type fakeStatus struct {
	mu        sync.Mutex
	started   int
	stopped   int
	beats     int
	succeeded int
	failed    int
}

func (s *fakeStatus) MarkStarted(context.Context, time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	return nil
}

func (s *fakeStatus) Heartbeat(context.Context, time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beats++
	return nil
}

func (s *fakeStatus) RecordOutcome(_ context.Context, ok bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.succeeded++
	} else {
		s.failed++
	}
	return nil
}

func (s *fakeStatus) MarkStopped(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *fakeStatus) Get(context.Context) (*metrics.WorkerStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &metrics.WorkerStatus{
		IsRunning:      s.started > s.stopped,
		TasksProcessed: s.succeeded + s.failed,
		TasksSucceeded: s.succeeded,
		TasksFailed:    s.failed,
	}, nil
}

func (s *fakeStatus) heartbeats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beats
}

type fakeMetrics struct {
	mu      sync.Mutex
	samples []metrics.Sample
	cleaned int
}

func (f *fakeMetrics) Record(_ context.Context, s metrics.Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, s)
}

func (f *fakeMetrics) RecordDuration(ctx context.Context, t metrics.Type, d time.Duration, taskID, articleID string) {
	f.Record(ctx, metrics.Sample{Type: t, Value: float64(d.Milliseconds()), TaskID: taskID, ArticleID: articleID})
}

func (f *fakeMetrics) Cleanup(context.Context, time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned++
	return 0, nil
}

func (f *fakeMetrics) types() map[metrics.Type]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[metrics.Type]int{}
	for _, s := range f.samples {
		out[s.Type]++
	}
	return out
}

type fakeAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (f *fakeAudit) Emit(_ context.Context, e audit.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeAudit) types() []audit.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]audit.EventType, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}
