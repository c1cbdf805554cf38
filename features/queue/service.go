package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
)

const (
	defaultMaxAttempts = 3
	retryFailedDelay   = 30 * time.Second
	recentErrorLimit   = 10
	defaultListLimit   = 50
)

type Service struct {
	repo        Repository
	maxAttempts int
	thresholds  HealthThresholds
	now         func() time.Time
}

type Option func(*Service)

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithHealthThresholds(h HealthThresholds) Option {
	return func(s *Service) { s.thresholds = h }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		maxAttempts: defaultMaxAttempts,
		thresholds:  DefaultHealthThresholds(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) build(in NewTask) (*Task, error) {
	if in.ArticleID == "" {
		return nil, apperr.New(apperr.KindValidation, "articleId is required")
	}
	if !in.Operation.Valid() {
		return nil, apperr.Newf(apperr.KindValidation, "invalid operation %q", in.Operation)
	}
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	if !in.Priority.Valid() {
		return nil, apperr.Newf(apperr.KindValidation, "invalid priority %q", in.Priority)
	}
	if in.MaxAttempts < 0 {
		return nil, apperr.New(apperr.KindValidation, "maxAttempts must not be negative")
	}
	if in.MaxAttempts == 0 {
		in.MaxAttempts = s.maxAttempts
	}

	now := s.now()
	scheduled := now
	if in.ScheduledAt != nil {
		if in.ScheduledAt.IsZero() {
			return nil, apperr.New(apperr.KindValidation, "scheduledAt must be a real time")
		}
		scheduled = *in.ScheduledAt
	}

	return &Task{
		ID:          uuid.New().String(),
		ArticleID:   in.ArticleID,
		Slug:        in.Slug,
		Operation:   in.Operation,
		Priority:    in.Priority,
		Status:      StatusPending,
		MaxAttempts: in.MaxAttempts,
		CreatedAt:   now,
		ScheduledAt: scheduled,
		Metadata:    in.Metadata,
	}, nil
}

// Enqueue stores a new pending task and returns its id. Duplicate tasks for
// the same article are allowed; see EnqueueUnique.
func (s *Service) Enqueue(ctx context.Context, in NewTask) (string, error) {
	t, err := s.build(in)
	if err != nil {
		return "", err
	}
	if err := s.repo.Insert(ctx, t); err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "task enqueued", "task_id", t.ID, "article_id", t.ArticleID, "operation", t.Operation, "priority", t.Priority)
	return t.ID, nil
}

// EnqueueUnique returns the id of a live task for the same article and
// operation instead of inserting a second one.
func (s *Service) EnqueueUnique(ctx context.Context, in NewTask) (string, error) {
	t, err := s.build(in)
	if err != nil {
		return "", err
	}
	id, created, err := s.repo.InsertUnique(ctx, t)
	if err != nil {
		return "", err
	}
	if created {
		slog.InfoContext(ctx, "task enqueued", "task_id", id, "article_id", t.ArticleID, "operation", t.Operation, "priority", t.Priority)
	} else {
		slog.DebugContext(ctx, "task already queued", "task_id", id, "article_id", t.ArticleID)
	}
	return id, nil
}

// Dequeue claims the next due task. Every timestamp the queue compares is
// taken from the service clock, never from the database's.
func (s *Service) Dequeue(ctx context.Context) (*Task, error) {
	return s.repo.Dequeue(ctx, s.now())
}

func (s *Service) UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error {
	if status != StatusCompleted && status != StatusFailed {
		return apperr.Newf(apperr.KindValidation, "status %q is not terminal", status)
	}
	return s.repo.UpdateStatus(ctx, id, status, errMsg, s.now())
}

func (s *Service) Reschedule(ctx context.Context, id string, at time.Time, errMsg string) error {
	return s.repo.Reschedule(ctx, id, at, errMsg)
}

func (s *Service) GetQueueStats(ctx context.Context) (Stats, error) {
	return s.repo.CountByStatus(ctx)
}

func (s *Service) GetQueueHealth(ctx context.Context) (Health, error) {
	stats, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return Health{}, err
	}

	issues := []string{}
	th := s.thresholds
	if stats.Pending > th.MaxPending {
		issues = append(issues, fmt.Sprintf("high number of pending tasks: %d", stats.Pending))
	}
	if stats.Processing > th.MaxProcessing {
		issues = append(issues, fmt.Sprintf("high number of processing tasks: %d", stats.Processing))
	}

	failed, err := s.repo.FailedSince(ctx, s.now().Add(-24*time.Hour))
	if err != nil {
		return Health{}, err
	}
	if failed > th.MaxRecentFailures {
		issues = append(issues, fmt.Sprintf("high number of failed tasks in last 24h: %d", failed))
	}

	oldest, err := s.repo.OldestPending(ctx)
	if err != nil {
		return Health{}, err
	}
	if oldest != nil && s.now().Sub(*oldest) > th.MaxPendingAge {
		issues = append(issues, fmt.Sprintf("oldest pending task is %s old", s.now().Sub(*oldest).Round(time.Minute)))
	}

	return Health{Healthy: len(issues) == 0, Issues: issues, Stats: stats}, nil
}

func (s *Service) GetDetailedQueueStats(ctx context.Context) (DetailedStats, error) {
	stats, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return DetailedStats{}, err
	}
	byPriority, err := s.repo.CountActiveBy(ctx, "priority")
	if err != nil {
		return DetailedStats{}, err
	}
	byOperation, err := s.repo.CountActiveBy(ctx, "operation")
	if err != nil {
		return DetailedStats{}, err
	}
	recent, err := s.repo.RecentErrors(ctx, recentErrorLimit)
	if err != nil {
		return DetailedStats{}, err
	}
	if recent == nil {
		recent = []TaskError{}
	}
	return DetailedStats{Stats: stats, ByPriority: byPriority, ByOperation: byOperation, RecentErrors: recent}, nil
}

func (s *Service) GetTask(ctx context.Context, id string) (*Task, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListTasks(ctx context.Context, status Status, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.repo.List(ctx, status, limit)
}

func (s *Service) DeleteTask(ctx context.Context, id string) (bool, error) {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ClearFailedTasks(ctx context.Context) (int64, error) {
	n, err := s.repo.ClearFailed(ctx)
	if err == nil && n > 0 {
		slog.InfoContext(ctx, "cleared failed tasks", "count", n)
	}
	return n, err
}

// RetryFailedTasks puts failed tasks with attempts left back in the queue,
// due 30 seconds from now.
func (s *Service) RetryFailedTasks(ctx context.Context) (int64, error) {
	n, err := s.repo.RetryFailed(ctx, s.now().Add(retryFailedDelay))
	if err == nil && n > 0 {
		slog.InfoContext(ctx, "requeued failed tasks", "count", n)
	}
	return n, err
}

func (s *Service) ClearCompletedTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.repo.ClearCompleted(ctx, s.now().Add(-olderThan))
}

// CleanupStuckTasks returns tasks that have been processing longer than
// timeout to pending.
func (s *Service) CleanupStuckTasks(ctx context.Context, timeout time.Duration) (int64, error) {
	msg := fmt.Sprintf("reset after being stuck in processing for more than %s", timeout)
	n, err := s.repo.ResetStuck(ctx, s.now().Add(-timeout), msg)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.WarnContext(ctx, "reset stuck tasks", "count", n, "timeout", timeout)
	}
	return n, nil
}

func (s *Service) HasPendingTask(ctx context.Context, articleID string) (bool, error) {
	return s.repo.HasPending(ctx, articleID)
}
