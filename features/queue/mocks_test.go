package queue_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/joelmnz/mcp-markdown-manager-sub001/features/queue"
)

// MockRepo implements queue.Repository
type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Insert(ctx context.Context, t *queue.Task) error {
	return m.Called(ctx, t).Error(0)
}

func (m *MockRepo) InsertUnique(ctx context.Context, t *queue.Task) (string, bool, error) {
	args := m.Called(ctx, t)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockRepo) Dequeue(ctx context.Context, now time.Time) (*queue.Task, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Task), args.Error(1)
}

func (m *MockRepo) UpdateStatus(ctx context.Context, id string, status queue.Status, errMsg string, at time.Time) error {
	return m.Called(ctx, id, status, errMsg, at).Error(0)
}

func (m *MockRepo) Reschedule(ctx context.Context, id string, at time.Time, errMsg string) error {
	return m.Called(ctx, id, at, errMsg).Error(0)
}

func (m *MockRepo) Get(ctx context.Context, id string) (*queue.Task, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Task), args.Error(1)
}

func (m *MockRepo) List(ctx context.Context, status queue.Status, limit int) ([]queue.Task, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queue.Task), args.Error(1)
}

func (m *MockRepo) Delete(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepo) ClearFailed(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepo) RetryFailed(ctx context.Context, at time.Time) (int64, error) {
	args := m.Called(ctx, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepo) ClearCompleted(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepo) ResetStuck(ctx context.Context, before time.Time, errMsg string) (int64, error) {
	args := m.Called(ctx, before, errMsg)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepo) CountByStatus(ctx context.Context) (queue.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(queue.Stats), args.Error(1)
}

func (m *MockRepo) CountActiveBy(ctx context.Context, column string) (map[string]int, error) {
	args := m.Called(ctx, column)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

func (m *MockRepo) RecentErrors(ctx context.Context, limit int) ([]queue.TaskError, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queue.TaskError), args.Error(1)
}

func (m *MockRepo) FailedSince(ctx context.Context, since time.Time) (int, error) {
	args := m.Called(ctx, since)
	return args.Int(0), args.Error(1)
}

func (m *MockRepo) OldestPending(ctx context.Context) (*time.Time, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*time.Time), args.Error(1)
}

func (m *MockRepo) HasPending(ctx context.Context, articleID string) (bool, error) {
	args := m.Called(ctx, articleID)
	return args.Bool(0), args.Error(1)
}
