// Package audit publishes task lifecycle events. Emitting never fails the
// caller; delivery problems are only logged.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/middleware"
)

type EventType string

const (
	WorkerStarted      EventType = "worker.started"
	WorkerStopped      EventType = "worker.stopped"
	TaskStarted        EventType = "task.started"
	TaskCompleted      EventType = "task.completed"
	TaskRetryScheduled EventType = "task.retry_scheduled"
	TaskFailed         EventType = "task.failed"
	TasksRecovered     EventType = "tasks.recovered"
)

type Event struct {
	Type          EventType  `json:"type"`
	TaskID        string     `json:"taskId,omitempty"`
	ArticleID     string     `json:"articleId,omitempty"`
	Operation     string     `json:"operation,omitempty"`
	Attempt       int        `json:"attempt,omitempty"`
	Error         string     `json:"error,omitempty"`
	RetryAt       *time.Time `json:"retryAt,omitempty"`
	Count         int64      `json:"count,omitempty"`
	CorrelationID string     `json:"correlationId,omitempty"`
	OccurredAt    time.Time  `json:"occurredAt"`
}

type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}

type NSQSink struct {
	pub   Publisher
	topic string
}

func NewNSQSink(pub Publisher, topic string) *NSQSink {
	return &NSQSink{pub: pub, topic: topic}
}

func (s *NSQSink) Emit(ctx context.Context, e Event) {
	stamp(ctx, &e)
	body, err := json.Marshal(e)
	if err != nil {
		slog.WarnContext(ctx, "failed to marshal audit event", "type", e.Type, "error", err)
		return
	}
	if err := s.pub.Publish(s.topic, body); err != nil {
		slog.WarnContext(ctx, "failed to publish audit event", "type", e.Type, "topic", s.topic, "error", err)
	}
}

// LogSink writes events to the structured log.
type LogSink struct{}

func (LogSink) Emit(ctx context.Context, e Event) {
	stamp(ctx, &e)
	slog.InfoContext(ctx, "audit event",
		"type", e.Type,
		"article_id", e.ArticleID,
		"operation", e.Operation,
		"attempt", e.Attempt,
		"error", e.Error,
	)
}

func stamp(ctx context.Context, e *Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if e.CorrelationID == "" {
		if id := middleware.GetCorrelationID(ctx); id != "unknown" {
			e.CorrelationID = id
		}
	}
	if e.TaskID == "" {
		e.TaskID = middleware.GetTaskID(ctx)
	}
}
