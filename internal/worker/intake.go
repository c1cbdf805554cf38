package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/joelmnz/mcp-markdown-manager-sub001/features/queue"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/middleware"
)

// ArticleEvent is published by the article service whenever an article is
// created, updated or deleted.
type ArticleEvent struct {
	ArticleID     string          `json:"article_id"`
	Slug          string          `json:"slug"`
	Operation     queue.Operation `json:"operation"`
	Priority      queue.Priority  `json:"priority,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

type Enqueuer interface {
	EnqueueUnique(ctx context.Context, in queue.NewTask) (string, error)
}

// IntakeConsumer turns article change events into queue tasks.
type IntakeConsumer struct {
	queue   Enqueuer
	timeout time.Duration
}

func NewIntakeConsumer(q Enqueuer) *IntakeConsumer {
	return &IntakeConsumer{queue: q, timeout: 10 * time.Second}
}

func (h *IntakeConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var ev ArticleEvent
	if err := json.Unmarshal(m.Body, &ev); err != nil {
		// Poison pill: invalid JSON, don't retry
		slog.Error("poison pill: invalid article event", "error", err)
		return nil
	}

	ctx := context.Background()
	if ev.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, ev.CorrelationID)
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	id, err := h.queue.EnqueueUnique(ctx, queue.NewTask{
		ArticleID: ev.ArticleID,
		Slug:      ev.Slug,
		Operation: ev.Operation,
		Priority:  ev.Priority,
	})
	if apperr.Is(err, apperr.KindValidation) {
		slog.ErrorContext(ctx, "poison pill: invalid article event", "article_id", ev.ArticleID, "error", err)
		return nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to enqueue article event", "article_id", ev.ArticleID, "error", err)
		return err // Retry
	}

	slog.InfoContext(ctx, "article event enqueued", "task_id", id, "article_id", ev.ArticleID, "operation", ev.Operation)
	return nil
}
