package queue

import (
	"time"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task is one unit of embedding work for an article.
type Task struct {
	ID           string            `json:"id"`
	ArticleID    string            `json:"articleId"`
	Slug         string            `json:"slug"`
	Operation    Operation         `json:"operation"`
	Priority     Priority          `json:"priority"`
	Status       Status            `json:"status"`
	Attempts     int               `json:"attempts"`
	MaxAttempts  int               `json:"maxAttempts"`
	CreatedAt    time.Time         `json:"createdAt"`
	ScheduledAt  time.Time         `json:"scheduledAt"`
	ProcessedAt  *time.Time        `json:"processedAt,omitempty"`
	CompletedAt  *time.Time        `json:"completedAt,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// NewTask is the caller-supplied part of a task. Zero values take defaults.
type NewTask struct {
	ArticleID   string            `json:"articleId"`
	Slug        string            `json:"slug"`
	Operation   Operation         `json:"operation"`
	Priority    Priority          `json:"priority,omitempty"`
	MaxAttempts int               `json:"maxAttempts,omitempty"`
	ScheduledAt *time.Time        `json:"scheduledAt,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

type Health struct {
	Healthy bool     `json:"healthy"`
	Issues  []string `json:"issues"`
	Stats   Stats    `json:"stats"`
}

// HealthThresholds bound what GetQueueHealth still reports as healthy.
type HealthThresholds struct {
	MaxPending        int
	MaxProcessing     int
	MaxRecentFailures int
	MaxPendingAge     time.Duration
}

func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		MaxPending:        100,
		MaxProcessing:     10,
		MaxRecentFailures: 10,
		MaxPendingAge:     24 * time.Hour,
	}
}

type TaskError struct {
	TaskID       string    `json:"taskId"`
	Slug         string    `json:"slug"`
	ErrorMessage string    `json:"errorMessage"`
	Attempts     int       `json:"attempts"`
	At           time.Time `json:"at"`
}

type DetailedStats struct {
	Stats        Stats          `json:"stats"`
	ByPriority   map[string]int `json:"byPriority"`
	ByOperation  map[string]int `json:"byOperation"`
	RecentErrors []TaskError    `json:"recentErrors"`
}
