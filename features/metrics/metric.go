package metrics

import (
	"time"

	"github.com/joelmnz/mcp-markdown-manager-sub001/features/queue"
)

type Type string

const (
	TypeProcessingTime          Type = "processing_time"
	TypeQueueDepth              Type = "queue_depth"
	TypeThroughput              Type = "throughput"
	TypeWorkerUtilization       Type = "worker_utilization"
	TypeErrorRate               Type = "error_rate"
	TypeEmbeddingGenerationTime Type = "embedding_generation_time"
	TypeDatabaseQueryTime       Type = "database_query_time"
)

func (t Type) Valid() bool {
	switch t {
	case TypeProcessingTime, TypeQueueDepth, TypeThroughput, TypeWorkerUtilization,
		TypeErrorRate, TypeEmbeddingGenerationTime, TypeDatabaseQueryTime:
		return true
	}
	return false
}

const (
	UnitMilliseconds = "ms"
	UnitCount        = "count"
	UnitPercent      = "percent"
	UnitPerHour      = "per_hour"
)

type Sample struct {
	Type       Type              `json:"type"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit"`
	TaskID     string            `json:"taskId,omitempty"`
	ArticleID  string            `json:"articleId,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RecordedAt time.Time         `json:"recordedAt"`
}

type Statistics struct {
	Type   Type    `json:"type"`
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

type TaskSummary struct {
	ProcessingTime    Statistics `json:"processingTime"`
	Completed         int        `json:"completed"`
	Failed            int        `json:"failed"`
	ErrorRate         float64    `json:"errorRate"`
	ThroughputPerHour float64    `json:"throughputPerHour"`
}

type WorkerStatus struct {
	IsRunning      bool       `json:"isRunning"`
	TasksProcessed int        `json:"tasksProcessed"`
	TasksSucceeded int        `json:"tasksSucceeded"`
	TasksFailed    int        `json:"tasksFailed"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	LastHeartbeat  *time.Time `json:"lastHeartbeat,omitempty"`
}

type SystemStats struct {
	Goroutines    int     `json:"goroutines"`
	HeapAllocMB   float64 `json:"heapAllocMb"`
	SysMB         float64 `json:"sysMb"`
	NumGC         uint32  `json:"numGc"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Report is a point-in-time view of pipeline performance over a window.
type Report struct {
	Window      string        `json:"window"`
	GeneratedAt time.Time     `json:"generatedAt"`
	Tasks       TaskSummary   `json:"tasks"`
	Queue       queue.Stats   `json:"queue"`
	Worker      *WorkerStatus `json:"worker,omitempty"`
	System      SystemStats   `json:"system"`
}
