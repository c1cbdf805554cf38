package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus mirrors recorded samples into process metrics.
type Prometheus struct {
	ProcessingDuration prometheus.Histogram
	EmbeddingDuration  prometheus.Histogram
	QueryDuration      prometheus.Histogram
	QueueDepth         prometheus.Gauge
	Throughput         prometheus.Gauge
	Utilization        prometheus.Gauge
	ErrorRate          prometheus.Gauge
	SamplesRecorded    *prometheus.CounterVec
	RecordErrors       prometheus.Counter
}

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		ProcessingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "embedding_task_processing_seconds",
			Help:    "Duration of embedding task processing in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),
		EmbeddingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "embedding_generation_seconds",
			Help:    "Duration of a single embedding provider call in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "embedding_database_query_seconds",
			Help:    "Duration of index database queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "embedding_queue_depth",
			Help: "Number of pending embedding tasks",
		}),
		Throughput: f.NewGauge(prometheus.GaugeOpts{
			Name: "embedding_tasks_per_hour",
			Help: "Completed embedding tasks per hour",
		}),
		Utilization: f.NewGauge(prometheus.GaugeOpts{
			Name: "embedding_worker_utilization_percent",
			Help: "Share of processing ticks that handled a task",
		}),
		ErrorRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "embedding_error_rate_percent",
			Help: "Share of processed tasks that failed",
		}),
		SamplesRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "embedding_metric_samples_total",
			Help: "Metric samples recorded by type",
		}, []string{"type"}),
		RecordErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "embedding_metric_record_errors_total",
			Help: "Metric samples that could not be persisted",
		}),
	}
}

func (p *Prometheus) Observe(s Sample) {
	p.SamplesRecorded.WithLabelValues(string(s.Type)).Inc()
	switch s.Type {
	case TypeProcessingTime:
		p.ProcessingDuration.Observe(s.Value / 1000)
	case TypeEmbeddingGenerationTime:
		p.EmbeddingDuration.Observe(s.Value / 1000)
	case TypeDatabaseQueryTime:
		p.QueryDuration.Observe(s.Value / 1000)
	case TypeQueueDepth:
		p.QueueDepth.Set(s.Value)
	case TypeThroughput:
		p.Throughput.Set(s.Value)
	case TypeWorkerUtilization:
		p.Utilization.Set(s.Value)
	case TypeErrorRate:
		p.ErrorRate.Set(s.Value)
	}
}
