package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joelmnz/mcp-markdown-manager-sub001/features/article"
	"github.com/joelmnz/mcp-markdown-manager-sub001/features/metrics"
	"github.com/joelmnz/mcp-markdown-manager-sub001/features/queue"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/audit"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/index"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/text"
)

var ErrInvalidConfig = errors.New("invalid worker configuration")

type Queue interface {
	Dequeue(ctx context.Context) (*queue.Task, error)
	UpdateStatus(ctx context.Context, id string, status queue.Status, errMsg string) error
	Reschedule(ctx context.Context, id string, at time.Time, errMsg string) error
	CleanupStuckTasks(ctx context.Context, timeout time.Duration) (int64, error)
	ClearCompletedTasks(ctx context.Context, olderThan time.Duration) (int64, error)
	GetQueueStats(ctx context.Context) (queue.Stats, error)
}

type Indexer interface {
	Upsert(ctx context.Context, articleID, title string, chunks []text.Chunk) (index.UpsertResult, error)
	Delete(ctx context.Context, articleID string) error
}

type MetricsRecorder interface {
	Record(ctx context.Context, s metrics.Sample)
	RecordDuration(ctx context.Context, t metrics.Type, d time.Duration, taskID, articleID string)
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

type Deps struct {
	Queue    Queue
	Articles article.Repository
	Chunker  *text.Chunker
	Indexer  Indexer
	Metrics  MetricsRecorder
	Status   StatusRepository
	Audit    audit.Sink
}

type Config struct {
	PollInterval       time.Duration
	HeartbeatInterval  time.Duration
	MetricsInterval    time.Duration
	StuckTimeout       time.Duration
	StuckSweepInterval time.Duration
	RetryBaseDelay     time.Duration
	MaxRetryDelay      time.Duration
	DrainTimeout       time.Duration
	CompletedRetention time.Duration
	MetricsRetention   time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:       5 * time.Second,
		HeartbeatInterval:  30 * time.Second,
		MetricsInterval:    60 * time.Second,
		StuckTimeout:       30 * time.Minute,
		StuckSweepInterval: 10 * time.Minute,
		RetryBaseDelay:     time.Second,
		MaxRetryDelay:      time.Hour,
		DrainTimeout:       30 * time.Second,
		CompletedRetention: 7 * 24 * time.Hour,
		MetricsRetention:   30 * 24 * time.Hour,
	}
}

func (c Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("%w: heartbeat interval must be positive", ErrInvalidConfig)
	case c.MetricsInterval <= 0:
		return fmt.Errorf("%w: metrics interval must be positive", ErrInvalidConfig)
	case c.StuckTimeout <= 0:
		return fmt.Errorf("%w: stuck timeout must be positive", ErrInvalidConfig)
	case c.RetryBaseDelay <= 0:
		return fmt.Errorf("%w: retry base delay must be positive", ErrInvalidConfig)
	case c.MaxRetryDelay < c.RetryBaseDelay:
		return fmt.Errorf("%w: max retry delay below base delay", ErrInvalidConfig)
	case c.DrainTimeout < 0:
		return fmt.Errorf("%w: drain timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Stats combines the persisted status row with this process's counters.
type Stats struct {
	Running       bool                  `json:"running"`
	Processed     int64                 `json:"processed"`
	Succeeded     int64                 `json:"succeeded"`
	Failed        int64                 `json:"failed"`
	StartedAt     *time.Time            `json:"startedAt,omitempty"`
	UptimeSeconds float64               `json:"uptimeSeconds"`
	Persisted     *metrics.WorkerStatus `json:"persisted,omitempty"`
}

// Worker drains the embedding queue on a timer and keeps its status,
// metrics and stuck-task recovery running alongside.
type Worker struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time

	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	busy      atomic.Int64

	// owned by the metrics loop
	lastTick      time.Time
	lastSucceeded int64
	lastBusy      int64
	lastCleanup   time.Time
}

func New(deps Deps, cfg Config) *Worker {
	if deps.Audit == nil {
		deps.Audit = audit.LogSink{}
	}
	if deps.Chunker == nil {
		deps.Chunker = text.NewChunker(0, 0)
	}
	return &Worker{deps: deps, cfg: cfg, now: time.Now}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		slog.WarnContext(ctx, "worker already running")
		return nil
	}
	if err := w.cfg.Validate(); err != nil {
		return err
	}

	now := w.now()
	if err := w.deps.Status.MarkStarted(ctx, now); err != nil {
		return err
	}
	w.processed.Store(0)
	w.succeeded.Store(0)
	w.failed.Store(0)
	w.busy.Store(0)
	w.startedAt = now
	w.lastTick, w.lastSucceeded, w.lastBusy, w.lastCleanup = now, 0, 0, time.Time{}
	w.deps.Audit.Emit(ctx, audit.Event{Type: audit.WorkerStarted})

	w.recoverStuck(ctx)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.running = true

	w.every(runCtx, w.cfg.PollInterval, w.processTick)
	w.every(runCtx, w.cfg.HeartbeatInterval, w.heartbeat)
	w.every(runCtx, w.cfg.MetricsInterval, w.collectMetrics)
	if w.cfg.StuckSweepInterval > 0 {
		w.every(runCtx, w.cfg.StuckSweepInterval, w.recoverStuck)
	}

	slog.InfoContext(ctx, "embedding worker started",
		"poll_interval", w.cfg.PollInterval,
		"heartbeat_interval", w.cfg.HeartbeatInterval,
		"metrics_interval", w.cfg.MetricsInterval,
	)
	return nil
}

// Stop cancels the loops, waits for in-flight ticks and marks the worker
// stopped.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		slog.WarnContext(ctx, "worker not running")
		return nil
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()

	err := w.deps.Status.MarkStopped(ctx)
	slog.InfoContext(ctx, "embedding worker stopped",
		"processed", w.processed.Load(),
		"succeeded", w.succeeded.Load(),
		"failed", w.failed.Load(),
	)
	w.deps.Audit.Emit(ctx, audit.Event{Type: audit.WorkerStopped, Count: w.processed.Load()})
	return err
}

func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) Stats(ctx context.Context) (Stats, error) {
	persisted, err := w.deps.Status.Get(ctx)
	if err != nil {
		return Stats{}, err
	}

	w.mu.Lock()
	s := Stats{
		Running:   w.running,
		Processed: w.processed.Load(),
		Succeeded: w.succeeded.Load(),
		Failed:    w.failed.Load(),
		Persisted: persisted,
	}
	if !w.startedAt.IsZero() {
		started := w.startedAt
		s.StartedAt = &started
		if w.running {
			s.UptimeSeconds = w.now().Sub(started).Seconds()
		}
	}
	w.mu.Unlock()
	return s, nil
}

// every runs fn on each tick of d until ctx is done. Ticks of one loop never
// overlap.
func (w *Worker) every(ctx context.Context, d time.Duration, fn func(context.Context)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn(ctx)
			}
		}
	}()
}

func (w *Worker) processTick(ctx context.Context) {
	if _, err := w.ProcessNext(ctx); err != nil && ctx.Err() == nil {
		slog.ErrorContext(ctx, "processing tick failed", "error", err)
	}
}

func (w *Worker) heartbeat(ctx context.Context) {
	if err := w.deps.Status.Heartbeat(ctx, w.now()); err != nil && ctx.Err() == nil {
		slog.WarnContext(ctx, "worker heartbeat failed", "error", err)
	}
}

func (w *Worker) recoverStuck(ctx context.Context) {
	n, err := w.deps.Queue.CleanupStuckTasks(ctx, w.cfg.StuckTimeout)
	if err != nil {
		if ctx.Err() == nil {
			slog.ErrorContext(ctx, "stuck task recovery failed", "error", err)
		}
		return
	}
	if n > 0 {
		slog.WarnContext(ctx, "recovered stuck tasks", "count", n, "timeout", w.cfg.StuckTimeout)
		w.deps.Audit.Emit(ctx, audit.Event{Type: audit.TasksRecovered, Count: n})
	}
}
