package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joelmnz/mcp-markdown-manager-sub001/features/article"
	"github.com/joelmnz/mcp-markdown-manager-sub001/features/metrics"
	"github.com/joelmnz/mcp-markdown-manager-sub001/features/queue"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/audit"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/config"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/index"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/middleware"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/retrieval"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/text"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/vector"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/worker"
)

type App struct {
	Handler   http.Handler
	Queue     *queue.Service
	Indexer   *index.Indexer
	Retrieval *retrieval.Service
	Metrics   *metrics.Collector
	Worker    *worker.Worker
	Intake    *worker.IntakeConsumer
	Searcher  vector.Searcher

	port int
}

func New(
	ctx context.Context,
	cfg *config.Config,
	db *sql.DB,
	embedder Embedder,
	sink audit.Sink,
	reg *prometheus.Registry,
) (*App, error) {
	if db == nil || embedder == nil {
		return nil, errors.New("app: db and embedder are required")
	}
	if sink == nil {
		sink = audit.LogSink{}
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	articles := article.NewPostgresRepo(db)

	queueService := queue.NewService(queue.NewPostgresRepo(db), queue.WithMaxAttempts(cfg.QueueMaxAttempts))
	queueHandler := queue.NewHandler(queueService)

	collector := metrics.NewCollector(metrics.NewPostgresRepo(db), queueService, metrics.NewPrometheus(reg))
	metricsHandler := metrics.NewHandler(collector)

	chunker := text.NewChunker(cfg.ChunkWords, cfg.ChunkOverlapWords)
	indexer := index.NewIndexer(index.NewPostgresStore(db), embedder, articles, chunker, cfg.EmbeddingDimension, collector)
	searcher := vector.SelectSearcher(ctx, db)

	queryLogger := retrieval.NewQueryLogger(os.Stdout)
	if cfg.QueryLogPath != "" {
		l, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
		if err != nil {
			slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		} else {
			queryLogger = l
		}
	}
	retrievalService := retrieval.NewService(embedder, searcher, retrieval.NewPostgresKeywords(db), queryLogger)
	retrievalHandler := retrieval.NewHandler(retrievalService, indexer)

	statusRepo := worker.NewPostgresStatusRepo(db)
	w := worker.New(worker.Deps{
		Queue:    queueService,
		Articles: articles,
		Chunker:  chunker,
		Indexer:  indexer,
		Metrics:  collector,
		Status:   statusRepo,
		Audit:    sink,
	}, WorkerConfig(cfg))

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}
	wrap := func(h http.HandlerFunc) http.Handler {
		return middleware.CorrelationID(enableCORS(h))
	}

	// Routes
	mux := http.NewServeMux()
	queueHandler.Register(mux, wrap)
	metricsHandler.Register(mux, wrap)
	retrievalHandler.Register(mux, wrap)

	mux.Handle("GET /worker/status", wrap(func(rw http.ResponseWriter, r *http.Request) {
		stats, err := w.Stats(r.Context())
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to get worker status", "error", err)
			writeJSON(r.Context(), rw, http.StatusInternalServerError, map[string]interface{}{
				"error":         map[string]string{"code": "INTERNAL_ERROR", "message": "Internal server error"},
				"correlationId": middleware.GetCorrelationID(r.Context()),
			})
			return
		}
		writeJSON(r.Context(), rw, http.StatusOK, map[string]interface{}{"data": stats})
	}))

	mux.Handle("GET /health", wrap(func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		body := map[string]interface{}{
			"status":   "ok",
			"searcher": searcher.Name(),
			"worker":   w.IsRunning(),
		}
		status := http.StatusOK
		if err := db.PingContext(ctx); err != nil {
			body["status"] = "unavailable"
			body["error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		writeJSON(r.Context(), rw, status, body)
	}))

	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &App{
		Handler:   mux,
		Queue:     queueService,
		Indexer:   indexer,
		Retrieval: retrievalService,
		Metrics:   collector,
		Worker:    w,
		Intake:    worker.NewIntakeConsumer(queueService),
		Searcher:  searcher,
		port:      cfg.ServerPort,
	}, nil
}

func WorkerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		PollInterval:       cfg.WorkerPollInterval,
		HeartbeatInterval:  cfg.WorkerHeartbeatInterval,
		MetricsInterval:    cfg.WorkerMetricsInterval,
		StuckTimeout:       cfg.WorkerStuckTimeout,
		StuckSweepInterval: cfg.WorkerStuckSweepInterval,
		RetryBaseDelay:     cfg.WorkerRetryBaseDelay,
		MaxRetryDelay:      cfg.WorkerMaxRetryDelay,
		DrainTimeout:       cfg.WorkerDrainTimeout,
		CompletedRetention: cfg.QueueCompletedRetention,
		MetricsRetention:   cfg.MetricsRetention,
	}
}

// Run serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
