package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/app"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/audit"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/config"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/logger"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	handler := logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logger.ParseLevel(cfg.LogLevel),
	}))
	log := slog.New(handler)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("app exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// 2. Infrastructure
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	// 3. Embedding provider
	embedder, closeEmbedder, err := app.NewEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeEmbedder(); err != nil {
			log.Warn("failed to close embedder", "error", err)
		}
	}()

	var sink audit.Sink = audit.LogSink{}
	if deps.NSQProducer != nil {
		sink = audit.NewNSQSink(deps.NSQProducer, cfg.AuditTopic)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.New(ctx, cfg, deps.DB, embedder, sink, reg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// 4. HTTP
	g.Go(func() error {
		return a.Run(gctx)
	})

	// 5. Background worker
	if cfg.WorkerEnabled {
		if err := a.Worker.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return a.Worker.Stop(stopCtx)
		})
	} else {
		log.Info("embedding worker disabled")
	}

	// 6. Article change events
	if cfg.IntakeEnabled {
		consumer, err := nsq.NewConsumer(cfg.ArticleEventsTopic, cfg.IntakeChannel, nsq.NewConfig())
		if err != nil {
			return err
		}
		consumer.AddHandler(a.Intake)
		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			log.Error("failed to connect to NSQLookupd", "error", err)
		} else {
			log.Info("article event consumer connected", "topic", cfg.ArticleEventsTopic)
		}
		g.Go(func() error {
			<-gctx.Done()
			consumer.Stop()
			<-consumer.StopChan
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
