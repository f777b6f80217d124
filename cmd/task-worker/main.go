package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jcmexdev/order-saga/internal/config"
	"github.com/jcmexdev/order-saga/internal/pkg/blob"
	"github.com/jcmexdev/order-saga/internal/pkg/platform"
	"github.com/jcmexdev/order-saga/internal/pkg/queue"
	"github.com/jcmexdev/order-saga/internal/pkg/telemetry"
	"github.com/jcmexdev/order-saga/internal/tasks"
)

func main() {
	cfg, err := config.Load("task-worker")
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	telemetry.InitLogger(cfg.LogLevel, cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	if err := run(ctx, cfg); err != nil {
		slog.Error("task worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	metrics := telemetry.NewMetrics()
	health := platform.NewHealthServer()

	rdb, err := platform.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	processor := tasks.NewProcessor(blob.NewRedisStore(rdb, cfg.Blob.ResultBucket), metrics)
	taskQueue := platform.TaskQueue(rdb, cfg.Queues, metrics)
	if err := taskQueue.EnsureGroup(ctx); err != nil {
		return err
	}
	poller := queue.NewPoller(taskQueue, processor.HandleBatch(cfg.Queues.BatchSize), metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return health.Serve(gctx, cfg.HealthAddr) })
	g.Go(func() error { return platform.ServeHTTP(gctx, cfg.MetricsAddr, metrics.Handler()) })
	g.Go(func() error {
		health.SetServing(true)
		defer health.SetServing(false)
		return poller.Run(gctx)
	})
	return g.Wait()
}
