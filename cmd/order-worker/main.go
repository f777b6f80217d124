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
	"github.com/jcmexdev/order-saga/internal/coordinator"
	inventorystore "github.com/jcmexdev/order-saga/internal/inventory-service/store/postgres"
	orderstore "github.com/jcmexdev/order-saga/internal/order-service/store/postgres"
	"github.com/jcmexdev/order-saga/internal/payment-service/gateway"
	"github.com/jcmexdev/order-saga/internal/pkg/blob"
	"github.com/jcmexdev/order-saga/internal/pkg/platform"
	"github.com/jcmexdev/order-saga/internal/pkg/queue"
	"github.com/jcmexdev/order-saga/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("order-worker")
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	telemetry.InitLogger(cfg.LogLevel, cfg.ServiceName)
	if err := cfg.RequireDatabase(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

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
		slog.Error("order worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	metrics := telemetry.NewMetrics()
	health := platform.NewHealthServer()

	db, err := platform.OpenPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := platform.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	sagaLog, closer, err := platform.OpenSagaLog(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closer.Close()

	orders, err := orderstore.NewOrderStoreWithSchema(ctx, db, cfg.Database.OrdersTable)
	if err != nil {
		return err
	}
	products, err := inventorystore.NewProductStoreWithSchema(ctx, db, cfg.Database.InventoryTable)
	if err != nil {
		return err
	}

	steps := coordinator.Steps{
		Catalog:  products,
		Payments: gateway.NewSimulator(cfg.Saga.PaymentSuccessRate, nil),
		Receipts: blob.NewRedisStore(rdb, cfg.Blob.ReceiptBucket),
		Orders:   orders,
	}
	saga := coordinator.NewOrchestrator(steps.Sequence(), sagaLog, metrics)

	submissions := platform.OrderQueue(rdb, cfg.Queues, metrics)
	if err := submissions.EnsureGroup(ctx); err != nil {
		return err
	}
	poller := queue.NewPoller(submissions, coordinator.NewTrigger(saga).HandleBatch(cfg.Queues.BatchSize), metrics)

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
