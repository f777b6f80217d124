package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jcmexdev/order-saga/internal/api-gateway/infra/adapters/service"
	"github.com/jcmexdev/order-saga/internal/api-gateway/infra/httpx"
	"github.com/jcmexdev/order-saga/internal/config"
	orderstore "github.com/jcmexdev/order-saga/internal/order-service/store/postgres"
	"github.com/jcmexdev/order-saga/internal/pkg/blob"
	"github.com/jcmexdev/order-saga/internal/pkg/platform"
	"github.com/jcmexdev/order-saga/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("api-gateway")
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
		slog.Error("api gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	metrics := telemetry.NewMetrics()

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

	orderService := service.NewOrderService(
		orders,
		platform.OrderQueue(rdb, cfg.Queues, metrics),
		sagaLog,
		blob.NewRedisStore(rdb, cfg.Blob.ReceiptBucket),
		metrics,
	)
	taskService := service.NewTaskService(platform.TaskQueue(rdb, cfg.Queues, metrics))

	router := httpx.NewRouter(httpx.NewHandler(orderService, taskService), metrics.Handler())
	return platform.ServeHTTP(ctx, cfg.HTTPAddr, router)
}
