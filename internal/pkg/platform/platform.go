// Package platform opens the shared clients of a process from its
// configuration. Each binary calls these once in main and passes the
// results down.
package platform

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/order-saga/internal/config"
	"github.com/jcmexdev/order-saga/internal/coordinator/sagalog"
	"github.com/jcmexdev/order-saga/internal/coordinator/sagalog/postgres"
	"github.com/jcmexdev/order-saga/internal/coordinator/sagalog/sqlite"
	"github.com/jcmexdev/order-saga/internal/pkg/queue"
	"github.com/jcmexdev/order-saga/internal/pkg/telemetry"
)

var openDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

// OpenPostgres opens the Order Store database and checks it is reachable.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := openDB("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns != nil {
		db.SetMaxOpenConns(*cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewRedisClient builds a client from cfg without connecting.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if cfg.Username != "" {
		opts.Username = cfg.Username
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}

	client := redis.NewClient(opts)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, err
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return client, nil
}

// OpenRedis builds the client and pings it within the healthcheck timeout.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	pingCtx := ctx
	if cfg.HealthcheckTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.HealthcheckTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// OpenSagaLog returns the saga log selected by cfg.Saga.LogDriver. The
// postgres driver shares db; the sqlite driver opens its own file and the
// returned closer releases it.
func OpenSagaLog(ctx context.Context, cfg config.Config, db *sql.DB) (sagalog.Repository, io.Closer, error) {
	switch cfg.Saga.LogDriver {
	case "sqlite":
		repo, err := sqlite.Open(cfg.Saga.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo, nil
	case "postgres":
		if db == nil {
			return nil, nil, fmt.Errorf("saga log: postgres driver needs DATABASE_URL")
		}
		repo, err := postgres.NewRepositoryWithSchema(ctx, db)
		if err != nil {
			return nil, nil, err
		}
		return repo, closerFunc(func() error { return nil }), nil
	default:
		return nil, nil, fmt.Errorf("saga log: unsupported driver %q", cfg.Saga.LogDriver)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// OrderQueue is the submission queue as seen by cfg's consumer.
func OrderQueue(client redis.UniversalClient, cfg config.QueueConfig, metrics *telemetry.Metrics) *queue.RedisQueue {
	return queue.NewRedisQueue(client, options(cfg, cfg.OrderQueue, cfg.OrderDeadLetter), metrics)
}

// TaskQueue is the task queue as seen by cfg's consumer.
func TaskQueue(client redis.UniversalClient, cfg config.QueueConfig, metrics *telemetry.Metrics) *queue.RedisQueue {
	return queue.NewRedisQueue(client, options(cfg, cfg.TaskQueue, cfg.TaskDeadLetter), metrics)
}

func options(cfg config.QueueConfig, stream, deadLetter string) queue.Options {
	return queue.Options{
		Stream:            stream,
		DeadLetter:        deadLetter,
		Group:             cfg.ConsumerGroup,
		Consumer:          cfg.ConsumerName,
		VisibilityTimeout: cfg.VisibilityTimeout,
		BackoffMax:        cfg.BackoffMax,
		MaxReceiveCount:   cfg.MaxReceiveCount,
		BatchSize:         cfg.BatchSize,
		WaitTime:          cfg.WaitTime,
	}
}
