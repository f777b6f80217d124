// Package sqlite is the single-node sagalog.Repository, backed by a local
// SQLite file in WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Pure-Go driver, registered as "sqlite"; no CGO needed for Alpine images.
	_ "modernc.org/sqlite"

	"github.com/jcmexdev/order-saga/internal/coordinator/sagalog"
	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS saga_executions (
    name        TEXT PRIMARY KEY,
    started_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS saga_logs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    saga_id         TEXT NOT NULL,
    status          TEXT NOT NULL,
    current_step    TEXT NOT NULL DEFAULT '',
    payload         TEXT,
    error_messages  TEXT NOT NULL DEFAULT '[]',
    trace_id        TEXT NOT NULL DEFAULT '',
    span_id         TEXT NOT NULL DEFAULT '',
    updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_saga_logs_saga_id ON saga_logs(saga_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_saga_logs_trace_id ON saga_logs(trace_id);
`

const insertLog = `
INSERT INTO saga_logs
    (saga_id, status, current_step, payload, error_messages, trace_id, span_id, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?, ?)`

// Repository is the SQLite implementation of sagalog.Repository.
type Repository struct {
	db *sql.DB
}

var _ sagalog.Repository = (*Repository)(nil)

// Open opens (or creates) the database at path and applies the schema.
//
//	repo, err := sqlite.Open("./data/saga.db")
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// One writer at a time; WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) StartExecution(ctx context.Context, entry *sagalog.SagaLog) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperr.Persistence("sqlite: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO saga_executions (name, started_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		entry.SagaID, formatTime(entry))
	if err != nil {
		return false, apperr.Persistence("sqlite: register "+entry.SagaID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence("sqlite: register "+entry.SagaID, err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, insertLog, args(entry)...); err != nil {
		return false, apperr.Persistence("sqlite: save saga log for "+entry.SagaID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, apperr.Persistence("sqlite: commit", err)
	}
	return true, nil
}

// Save inserts a new saga log entry. It is safe to call concurrently.
func (r *Repository) Save(ctx context.Context, entry *sagalog.SagaLog) error {
	if _, err := r.db.ExecContext(ctx, insertLog, args(entry)...); err != nil {
		return apperr.Persistence("sqlite: save saga log for "+entry.SagaID, err)
	}
	return nil
}

const selectLog = `
SELECT saga_id, status, current_step, COALESCE(payload, ''), error_messages, trace_id, span_id, updated_at
FROM   saga_logs
WHERE  saga_id = ?`

func (r *Repository) GetLatest(ctx context.Context, sagaID string) (*sagalog.SagaLog, error) {
	row := r.db.QueryRowContext(ctx, selectLog+` ORDER BY updated_at DESC, id DESC LIMIT 1`, sagaID)

	entry, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(fmt.Sprintf("execution %s not found", sagaID))
	}
	if err != nil {
		return nil, apperr.Persistence("sqlite: get latest for "+sagaID, err)
	}
	return &entry, nil
}

func (r *Repository) History(ctx context.Context, sagaID string) ([]sagalog.SagaLog, error) {
	return history(ctx, r.db, sagaID)
}

// ResumeExecution runs on the single connection, so the status check and the
// append cannot interleave with another writer.
func (r *Repository) ResumeExecution(ctx context.Context, entry *sagalog.SagaLog) ([]sagalog.SagaLog, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, apperr.Persistence("sqlite: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	entries, err := history(ctx, tx, entry.SagaID)
	if err != nil {
		return nil, false, err
	}
	if len(entries) == 0 || entries[len(entries)-1].Status != sagalog.StatusInterrupted {
		return entries, false, nil
	}

	if _, err := tx.ExecContext(ctx, insertLog, args(entry)...); err != nil {
		return nil, false, apperr.Persistence("sqlite: save saga log for "+entry.SagaID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, apperr.Persistence("sqlite: commit", err)
	}
	return entries, true, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func history(ctx context.Context, q querier, sagaID string) ([]sagalog.SagaLog, error) {
	rows, err := q.QueryContext(ctx, selectLog+` ORDER BY updated_at, id`, sagaID)
	if err != nil {
		return nil, apperr.Persistence("sqlite: history for "+sagaID, err)
	}
	defer rows.Close()

	var out []sagalog.SagaLog
	for rows.Next() {
		entry, err := scan(rows)
		if err != nil {
			return nil, apperr.Persistence("sqlite: history for "+sagaID, err)
		}
		out = append(out, entry)
	}
	return out, apperr.Persistence("sqlite: history for "+sagaID, rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (sagalog.SagaLog, error) {
	var (
		entry     sagalog.SagaLog
		updatedAt string
	)
	err := s.Scan(
		&entry.SagaID,
		&entry.Status,
		&entry.CurrentStep,
		&entry.Payload,
		&entry.ErrorMessages,
		&entry.TraceID,
		&entry.SpanID,
		&updatedAt,
	)
	if err != nil {
		return entry, err
	}
	entry.UpdatedAt, err = parseTime(updatedAt)
	return entry, err
}

func args(entry *sagalog.SagaLog) []any {
	return []any{
		entry.SagaID,
		string(entry.Status),
		entry.CurrentStep,
		nullableString(entry.Payload),
		entry.ErrorMessages,
		entry.TraceID,
		entry.SpanID,
		formatTime(entry),
	}
}

// nullableString stores NULL instead of '' for entries without a snapshot.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
