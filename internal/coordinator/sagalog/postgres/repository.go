// Package postgres is the sagalog.Repository shared by several workers.
// The unique execution name is enforced by a primary key, so concurrent
// duplicate deliveries on different nodes still start one execution.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jcmexdev/order-saga/internal/coordinator/sagalog"
	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

type Repository struct {
	db *sql.DB
}

var _ sagalog.Repository = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// NewRepositoryWithSchema builds the repository and creates its tables.
func NewRepositoryWithSchema(ctx context.Context, db *sql.DB) (*Repository, error) {
	r := NewRepository(db)
	if err := r.InitSchema(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS saga_executions (
	name       TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS saga_logs (
	id             BIGSERIAL PRIMARY KEY,
	saga_id        TEXT NOT NULL,
	status         TEXT NOT NULL,
	current_step   TEXT NOT NULL DEFAULT '',
	payload        JSONB,
	error_messages JSONB NOT NULL DEFAULT '[]',
	trace_id       TEXT NOT NULL DEFAULT '',
	span_id        TEXT NOT NULL DEFAULT '',
	updated_at     TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS saga_logs_saga_id_idx ON saga_logs (saga_id, updated_at)`,
		`CREATE INDEX IF NOT EXISTS saga_logs_trace_id_idx ON saga_logs (trace_id)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return apperr.Persistence("sagalog: init schema", err)
		}
	}
	return nil
}

const insertLog = `INSERT INTO saga_logs
	(saga_id, status, current_step, payload, error_messages, trace_id, span_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (r *Repository) StartExecution(ctx context.Context, entry *sagalog.SagaLog) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperr.Persistence("sagalog: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO saga_executions (name, started_at) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		entry.SagaID, entry.UpdatedAt.UTC())
	if err != nil {
		return false, apperr.Persistence("sagalog: register "+entry.SagaID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence("sagalog: register "+entry.SagaID, err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, insertLog, args(entry)...); err != nil {
		return false, apperr.Persistence("sagalog: save "+entry.SagaID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, apperr.Persistence("sagalog: commit", err)
	}
	return true, nil
}

func (r *Repository) Save(ctx context.Context, entry *sagalog.SagaLog) error {
	_, err := r.db.ExecContext(ctx, insertLog, args(entry)...)
	return apperr.Persistence("sagalog: save "+entry.SagaID, err)
}

const selectLog = `SELECT saga_id, status, current_step, COALESCE(payload::text, ''), error_messages::text, trace_id, span_id, updated_at
FROM saga_logs WHERE saga_id = $1`

func (r *Repository) GetLatest(ctx context.Context, sagaID string) (*sagalog.SagaLog, error) {
	var e sagalog.SagaLog
	err := r.db.QueryRowContext(ctx, selectLog+` ORDER BY updated_at DESC, id DESC LIMIT 1`, sagaID).
		Scan(&e.SagaID, &e.Status, &e.CurrentStep, &e.Payload, &e.ErrorMessages, &e.TraceID, &e.SpanID, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(fmt.Sprintf("execution %s not found", sagaID))
	}
	if err != nil {
		return nil, apperr.Persistence("sagalog: latest "+sagaID, err)
	}
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

func (r *Repository) History(ctx context.Context, sagaID string) ([]sagalog.SagaLog, error) {
	return history(ctx, r.db, sagaID)
}

// ResumeExecution locks the registry row so concurrent deliveries of the same
// interrupted run resume it once.
func (r *Repository) ResumeExecution(ctx context.Context, entry *sagalog.SagaLog) ([]sagalog.SagaLog, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, apperr.Persistence("sagalog: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var name string
	err = tx.QueryRowContext(ctx, `SELECT name FROM saga_executions WHERE name = $1 FOR UPDATE`, entry.SagaID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.Persistence("sagalog: lock "+entry.SagaID, err)
	}

	entries, err := history(ctx, tx, entry.SagaID)
	if err != nil {
		return nil, false, err
	}
	if len(entries) == 0 || entries[len(entries)-1].Status != sagalog.StatusInterrupted {
		return entries, false, nil
	}

	if _, err := tx.ExecContext(ctx, insertLog, args(entry)...); err != nil {
		return nil, false, apperr.Persistence("sagalog: save "+entry.SagaID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, apperr.Persistence("sagalog: commit", err)
	}
	return entries, true, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func history(ctx context.Context, q querier, sagaID string) ([]sagalog.SagaLog, error) {
	rows, err := q.QueryContext(ctx, selectLog+` ORDER BY updated_at, id`, sagaID)
	if err != nil {
		return nil, apperr.Persistence("sagalog: history "+sagaID, err)
	}
	defer rows.Close()

	var out []sagalog.SagaLog
	for rows.Next() {
		var e sagalog.SagaLog
		if err := rows.Scan(&e.SagaID, &e.Status, &e.CurrentStep, &e.Payload, &e.ErrorMessages, &e.TraceID, &e.SpanID, &e.UpdatedAt); err != nil {
			return nil, apperr.Persistence("sagalog: history "+sagaID, err)
		}
		e.UpdatedAt = e.UpdatedAt.UTC()
		out = append(out, e)
	}
	return out, apperr.Persistence("sagalog: history "+sagaID, rows.Err())
}

func args(e *sagalog.SagaLog) []any {
	var payload any
	if e.Payload != "" {
		payload = e.Payload
	}
	errs := e.ErrorMessages
	if errs == "" {
		errs = "[]"
	}
	return []any{e.SagaID, string(e.Status), e.CurrentStep, payload, errs, e.TraceID, e.SpanID, e.UpdatedAt.UTC()}
}
