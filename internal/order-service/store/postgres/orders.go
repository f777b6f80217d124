// Package postgres is the Order Store: durable order records keyed by order
// id, with get/put/scan and the conditional completion used by the saga.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/order-saga/internal/order-service/domain"
	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

// OrderStore persists orders in a single table.
type OrderStore struct {
	db    *sql.DB
	table string
	index string
}

// NewOrderStore returns a store over table. The names are quoted, so any value
// accepted by the config layer is safe to interpolate.
func NewOrderStore(db *sql.DB, table string) *OrderStore {
	return &OrderStore{
		db:    db,
		table: pgx.Identifier{table}.Sanitize(),
		index: pgx.Identifier{table + "_created_at_idx"}.Sanitize(),
	}
}

// NewOrderStoreWithSchema builds the store and ensures its table exists.
func NewOrderStoreWithSchema(ctx context.Context, db *sql.DB, table string) (*OrderStore, error) {
	s := NewOrderStore(db, table)
	if err := s.InitSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *OrderStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	order_id    TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL,
	product_id  TEXT NOT NULL,
	quantity    INTEGER NOT NULL CHECK (quantity > 0),
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	total_price NUMERIC(12, 2),
	receipt_url TEXT
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (created_at)`, s.index, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperr.Persistence("orders: init schema", err)
		}
	}
	return nil
}

// Put creates the order. Writing the same order id twice keeps the first
// record.
func (s *OrderStore) Put(ctx context.Context, o domain.Order) error {
	q := fmt.Sprintf(`INSERT INTO %s (order_id, customer_id, product_id, quantity, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (order_id) DO NOTHING`, s.table)

	_, err := s.db.ExecContext(ctx, q,
		o.OrderID, o.CustomerID, o.ProductID, o.Quantity, string(o.Status), o.CreatedAt.UTC())
	return apperr.Persistence("orders: put "+o.OrderID, err)
}

func (s *OrderStore) Get(ctx context.Context, orderID string) (domain.Order, error) {
	q := fmt.Sprintf(`SELECT order_id, customer_id, product_id, quantity, status, created_at, total_price, receipt_url
FROM %s WHERE order_id = $1`, s.table)

	o, err := scanOrder(s.db.QueryRowContext(ctx, q, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, apperr.NotFound("Order not found")
	}
	if err != nil {
		return domain.Order{}, apperr.Persistence("orders: get "+orderID, err)
	}
	return o, nil
}

// List scans every order, oldest first.
func (s *OrderStore) List(ctx context.Context) ([]domain.Order, error) {
	q := fmt.Sprintf(`SELECT order_id, customer_id, product_id, quantity, status, created_at, total_price, receipt_url
FROM %s ORDER BY created_at, order_id`, s.table)

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, apperr.Persistence("orders: list", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Persistence("orders: scan", err)
		}
		orders = append(orders, o)
	}
	return orders, apperr.Persistence("orders: list", rows.Err())
}

// Complete is the only write that changes status. It applies only to a
// pending order and sets status, receipt url and total price in one
// statement. Repeating a completion that already took effect is a no-op.
func (s *OrderStore) Complete(ctx context.Context, orderID string, total decimal.Decimal, receiptURL string) error {
	q := fmt.Sprintf(`UPDATE %s SET status = $2, receipt_url = $3, total_price = $4
WHERE order_id = $1 AND status = $5`, s.table)

	res, err := s.db.ExecContext(ctx, q,
		orderID, string(domain.StatusCompleted), receiptURL, total.StringFixed(2), string(domain.StatusPending))
	if err != nil {
		return apperr.Persistence("orders: complete "+orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Persistence("orders: complete "+orderID, err)
	}
	if n == 1 {
		return nil
	}

	current, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if current.IsCompleted() && current.ReceiptURL == receiptURL &&
		current.TotalPrice != nil && current.TotalPrice.Equal(total) {
		return nil
	}
	return apperr.Persistence("orders: complete "+orderID,
		fmt.Errorf("conditional update failed: status is %s", current.Status))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o         domain.Order
		status    string
		createdAt time.Time
		total     decimal.NullDecimal
		receipt   sql.NullString
	)
	if err := row.Scan(&o.OrderID, &o.CustomerID, &o.ProductID, &o.Quantity, &status, &createdAt, &total, &receipt); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = createdAt.UTC()
	if total.Valid {
		v := total.Decimal
		o.TotalPrice = &v
	}
	o.ReceiptURL = receipt.String
	return o, nil
}
