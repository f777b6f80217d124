// Package postgres stores inventory records consulted by order validation.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jcmexdev/order-saga/internal/inventory-service/domain"
	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

type ProductStore struct {
	db    *sql.DB
	table string
}

func NewProductStore(db *sql.DB, table string) *ProductStore {
	return &ProductStore{db: db, table: pgx.Identifier{table}.Sanitize()}
}

func NewProductStoreWithSchema(ctx context.Context, db *sql.DB, table string) (*ProductStore, error) {
	s := NewProductStore(db, table)
	if err := s.InitSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ProductStore) InitSchema(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	product_id TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	price      NUMERIC(12, 2) NOT NULL CHECK (price >= 0),
	stock      INTEGER NOT NULL CHECK (stock >= 0)
)`, s.table)
	_, err := s.db.ExecContext(ctx, q)
	return apperr.Persistence("inventory: init schema", err)
}

// GetProduct returns a NotFound error carrying "Product not found" when the
// id is unknown.
func (s *ProductStore) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	q := fmt.Sprintf(`SELECT product_id, name, price, stock FROM %s WHERE product_id = $1`, s.table)

	var p domain.Product
	err := s.db.QueryRowContext(ctx, q, productID).Scan(&p.ProductID, &p.Name, &p.Price, &p.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, apperr.NotFound("Product not found")
	}
	if err != nil {
		return domain.Product{}, apperr.Persistence("inventory: get "+productID, err)
	}
	return p, nil
}

// Upsert writes products in one transaction, replacing existing rows.
func (s *ProductStore) Upsert(ctx context.Context, products ...domain.Product) error {
	for _, p := range products {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Persistence("inventory: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := fmt.Sprintf(`INSERT INTO %s (product_id, name, price, stock) VALUES ($1, $2, $3, $4)
ON CONFLICT (product_id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock`, s.table)
	for _, p := range products {
		if _, err := tx.ExecContext(ctx, q, p.ProductID, p.Name, p.Price.StringFixed(2), p.Stock); err != nil {
			return apperr.Persistence("inventory: upsert "+p.ProductID, err)
		}
	}
	return apperr.Persistence("inventory: commit", tx.Commit())
}
