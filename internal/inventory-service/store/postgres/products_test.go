package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/order-saga/internal/inventory-service/domain"
	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

func newInventoryMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		mock.ExpectClose()
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	})
	return db, mock
}

func TestProductStore_InitSchema(t *testing.T) {
	db, mock := newInventoryMockDB(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "inventory"`).WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := NewProductStoreWithSchema(context.Background(), db, "inventory")
	require.NoError(t, err)
}

func TestProductStore_GetProduct(t *testing.T) {
	db, mock := newInventoryMockDB(t)

	mock.ExpectQuery(`SELECT product_id, name, price, stock FROM "inventory"`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "name", "price", "stock"}).
			AddRow("p1", "Widget", "10.00", 5))

	p, err := NewProductStore(db, "inventory").GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Widget", p.Name)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("10")))
	assert.Equal(t, 5, p.Stock)
}

func TestProductStore_GetProduct_NotFound(t *testing.T) {
	db, mock := newInventoryMockDB(t)

	mock.ExpectQuery(`SELECT product_id`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := NewProductStore(db, "inventory").GetProduct(context.Background(), "nope")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, "Product not found", err.Error())
}

func TestProductStore_GetProduct_DriverError(t *testing.T) {
	db, mock := newInventoryMockDB(t)

	mock.ExpectQuery(`SELECT product_id`).WillReturnError(errors.New("too many connections"))

	_, err := NewProductStore(db, "inventory").GetProduct(context.Background(), "p1")
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))
}

func TestProductStore_Upsert(t *testing.T) {
	db, mock := newInventoryMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "inventory"`).
		WithArgs("p1", "Widget", "10.00", 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "inventory"`).
		WithArgs("p2", "Gadget", "2.50", 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewProductStore(db, "inventory").Upsert(context.Background(),
		domain.Product{ProductID: "p1", Name: "Widget", Price: decimal.RequireFromString("10"), Stock: 5},
		domain.Product{ProductID: "p2", Name: "Gadget", Price: decimal.RequireFromString("2.5")},
	)
	require.NoError(t, err)
}

func TestProductStore_Upsert_RollsBack(t *testing.T) {
	db, mock := newInventoryMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "inventory"`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := NewProductStore(db, "inventory").Upsert(context.Background(),
		domain.Product{ProductID: "p1", Name: "Widget", Price: decimal.NewFromInt(1), Stock: 1})
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))
}

func TestProductStore_Upsert_Invalid(t *testing.T) {
	db, _ := newInventoryMockDB(t)

	err := NewProductStore(db, "inventory").Upsert(context.Background(), domain.Product{Name: "nameless"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
