package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/jcmexdev/order-saga/internal/config"
	"github.com/jcmexdev/order-saga/internal/inventory-service/domain"
	inventorystore "github.com/jcmexdev/order-saga/internal/inventory-service/store/postgres"
	"github.com/jcmexdev/order-saga/internal/pkg/platform"
	"github.com/jcmexdev/order-saga/internal/pkg/telemetry"
)

func main() {
	file := flag.String("file", "products.json", "JSON array of {productId, name, price, stock}")
	flag.Parse()

	cfg, err := config.Load("inventory-seed")
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	telemetry.InitLogger(cfg.LogLevel, cfg.ServiceName)

	if err := run(context.Background(), cfg, *file); err != nil {
		slog.Error("seed failed", "file", *file, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, path string) error {
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	products, err := domain.DecodeProducts(f)
	if err != nil {
		return err
	}

	db, err := platform.OpenPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := inventorystore.NewProductStoreWithSchema(ctx, db, cfg.Database.InventoryTable)
	if err != nil {
		return err
	}
	if err := store.Upsert(ctx, products...); err != nil {
		return err
	}

	slog.InfoContext(ctx, "inventory seeded", "products", len(products), "table", cfg.Database.InventoryTable)
	return nil
}
