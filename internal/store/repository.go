package store

import (
	"context"
	"time"
)

// ProductRepository is the product collection binding.
type ProductRepository interface {
	List(ctx context.Context, filter ProductFilter) ([]Product, error)
	Get(ctx context.Context, id string) (Product, error)
	Upsert(ctx context.Context, p Product) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	IDs(ctx context.Context) ([]string, error)
	// BulkInsert inserts all products inside one transaction. Rows whose id
	// already exists are skipped and reported; the rest commit.
	BulkInsert(ctx context.Context, products []Product) (failedIDs []string, err error)
	NegativeStock(ctx context.Context) ([]Product, error)
	SetStock(ctx context.Context, id string, stock int64) error
	DuplicateIDs(ctx context.Context) ([]string, error)
}

// SaleRepository is the sale collection binding.
type SaleRepository interface {
	List(ctx context.Context, filter SaleFilter) ([]Sale, error)
	Get(ctx context.Context, id string) (Sale, error)
	Upsert(ctx context.Context, s Sale) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	IDs(ctx context.Context) ([]string, error)
	BulkInsert(ctx context.Context, sales []Sale) (failedIDs []string, err error)
	EmptyItemSales(ctx context.Context) ([]Sale, error)
	// OlderThan returns sales dated strictly before the cutoff, oldest first.
	OlderThan(ctx context.Context, cutoff time.Time) ([]Sale, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// SettingRepository is the setting collection binding.
type SettingRepository interface {
	Get(ctx context.Context, key string) (Setting, error)
	Set(ctx context.Context, s Setting) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]Setting, error)
	Keys(ctx context.Context) ([]string, error)
}

// SystemRepository moves the full Product+Sale+Setting triple atomically.
type SystemRepository interface {
	Load(ctx context.Context) (SystemData, error)
	// Replace overwrites all three collections in one transaction.
	Replace(ctx context.Context, data SystemData) error
	Counts(ctx context.Context) (Info, error)
}
