package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema version embedded into backups. Bump when the collection layout changes.
const SchemaVersion = 2

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		stock BIGINT NOT NULL DEFAULT 0,
		selling_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_category ON products (category)`,
	`CREATE INDEX IF NOT EXISTS idx_products_created_at ON products (created_at)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		sale_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		attendant TEXT NOT NULL DEFAULT '',
		payment_method TEXT NOT NULL DEFAULT '',
		total DOUBLE PRECISION NOT NULL DEFAULT 0,
		items JSONB NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sales_date ON sales (sale_date)`,
	`CREATE INDEX IF NOT EXISTS idx_sales_attendant ON sales (attendant)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value JSONB NOT NULL DEFAULT 'null'
	)`,
	`CREATE TABLE IF NOT EXISTS backups (
		ts TIMESTAMPTZ PRIMARY KEY,
		type TEXT NOT NULL,
		data JSONB NOT NULL,
		schema_version INT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backups_type ON backups (type)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		action TEXT NOT NULL,
		details JSONB NOT NULL DEFAULT '{}',
		user_id TEXT NOT NULL DEFAULT 'system',
		user_name TEXT NOT NULL DEFAULT 'unknown'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log (action)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_user_id ON audit_log (user_id)`,
}

// EnsureSchema creates the store collections and their secondary indices.
// Statements are idempotent so startup can run this unconditionally.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("platform/db: ensure schema: %w", err)
		}
	}
	return nil
}
