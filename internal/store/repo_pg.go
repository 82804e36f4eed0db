package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

type productRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns the PostgreSQL-backed product collection.
func NewProductRepository(pool *pgxpool.Pool) ProductRepository {
	return &productRepository{pool: pool}
}

const productColumns = "id, name, category, stock, selling_price, created_at"

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Stock, &p.SellingPrice, &p.CreatedAt)
	return p, err
}

func (r *productRepository) List(ctx context.Context, filter ProductFilter) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filter.Category != "" {
		argCount++
		query += ` AND category = $` + strconv.Itoa(argCount)
		args = append(args, filter.Category)
	}
	if !filter.CreatedFrom.IsZero() {
		argCount++
		query += ` AND created_at >= $` + strconv.Itoa(argCount)
		args = append(args, filter.CreatedFrom)
	}
	if !filter.CreatedTo.IsZero() {
		argCount++
		query += ` AND created_at <= $` + strconv.Itoa(argCount)
		args = append(args, filter.CreatedTo)
	}

	query += ` ORDER BY created_at, id`

	if filter.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *productRepository) Get(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

func (r *productRepository) Upsert(ctx context.Context, p Product) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO products (id, name, category, stock, selling_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = $2, category = $3, stock = $4, selling_price = $5`,
		p.ID, p.Name, p.Category, p.Stock, p.SellingPrice, p.CreatedAt)
	return err
}

func (r *productRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *productRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&count)
	return count, err
}

func (r *productRepository) IDs(ctx context.Context) ([]string, error) {
	return collectIDs(ctx, r.pool, `SELECT id FROM products`)
}

func (r *productRepository) BulkInsert(ctx context.Context, products []Product) ([]string, error) {
	var failed []string
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, p := range products {
			tag, err := tx.Exec(ctx, `INSERT INTO products (id, name, category, stock, selling_price, created_at)
				VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
				p.ID, p.Name, p.Category, p.Stock, p.SellingPrice, p.CreatedAt)
			if err != nil {
				return fmt.Errorf("store: bulk insert product %s: %w", p.ID, err)
			}
			if tag.RowsAffected() == 0 {
				failed = append(failed, p.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return failed, nil
}

func (r *productRepository) NegativeStock(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE stock < 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *productRepository) SetStock(ctx context.Context, id string, stock int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE products SET stock = $1 WHERE id = $2`, stock, id)
	return err
}

func (r *productRepository) DuplicateIDs(ctx context.Context) ([]string, error) {
	return collectIDs(ctx, r.pool, `SELECT id FROM products GROUP BY id HAVING COUNT(*) > 1`)
}

type saleRepository struct {
	pool *pgxpool.Pool
}

// NewSaleRepository returns the PostgreSQL-backed sale collection.
func NewSaleRepository(pool *pgxpool.Pool) SaleRepository {
	return &saleRepository{pool: pool}
}

const saleColumns = "id, sale_date, attendant, payment_method, total, items"

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	var items []byte
	if err := row.Scan(&s.ID, &s.Date, &s.Attendant, &s.PaymentMethod, &s.Total, &items); err != nil {
		return Sale{}, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &s.Items); err != nil {
			return Sale{}, fmt.Errorf("store: decode sale %s items: %w", s.ID, err)
		}
	}
	return s, nil
}

func marshalItems(items []SaleItem) ([]byte, error) {
	if items == nil {
		items = []SaleItem{}
	}
	return json.Marshal(items)
}

func (r *saleRepository) List(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if !filter.From.IsZero() {
		argCount++
		query += ` AND sale_date >= $` + strconv.Itoa(argCount)
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		argCount++
		query += ` AND sale_date <= $` + strconv.Itoa(argCount)
		args = append(args, filter.To)
	}
	if filter.Attendant != "" {
		argCount++
		query += ` AND attendant = $` + strconv.Itoa(argCount)
		args = append(args, filter.Attendant)
	}

	query += ` ORDER BY sale_date DESC, id`

	if filter.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

func (r *saleRepository) Get(ctx context.Context, id string) (Sale, error) {
	s, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrNotFound
	}
	return s, err
}

func (r *saleRepository) Upsert(ctx context.Context, s Sale) error {
	items, err := marshalItems(s.Items)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO sales (id, sale_date, attendant, payment_method, total, items)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET sale_date = $2, attendant = $3, payment_method = $4, total = $5, items = $6`,
		s.ID, s.Date, s.Attendant, s.PaymentMethod, s.Total, items)
	return err
}

func (r *saleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *saleRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales`).Scan(&count)
	return count, err
}

func (r *saleRepository) IDs(ctx context.Context) ([]string, error) {
	return collectIDs(ctx, r.pool, `SELECT id FROM sales`)
}

func (r *saleRepository) BulkInsert(ctx context.Context, sales []Sale) ([]string, error) {
	var failed []string
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, s := range sales {
			items, err := marshalItems(s.Items)
			if err != nil {
				return err
			}
			tag, err := tx.Exec(ctx, `INSERT INTO sales (id, sale_date, attendant, payment_method, total, items)
				VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
				s.ID, s.Date, s.Attendant, s.PaymentMethod, s.Total, items)
			if err != nil {
				return fmt.Errorf("store: bulk insert sale %s: %w", s.ID, err)
			}
			if tag.RowsAffected() == 0 {
				failed = append(failed, s.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return failed, nil
}

func (r *saleRepository) EmptyItemSales(ctx context.Context) ([]Sale, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales WHERE items IS NULL OR jsonb_array_length(items) = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

func (r *saleRepository) OlderThan(ctx context.Context, cutoff time.Time) ([]Sale, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales WHERE sale_date < $1 ORDER BY sale_date`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

func (r *saleRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sales WHERE sale_date < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

type settingRepository struct {
	pool *pgxpool.Pool
}

// NewSettingRepository returns the PostgreSQL-backed setting collection.
func NewSettingRepository(pool *pgxpool.Pool) SettingRepository {
	return &settingRepository{pool: pool}
}

func (r *settingRepository) Get(ctx context.Context, key string) (Setting, error) {
	var s Setting
	err := r.pool.QueryRow(ctx, `SELECT key, value FROM settings WHERE key = $1`, key).Scan(&s.Key, &s.Value)
	if errors.Is(err, pgx.ErrNoRows) {
		return Setting{}, ErrNotFound
	}
	return s, err
}

func (r *settingRepository) Set(ctx context.Context, s Setting) error {
	value := s.Value
	if len(value) == 0 {
		value = []byte("null")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = $2`, s.Key, value)
	return err
}

func (r *settingRepository) Delete(ctx context.Context, key string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM settings WHERE key = $1`, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *settingRepository) List(ctx context.Context) ([]Setting, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []Setting
	for rows.Next() {
		var s Setting
		if err := rows.Scan(&s.Key, &s.Value); err != nil {
			return nil, err
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

func (r *settingRepository) Keys(ctx context.Context) ([]string, error) {
	return collectIDs(ctx, r.pool, `SELECT key FROM settings ORDER BY key`)
}

type systemRepository struct {
	pool     *pgxpool.Pool
	products ProductRepository
	sales    SaleRepository
	settings SettingRepository
}

// NewSystemRepository binds the full-triple operations to one pool.
func NewSystemRepository(pool *pgxpool.Pool) SystemRepository {
	return &systemRepository{
		pool:     pool,
		products: NewProductRepository(pool),
		sales:    NewSaleRepository(pool),
		settings: NewSettingRepository(pool),
	}
}

func (r *systemRepository) Load(ctx context.Context) (SystemData, error) {
	products, err := r.products.List(ctx, ProductFilter{})
	if err != nil {
		return SystemData{}, err
	}
	sales, err := r.sales.List(ctx, SaleFilter{})
	if err != nil {
		return SystemData{}, err
	}
	settings, err := r.settings.List(ctx)
	if err != nil {
		return SystemData{}, err
	}
	return SystemData{Products: products, Sales: sales, Settings: settings}, nil
}

func (r *systemRepository) Replace(ctx context.Context, data SystemData) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, table := range []string{"products", "sales", "settings"} {
			if _, err := tx.Exec(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("store: replace %s: %w", table, err)
			}
		}
		for _, p := range data.Products {
			if _, err := tx.Exec(ctx, `INSERT INTO products (id, name, category, stock, selling_price, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				p.ID, p.Name, p.Category, p.Stock, p.SellingPrice, p.CreatedAt); err != nil {
				return fmt.Errorf("store: replace product %s: %w", p.ID, err)
			}
		}
		for _, s := range data.Sales {
			items, err := marshalItems(s.Items)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO sales (id, sale_date, attendant, payment_method, total, items)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				s.ID, s.Date, s.Attendant, s.PaymentMethod, s.Total, items); err != nil {
				return fmt.Errorf("store: replace sale %s: %w", s.ID, err)
			}
		}
		for _, s := range data.Settings {
			value := s.Value
			if len(value) == 0 {
				value = []byte("null")
			}
			if _, err := tx.Exec(ctx, `INSERT INTO settings (key, value) VALUES ($1, $2)`, s.Key, value); err != nil {
				return fmt.Errorf("store: replace setting %s: %w", s.Key, err)
			}
		}
		return nil
	})
}

func (r *systemRepository) Counts(ctx context.Context) (Info, error) {
	var info Info
	err := r.pool.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM products),
		(SELECT COUNT(*) FROM sales),
		(SELECT COUNT(*) FROM settings),
		(SELECT COUNT(*) FROM backups)`).Scan(&info.Products, &info.Sales, &info.Settings, &info.Backups)
	return info, err
}

func collectIDs(ctx context.Context, pool *pgxpool.Pool, query string) ([]string, error) {
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
