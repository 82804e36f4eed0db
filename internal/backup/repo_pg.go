package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/store"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the PostgreSQL-backed backups collection.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Insert(ctx context.Context, b store.Backup) error {
	data, err := json.Marshal(b.Data)
	if err != nil {
		return fmt.Errorf("backup: encode payload: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO backups (ts, type, data, schema_version) VALUES ($1, $2, $3, $4)`,
		b.Timestamp, b.Type, data, b.SchemaVersion)
	return err
}

func (r *repository) Get(ctx context.Context, ts time.Time) (store.Backup, error) {
	var b store.Backup
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT ts, type, data, schema_version FROM backups WHERE ts = $1`, ts).
		Scan(&b.Timestamp, &b.Type, &data, &b.SchemaVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Backup{}, store.ErrNotFound
	}
	if err != nil {
		return store.Backup{}, err
	}
	if err := json.Unmarshal(data, &b.Data); err != nil {
		return store.Backup{}, fmt.Errorf("backup: decode payload: %w", err)
	}
	return b, nil
}

func (r *repository) List(ctx context.Context, backupType string) ([]store.Backup, error) {
	query := `SELECT ts, type, data, schema_version FROM backups`
	args := []interface{}{}
	if backupType != "" {
		query += ` WHERE type = $1`
		args = append(args, backupType)
	}
	query += ` ORDER BY ts DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var backups []store.Backup
	for rows.Next() {
		var b store.Backup
		var data []byte
		if err := rows.Scan(&b.Timestamp, &b.Type, &data, &b.SchemaVersion); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &b.Data); err != nil {
			return nil, fmt.Errorf("backup: decode payload at %s: %w", b.Timestamp.Format(time.RFC3339Nano), err)
		}
		backups = append(backups, b)
	}
	return backups, rows.Err()
}

func (r *repository) TimestampsAsc(ctx context.Context) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `SELECT ts FROM backups ORDER BY ts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var timestamps []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		timestamps = append(timestamps, ts)
	}
	return timestamps, rows.Err()
}

func (r *repository) Delete(ctx context.Context, ts time.Time) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM backups WHERE ts = $1`, ts)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *repository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM backups`).Scan(&count)
	return count, err
}
