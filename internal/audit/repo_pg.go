package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the PostgreSQL-backed audit_log collection.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Append(ctx context.Context, e Entry) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO audit_log (created_at, action, details, user_id, user_name)
		VALUES ($1, $2, $3, $4, $5)`, e.At, e.Action, []byte(e.Details), e.UserID, e.UserName)
	return err
}

func (r *repository) Query(ctx context.Context, filters Filters) ([]Entry, error) {
	query := `SELECT id, created_at, action, details, user_id, user_name FROM audit_log WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.Action != "" {
		argCount++
		query += ` AND action = $` + strconv.Itoa(argCount)
		args = append(args, filters.Action)
	}
	if filters.UserID != "" {
		argCount++
		query += ` AND user_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.UserID)
	}
	if !filters.Start.IsZero() {
		argCount++
		query += ` AND created_at >= $` + strconv.Itoa(argCount)
		args = append(args, filters.Start)
	}
	if !filters.End.IsZero() {
		argCount++
		query += ` AND created_at <= $` + strconv.Itoa(argCount)
		args = append(args, filters.End)
	}

	query += ` ORDER BY created_at DESC, id DESC`

	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var details []byte
		if err := rows.Scan(&e.ID, &e.At, &e.Action, &details, &e.UserID, &e.UserName); err != nil {
			return nil, err
		}
		e.Details = details
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repository) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
