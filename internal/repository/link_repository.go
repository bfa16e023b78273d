package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LinkRepository struct {
	db Querier
}

func NewLinkRepository(pool *pgxpool.Pool) *LinkRepository {
	return &LinkRepository{db: pool}
}

func (r *LinkRepository) WithTx(tx pgx.Tx) *LinkRepository {
	return &LinkRepository{db: tx}
}

// Exists reports whether user and device are already linked. Several
// users sharing one device is expected (reinstalls, shared machines).
func (r *LinkRepository) Exists(ctx context.Context, userID string, deviceID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM device_links WHERE user_id = $1 AND device_id = $2)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, deviceID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *LinkRepository) Create(ctx context.Context, userID string, deviceID string) error {
	const query = `
		INSERT INTO device_links (user_id, device_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, device_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, userID, deviceID)
	return err
}

func (r *LinkRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM device_links WHERE user_id = $1`
	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountByUserSince feeds the churn heuristic: links created by one user
// inside the trailing window.
func (r *LinkRepository) CountByUserSince(ctx context.Context, userID string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM device_links WHERE user_id = $1 AND created_at >= $2`
	var count int
	if err := r.db.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
