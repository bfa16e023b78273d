package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"keygate/api/internal/models"
)

type RateWindowRepository struct {
	db Querier
}

func NewRateWindowRepository(pool *pgxpool.Pool) *RateWindowRepository {
	return &RateWindowRepository{db: pool}
}

func (r *RateWindowRepository) WithTx(tx pgx.Tx) *RateWindowRepository {
	return &RateWindowRepository{db: tx}
}

// WindowStart is the UTC midnight that keys today's counter. Old windows
// are never reset in place; a new day simply starts a new row.
func WindowStart(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour)
}

// Count returns today's counter for identifier, zero when no row exists
// yet.
func (r *RateWindowRepository) Count(ctx context.Context, identifier string, identifierType models.IdentifierType, windowStart time.Time) (int, error) {
	const query = `
		SELECT count FROM rate_windows
		WHERE identifier = $1 AND identifier_type = $2 AND window_start = $3
	`
	var count int
	err := r.db.QueryRow(ctx, query, identifier, identifierType, windowStart).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Increment upserts today's counter by one.
func (r *RateWindowRepository) Increment(ctx context.Context, identifier string, identifierType models.IdentifierType, windowStart time.Time) error {
	const query = `
		INSERT INTO rate_windows (identifier, identifier_type, window_start, count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (identifier, identifier_type, window_start)
		DO UPDATE SET count = rate_windows.count + 1
	`
	_, err := r.db.Exec(ctx, query, identifier, identifierType, windowStart)
	return err
}

// DeleteOlderThan prunes stale windows. Cutoff-bounded, so running it
// concurrently with live traffic is safe.
func (r *RateWindowRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM rate_windows WHERE window_start < $1`
	cmd, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
