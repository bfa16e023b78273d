package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"keygate/api/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository struct {
	db Querier
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: pool}
}

func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

// GetOrCreateByEmail is the idempotent account lookup: the conflict
// branch is a no-op update so RETURNING always yields the surviving row.
func (r *UserRepository) GetOrCreateByEmail(ctx context.Context, id string, email string) (models.User, error) {
	const query = `
		INSERT INTO users (id, email, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, max_devices, created_at
	`

	row := r.db.QueryRow(ctx, query, id, email)
	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.MaxDevices, &user.CreatedAt); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (models.User, error) {
	const query = `SELECT id, email, max_devices, created_at FROM users WHERE id = $1`

	row := r.db.QueryRow(ctx, query, id)
	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.MaxDevices, &user.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}
