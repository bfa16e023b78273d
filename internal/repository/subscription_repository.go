package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"keygate/api/internal/models"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

const subscriptionColumns = `id, user_id, external_customer_ref, external_subscription_ref, status, current_period_end, cancel_at_period_end, canceled_at, created_at`

type SubscriptionRepository struct {
	db Querier
}

func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: pool}
}

func (r *SubscriptionRepository) WithTx(tx pgx.Tx) *SubscriptionRepository {
	return &SubscriptionRepository{db: tx}
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub models.Subscription) error {
	const query = `
		INSERT INTO subscriptions (
			id, user_id, external_customer_ref, external_subscription_ref,
			status, current_period_end, cancel_at_period_end, canceled_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`
	_, err := r.db.Exec(ctx, query,
		sub.ID,
		sub.UserID,
		sub.ExternalCustomerRef,
		sub.ExternalSubscriptionRef,
		sub.Status,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
		sub.CanceledAt,
	)
	return err
}

// ActiveByUser returns "the" active subscription: the most recently
// created active row.
func (r *SubscriptionRepository) ActiveByUser(ctx context.Context, userID string) (models.Subscription, error) {
	const query = `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanSubscription(r.db.QueryRow(ctx, query, userID))
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (models.Subscription, error) {
	const query = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	return r.scanSubscription(r.db.QueryRow(ctx, query, id))
}

func (r *SubscriptionRepository) GetByExternalRef(ctx context.Context, externalRef string) (models.Subscription, error) {
	const query = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE external_subscription_ref = $1`
	return r.scanSubscription(r.db.QueryRow(ctx, query, externalRef))
}

func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, id string, status models.SubscriptionStatus, canceledAt *time.Time) error {
	const query = `
		UPDATE subscriptions
		SET status = $2, canceled_at = COALESCE($3, canceled_at)
		WHERE id = $1
	`
	cmd, err := r.db.Exec(ctx, query, id, status, canceledAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ExtendPeriod moves the paid period forward and forces the row active;
// a paid invoice outranks any intermediate remote state.
func (r *SubscriptionRepository) ExtendPeriod(ctx context.Context, id string, periodEnd time.Time) error {
	const query = `
		UPDATE subscriptions
		SET status = 'active', current_period_end = $2, canceled_at = NULL
		WHERE id = $1
	`
	cmd, err := r.db.Exec(ctx, query, id, periodEnd)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ListNeedingSync returns candidates for the reconciliation sweep.
// Expired is terminal locally; re-activation arrives via webhook, not
// the sweep.
func (r *SubscriptionRepository) ListNeedingSync(ctx context.Context) ([]models.Subscription, error) {
	const query = `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status != 'expired' AND external_subscription_ref IS NOT NULL
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(
			&sub.ID,
			&sub.UserID,
			&sub.ExternalCustomerRef,
			&sub.ExternalSubscriptionRef,
			&sub.Status,
			&sub.CurrentPeriodEnd,
			&sub.CancelAtPeriodEnd,
			&sub.CanceledAt,
			&sub.CreatedAt,
		); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (r *SubscriptionRepository) scanSubscription(row pgx.Row) (models.Subscription, error) {
	var sub models.Subscription
	if err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.ExternalCustomerRef,
		&sub.ExternalSubscriptionRef,
		&sub.Status,
		&sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd,
		&sub.CanceledAt,
		&sub.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Subscription{}, ErrSubscriptionNotFound
		}
		return models.Subscription{}, err
	}
	return sub, nil
}
