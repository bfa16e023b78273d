package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"keygate/api/internal/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

type NotificationRepository struct {
	db Querier
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: pool}
}

func (r *NotificationRepository) WithTx(tx pgx.Tx) *NotificationRepository {
	return &NotificationRepository{db: tx}
}

// Insert claims externalEventID. The false return means another delivery
// already claimed it and the caller must not reapply side effects.
func (r *NotificationRepository) Insert(ctx context.Context, externalEventID string, kind string) (bool, error) {
	const query = `
		INSERT INTO processed_notifications (external_event_id, kind, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (external_event_id) DO NOTHING
	`
	cmd, err := r.db.Exec(ctx, query, externalEventID, kind)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *NotificationRepository) Get(ctx context.Context, externalEventID string) (models.ProcessedNotification, error) {
	const query = `
		SELECT external_event_id, kind, processed_at
		FROM processed_notifications WHERE external_event_id = $1
	`
	row := r.db.QueryRow(ctx, query, externalEventID)
	var pn models.ProcessedNotification
	if err := row.Scan(&pn.ExternalEventID, &pn.Kind, &pn.ProcessedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ProcessedNotification{}, ErrNotificationNotFound
		}
		return models.ProcessedNotification{}, err
	}
	return pn, nil
}
