package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"keygate/api/internal/models"
)

type RiskRepository struct {
	db Querier
}

func NewRiskRepository(pool *pgxpool.Pool) *RiskRepository {
	return &RiskRepository{db: pool}
}

func (r *RiskRepository) WithTx(tx pgx.Tx) *RiskRepository {
	return &RiskRepository{db: tx}
}

// Append writes one ledger entry. The ledger is append-only; there is no
// update path.
func (r *RiskRepository) Append(ctx context.Context, event models.RiskEvent) error {
	const query = `
		INSERT INTO risk_events (id, user_id, device_id, ip_address, kind, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	_, err := r.db.Exec(ctx, query,
		event.ID,
		event.UserID,
		event.DeviceID,
		event.IPAddress,
		event.Kind,
		event.Metadata,
	)
	return err
}

func (r *RiskRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM risk_events WHERE created_at < $1`
	cmd, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
