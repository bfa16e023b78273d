package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"keygate/api/internal/models"
)

var ErrDeviceNotFound = errors.New("device not found")

const deviceColumns = `id, device_hash, first_seen_at, trial_started_at, trial_ended_at, trial_consumed, last_seen_at`

type DeviceRepository struct {
	db Querier
}

func NewDeviceRepository(pool *pgxpool.Pool) *DeviceRepository {
	return &DeviceRepository{db: pool}
}

func (r *DeviceRepository) WithTx(tx pgx.Tx) *DeviceRepository {
	return &DeviceRepository{db: tx}
}

// CreateIfAbsent inserts a device row for hash on first sight. Losing a
// race on the unique device_hash is fine; the caller re-reads.
func (r *DeviceRepository) CreateIfAbsent(ctx context.Context, id string, deviceHash string) error {
	const query = `
		INSERT INTO devices (id, device_hash, first_seen_at, trial_consumed)
		VALUES ($1, $2, NOW(), false)
		ON CONFLICT (device_hash) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, id, deviceHash)
	return err
}

// GetByHashForUpdate locks the device row for the rest of the
// registration transaction, serializing concurrent registrations of the
// same fingerprint.
func (r *DeviceRepository) GetByHashForUpdate(ctx context.Context, deviceHash string) (models.Device, error) {
	const query = `
		SELECT ` + deviceColumns + `
		FROM devices WHERE device_hash = $1
		FOR UPDATE
	`
	return r.scanDevice(r.db.QueryRow(ctx, query, deviceHash))
}

func (r *DeviceRepository) GetByID(ctx context.Context, id string) (models.Device, error) {
	const query = `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	return r.scanDevice(r.db.QueryRow(ctx, query, id))
}

func (r *DeviceRepository) GetByHash(ctx context.Context, deviceHash string) (models.Device, error) {
	const query = `SELECT ` + deviceColumns + ` FROM devices WHERE device_hash = $1`
	return r.scanDevice(r.db.QueryRow(ctx, query, deviceHash))
}

// GrantTrial is the compare-and-swap that makes the trial window
// single-shot: the WHERE clause only matches a row that has never started
// a trial, so exactly one of N racing registrations affects a row. The
// window is frozen once trial_consumed flips.
func (r *DeviceRepository) GrantTrial(ctx context.Context, id string, startedAt time.Time, endedAt time.Time) (bool, error) {
	const query = `
		UPDATE devices
		SET trial_started_at = $2, trial_ended_at = $3, trial_consumed = true
		WHERE id = $1 AND trial_started_at IS NULL AND trial_consumed = false
	`
	cmd, err := r.db.Exec(ctx, query, id, startedAt, endedAt)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// TouchLastSeen is best-effort liveness for churn analytics; a lost
// update here violates nothing.
func (r *DeviceRepository) TouchLastSeen(ctx context.Context, id string) error {
	const query = `UPDATE devices SET last_seen_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

func (r *DeviceRepository) scanDevice(row pgx.Row) (models.Device, error) {
	var device models.Device
	if err := row.Scan(
		&device.ID,
		&device.DeviceHash,
		&device.FirstSeenAt,
		&device.TrialStartedAt,
		&device.TrialEndedAt,
		&device.TrialConsumed,
		&device.LastSeenAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Device{}, ErrDeviceNotFound
		}
		return models.Device{}, err
	}
	return device, nil
}
