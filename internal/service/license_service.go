package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"keygate/api/internal/config"
	"keygate/api/internal/license"
	"keygate/api/internal/models"
	"keygate/api/internal/repository"
	"keygate/api/internal/security"
)

// LicenseService answers entitlement questions and issues lease tokens.
// Resolution is evaluated fresh on every call; the lease token is only a
// snapshot for display.
type LicenseService struct {
	devices *repository.DeviceRepository
	subs    *repository.SubscriptionRepository
	cfg     config.SecurityConfig
	log     zerolog.Logger
}

func NewLicenseService(
	devices *repository.DeviceRepository,
	subs *repository.SubscriptionRepository,
	cfg config.SecurityConfig,
	log zerolog.Logger,
) *LicenseService {
	return &LicenseService{devices: devices, subs: subs, cfg: cfg, log: log}
}

// ResolveStatus computes the current entitlement for one user on one
// device. A database failure fails closed: the caller gets an error,
// never a default entitlement.
func (s *LicenseService) ResolveStatus(ctx context.Context, userID string, deviceID string) (license.Entitlement, error) {
	device, err := s.devices.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return license.Entitlement{}, license.ErrDeviceNotFound
		}
		return license.Entitlement{}, fmt.Errorf("load device: %w", err)
	}

	var sub *models.Subscription
	if found, err := s.subs.ActiveByUser(ctx, userID); err == nil {
		sub = &found
	} else if !errors.Is(err, repository.ErrSubscriptionNotFound) {
		return license.Entitlement{}, fmt.Errorf("load subscription: %w", err)
	}

	ent := license.Resolve(sub, device, time.Now().UTC())

	// Liveness touch feeds churn analytics. Intentional coupling; losing
	// it on a crash is harmless.
	if err := s.devices.TouchLastSeen(ctx, device.ID); err != nil {
		s.log.Warn().Err(err).Str("device_id", device.ID).Msg("touch last seen failed")
	}

	return ent, nil
}

// IssueToken signs a lease for the device embedding the entitlement
// snapshot. The token outlives the embedded license expiry by design;
// ground truth is always ResolveStatus.
func (s *LicenseService) IssueToken(deviceID string, ent license.Entitlement) (string, error) {
	return security.IssueLeaseToken(
		s.cfg.LeaseSecret,
		deviceID,
		string(ent.Status),
		ent.ExpiresAt,
		s.cfg.LeaseTTL,
	)
}
