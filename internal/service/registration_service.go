package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"keygate/api/internal/config"
	"keygate/api/internal/ids"
	"keygate/api/internal/license"
	"keygate/api/internal/models"
	"keygate/api/internal/repository"
)

// RegistrationService runs the whole registration path in one
// transaction: device lookup/create, abuse-gate admission, trial grant,
// link creation, counter increments. The device row lock serializes
// concurrent registrations of the same fingerprint.
type RegistrationService struct {
	pool      *pgxpool.Pool
	users     *repository.UserRepository
	devices   *repository.DeviceRepository
	links     *repository.LinkRepository
	windows   *repository.RateWindowRepository
	risks     *repository.RiskRepository
	subs      *repository.SubscriptionRepository
	licensing config.LicensingConfig
	log       zerolog.Logger
}

func NewRegistrationService(
	pool *pgxpool.Pool,
	users *repository.UserRepository,
	devices *repository.DeviceRepository,
	links *repository.LinkRepository,
	windows *repository.RateWindowRepository,
	risks *repository.RiskRepository,
	subs *repository.SubscriptionRepository,
	licensing config.LicensingConfig,
	log zerolog.Logger,
) *RegistrationService {
	return &RegistrationService{
		pool:      pool,
		users:     users,
		devices:   devices,
		links:     links,
		windows:   windows,
		risks:     risks,
		subs:      subs,
		licensing: licensing,
		log:       log,
	}
}

type RegisterInput struct {
	Email      string
	DeviceHash string
	IPAddress  string
}

type RegisterResult struct {
	User        models.User
	Device      models.Device
	Entitlement license.Entitlement
}

func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) (RegisterResult, error) {
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	if input.Email == "" || input.DeviceHash == "" {
		return RegisterResult{}, fmt.Errorf("email and device hash required")
	}

	// Server clock, read once. Client timestamps are never trusted.
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("begin registration tx: %w", err)
	}
	defer tx.Rollback(ctx)

	user, err := s.users.WithTx(tx).GetOrCreateByEmail(ctx, ids.New(), input.Email)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("get or create user: %w", err)
	}

	txDevices := s.devices.WithTx(tx)
	if err := txDevices.CreateIfAbsent(ctx, ids.New(), input.DeviceHash); err != nil {
		return RegisterResult{}, fmt.Errorf("create device: %w", err)
	}
	device, err := txDevices.GetByHashForUpdate(ctx, input.DeviceHash)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("lock device: %w", err)
	}

	txLinks := s.links.WithTx(tx)
	alreadyLinked, err := txLinks.Exists(ctx, user.ID, device.ID)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("check link: %w", err)
	}

	// Admission control applies only to new user-device links; a repeat
	// registration of a linked pair carries no new risk and bypasses all
	// counters.
	if !alreadyLinked {
		if denied := s.admit(ctx, tx, user, device, input.IPAddress, now); denied != nil {
			tx.Rollback(ctx)
			return RegisterResult{}, denied
		}
	}

	if !device.TrialConsumed {
		trialEnd := now.AddDate(0, 0, s.licensing.TrialDays)
		won, err := txDevices.GrantTrial(ctx, device.ID, now, trialEnd)
		if err != nil {
			return RegisterResult{}, fmt.Errorf("grant trial: %w", err)
		}
		// Win or lose, re-read so every caller observes the committed
		// window rather than its own clock.
		device, err = txDevices.GetByID(ctx, device.ID)
		if err != nil {
			return RegisterResult{}, fmt.Errorf("reread device: %w", err)
		}
		if won {
			s.log.Info().
				Str("device_id", device.ID).
				Time("trial_ends", trialEnd).
				Msg("trial window granted")
		}
	}

	if !alreadyLinked {
		if err := txLinks.Create(ctx, user.ID, device.ID); err != nil {
			return RegisterResult{}, fmt.Errorf("create link: %w", err)
		}

		// Counters move only once the grant and link are in the same tx;
		// a rollback costs the caller nothing.
		txWindows := s.windows.WithTx(tx)
		windowStart := repository.WindowStart(now)
		if err := txWindows.Increment(ctx, input.IPAddress, models.IdentifierTypeIP, windowStart); err != nil {
			return RegisterResult{}, fmt.Errorf("increment ip window: %w", err)
		}
		if err := txWindows.Increment(ctx, user.ID, models.IdentifierTypeUser, windowStart); err != nil {
			return RegisterResult{}, fmt.Errorf("increment user window: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return RegisterResult{}, fmt.Errorf("commit registration: %w", err)
	}

	sub, err := s.activeSubscription(ctx, user.ID)
	if err != nil {
		return RegisterResult{}, err
	}
	// Resolve with a post-commit clock read: a registration that lost the
	// trial race must land inside the window the winner just committed.
	ent := license.Resolve(sub, device, time.Now().UTC())

	if err := s.devices.TouchLastSeen(ctx, device.ID); err != nil {
		s.log.Warn().Err(err).Str("device_id", device.ID).Msg("touch last seen failed")
	}

	return RegisterResult{User: user, Device: device, Entitlement: ent}, nil
}

// admit runs the abuse-gate checks inside the registration transaction.
// A non-nil return is the structured denial; denial risk events are
// written through the pool so they survive the rollback.
func (s *RegistrationService) admit(ctx context.Context, tx pgx.Tx, user models.User, device models.Device, ipAddress string, now time.Time) error {
	capLimit := s.licensing.DeviceCapDefault
	if user.MaxDevices != nil {
		capLimit = *user.MaxDevices
	}

	linkCount, err := s.links.WithTx(tx).CountByUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("count links: %w", err)
	}
	if linkCount >= capLimit {
		s.logRisk(ctx, models.RiskEvent{
			ID:        ids.New(),
			UserID:    &user.ID,
			DeviceID:  &device.ID,
			IPAddress: &ipAddress,
			Kind:      models.RiskKindDeviceCapExceeded,
			Metadata:  map[string]any{"current": linkCount, "max": capLimit},
		})
		return &license.DeviceCapError{Current: linkCount, Max: capLimit}
	}

	txWindows := s.windows.WithTx(tx)
	windowStart := repository.WindowStart(now)

	ipCount, err := txWindows.Count(ctx, ipAddress, models.IdentifierTypeIP, windowStart)
	if err != nil {
		return fmt.Errorf("count ip window: %w", err)
	}
	if ipCount >= s.licensing.IPDailyMax {
		s.logRisk(ctx, models.RiskEvent{
			ID:        ids.New(),
			UserID:    &user.ID,
			DeviceID:  &device.ID,
			IPAddress: &ipAddress,
			Kind:      models.RiskKindRateLimitIP,
			Metadata:  map[string]any{"current": ipCount, "max": s.licensing.IPDailyMax},
		})
		return &license.RateLimitError{Type: models.IdentifierTypeIP, Current: ipCount, Max: s.licensing.IPDailyMax}
	}

	userCount, err := txWindows.Count(ctx, user.ID, models.IdentifierTypeUser, windowStart)
	if err != nil {
		return fmt.Errorf("count user window: %w", err)
	}
	if userCount >= s.licensing.UserDailyMax {
		s.logRisk(ctx, models.RiskEvent{
			ID:        ids.New(),
			UserID:    &user.ID,
			DeviceID:  &device.ID,
			IPAddress: &ipAddress,
			Kind:      models.RiskKindRateLimitUser,
			Metadata:  map[string]any{"current": userCount, "max": s.licensing.UserDailyMax},
		})
		return &license.RateLimitError{Type: models.IdentifierTypeUser, Current: userCount, Max: s.licensing.UserDailyMax}
	}

	// Churn is detection only. It rides the registration tx so the event
	// commits with the link it describes.
	recent, err := s.links.WithTx(tx).CountByUserSince(ctx, user.ID, now.Add(-s.licensing.ChurnWindow))
	if err != nil {
		return fmt.Errorf("count recent links: %w", err)
	}
	if recent >= s.licensing.ChurnThreshold {
		if err := s.risks.WithTx(tx).Append(ctx, models.RiskEvent{
			ID:        ids.New(),
			UserID:    &user.ID,
			DeviceID:  &device.ID,
			IPAddress: &ipAddress,
			Kind:      models.RiskKindChurnBurst,
			Metadata:  map[string]any{"recent": recent, "threshold": s.licensing.ChurnThreshold},
		}); err != nil {
			return fmt.Errorf("append churn event: %w", err)
		}
		s.log.Warn().
			Str("user_id", user.ID).
			Int("recent_links", recent).
			Msg("churn burst detected")
	}

	return nil
}

func (s *RegistrationService) activeSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := s.subs.ActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	return &sub, nil
}

func (s *RegistrationService) logRisk(ctx context.Context, event models.RiskEvent) {
	if err := s.risks.Append(ctx, event); err != nil {
		s.log.Error().Err(err).Str("kind", string(event.Kind)).Msg("append risk event failed")
	}
}
