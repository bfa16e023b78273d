package service

// These tests exercise the transactional paths against a real Postgres.
// They skip unless KEYGATE_TEST_DATABASE_URL points at a disposable
// database; the schema is bootstrapped and truncated per test.

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"keygate/api/internal/config"
	"keygate/api/internal/database"
	"keygate/api/internal/license"
	"keygate/api/internal/models"
	"keygate/api/internal/repository"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("KEYGATE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("KEYGATE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `
		TRUNCATE users, devices, device_links, subscriptions,
			rate_windows, risk_events, processed_notifications CASCADE
	`)
	require.NoError(t, err)

	return pool
}

// Thresholds high enough that only the check under test can fire.
func testLicensing() config.LicensingConfig {
	return config.LicensingConfig{
		TrialDays:        14,
		DeviceCapDefault: 3,
		IPDailyMax:       100,
		UserDailyMax:     100,
		ChurnWindow:      time.Hour,
		ChurnThreshold:   100,
	}
}

func registrationServiceForTest(pool *pgxpool.Pool, licensing config.LicensingConfig) *RegistrationService {
	return NewRegistrationService(
		pool,
		repository.NewUserRepository(pool),
		repository.NewDeviceRepository(pool),
		repository.NewLinkRepository(pool),
		repository.NewRateWindowRepository(pool),
		repository.NewRiskRepository(pool),
		repository.NewSubscriptionRepository(pool),
		licensing,
		zerolog.Nop(),
	)
}

// N racing first-registrations of one fingerprint commit exactly one
// trial window, and every caller observes that committed window.
func TestRegisterConcurrentSameDeviceGrantsOneTrial(t *testing.T) {
	pool := testPool(t)
	svc := registrationServiceForTest(pool, testLicensing())
	ctx := context.Background()

	const racers = 8
	results := make([]RegisterResult, racers)
	errs := make([]error, racers)

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Register(ctx, RegisterInput{
				Email:      fmt.Sprintf("racer%d@example.com", i),
				DeviceHash: "fp-race",
				IPAddress:  fmt.Sprintf("10.0.0.%d", i+1),
			})
		}(i)
	}
	wg.Wait()

	device, err := repository.NewDeviceRepository(pool).GetByHash(ctx, "fp-race")
	require.NoError(t, err)
	require.True(t, device.TrialConsumed)
	require.NotNil(t, device.TrialStartedAt)
	require.NotNil(t, device.TrialEndedAt)

	for i := 0; i < racers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, models.SubscriptionStatusTrial, results[i].Entitlement.Status)
		require.Equal(t, device.ID, results[i].Device.ID)
		require.NotNil(t, results[i].Device.TrialStartedAt)
		require.True(t, device.TrialStartedAt.Equal(*results[i].Device.TrialStartedAt))
	}

	var deviceRows int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM devices WHERE device_hash = $1`, "fp-race").Scan(&deviceRows))
	require.Equal(t, 1, deviceRows)
}

// The third device on a two-device account is denied with the counts in
// the error, exactly one ledger entry, and no link left behind.
func TestRegisterDeviceCapDeniesWithLedgerEntry(t *testing.T) {
	pool := testPool(t)
	licensing := testLicensing()
	licensing.DeviceCapDefault = 2
	svc := registrationServiceForTest(pool, licensing)
	ctx := context.Background()

	first, err := svc.Register(ctx, RegisterInput{
		Email: "  Cap.User@Example.COM ", DeviceHash: "fp-cap-1", IPAddress: "10.1.0.1",
	})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterInput{
		Email: "cap.user@example.com", DeviceHash: "fp-cap-2", IPAddress: "10.1.0.1",
	})
	require.NoError(t, err)

	// Normalization folded the mixed-case registration into one account.
	user, err := repository.NewUserRepository(pool).GetByID(ctx, first.User.ID)
	require.NoError(t, err)
	require.Equal(t, "cap.user@example.com", user.Email)

	_, err = svc.Register(ctx, RegisterInput{
		Email: "cap.user@example.com", DeviceHash: "fp-cap-3", IPAddress: "10.1.0.1",
	})
	var capErr *license.DeviceCapError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, 2, capErr.Current)
	require.Equal(t, 2, capErr.Max)

	var links int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM device_links WHERE user_id = $1`, user.ID).Scan(&links))
	require.Equal(t, 2, links)

	var events int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM risk_events WHERE user_id = $1 AND kind = $2`,
		user.ID, string(models.RiskKindDeviceCapExceeded)).Scan(&events))
	require.Equal(t, 1, events)
}

// A redelivered event id returns the prior record and re-runs no side
// effects: one status transition, one audit entry.
func TestApplyNotificationDuplicateAppliesOnce(t *testing.T) {
	pool := testPool(t)
	subs := repository.NewSubscriptionRepository(pool)
	svc := NewBillingService(
		pool,
		subs,
		repository.NewNotificationRepository(pool),
		repository.NewRiskRepository(pool),
		&stubProcessor{},
		nil,
		zerolog.Nop(),
	)
	ctx := context.Background()

	periodEnd := time.Now().UTC().Add(30 * 24 * time.Hour)
	created, err := svc.ApplyNotification(ctx, "evt_1", NotificationSubscriptionCreated, NotificationPayload{
		UserID:           "user_wh",
		CustomerRef:      "cus_wh",
		SubscriptionRef:  "sub_wh",
		CurrentPeriodEnd: &periodEnd,
	})
	require.NoError(t, err)
	require.False(t, created.Duplicate)

	sub, err := subs.GetByExternalRef(ctx, "sub_wh")
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionStatusActive, sub.Status)

	first, err := svc.ApplyNotification(ctx, "evt_2", NotificationSubscriptionDeleted, NotificationPayload{
		SubscriptionRef: "sub_wh",
	})
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := svc.ApplyNotification(ctx, "evt_2", NotificationSubscriptionDeleted, NotificationPayload{
		SubscriptionRef: "sub_wh",
	})
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, NotificationSubscriptionDeleted, second.Kind)

	reread, err := subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionStatusExpired, reread.Status)
	require.NotNil(t, reread.CanceledAt)

	var transitions int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM risk_events WHERE kind = $1 AND metadata->>'to' = 'expired'`,
		string(models.RiskKindSubscriptionChange)).Scan(&transitions))
	require.Equal(t, 1, transitions)

	var claims int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM processed_notifications`).Scan(&claims))
	require.Equal(t, 2, claims)
}
