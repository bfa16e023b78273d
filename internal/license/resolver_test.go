package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"keygate/api/internal/models"
)

func trialDevice(start time.Time, end time.Time) models.Device {
	return models.Device{
		ID:             "dev_1",
		DeviceHash:     "hash_1",
		TrialStartedAt: &start,
		TrialEndedAt:   &end,
		TrialConsumed:  true,
	}
}

func TestResolveActiveSubscriptionWinsOverTrial(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	periodEnd := now.Add(30 * 24 * time.Hour)
	sub := &models.Subscription{
		Status:           models.SubscriptionStatusActive,
		CurrentPeriodEnd: &periodEnd,
	}
	device := trialDevice(now.Add(-time.Hour), now.Add(13*24*time.Hour))

	ent := Resolve(sub, device, now)

	require.Equal(t, models.SubscriptionStatusActive, ent.Status)
	require.Nil(t, ent.ExpiresAt)
	require.Nil(t, ent.DaysLeft)
}

func TestResolveActiveSubscriptionWithoutPeriodEnd(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sub := &models.Subscription{Status: models.SubscriptionStatusActive}

	ent := Resolve(sub, models.Device{}, now)

	require.Equal(t, models.SubscriptionStatusActive, ent.Status)
}

func TestResolveLapsedSubscriptionFallsThroughToTrial(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	periodEnd := now.Add(-time.Hour)
	sub := &models.Subscription{
		Status:           models.SubscriptionStatusActive,
		CurrentPeriodEnd: &periodEnd,
	}
	device := trialDevice(now.Add(-24*time.Hour), now.Add(13*24*time.Hour))

	ent := Resolve(sub, device, now)

	require.Equal(t, models.SubscriptionStatusTrial, ent.Status)
	require.NotNil(t, ent.DaysLeft)
	require.Equal(t, 13, *ent.DaysLeft)
}

func TestResolveTrialDaysLeftRoundsUp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	device := trialDevice(now.Add(-time.Hour), now.Add(25*time.Hour))

	ent := Resolve(nil, device, now)

	require.Equal(t, models.SubscriptionStatusTrial, ent.Status)
	require.Equal(t, 2, *ent.DaysLeft)
}

func TestResolveExpiredWhenNothingApplies(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	device := trialDevice(now.Add(-20*24*time.Hour), now.Add(-6*24*time.Hour))

	ent := Resolve(nil, device, now)

	require.Equal(t, models.SubscriptionStatusExpired, ent.Status)
	require.Equal(t, 0, *ent.DaysLeft)
}

func TestResolveNoTrialEverGranted(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ent := Resolve(nil, models.Device{ID: "dev_1"}, now)

	require.Equal(t, models.SubscriptionStatusExpired, ent.Status)
}

func TestResolveIsDeterministic(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	device := trialDevice(now.Add(-time.Hour), now.Add(13*24*time.Hour))

	first := Resolve(nil, device, now)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, Resolve(nil, device, now))
	}
}
