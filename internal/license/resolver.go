package license

import (
	"time"

	"keygate/api/internal/models"
)

// Entitlement is the answer to "may this device run the product now".
type Entitlement struct {
	Status    models.SubscriptionStatus
	ExpiresAt *time.Time
	DaysLeft  *int
}

// Resolve computes the current entitlement from the active subscription
// (nil when the user has none), the device's trial window, and the clock.
// Priority: unexpired paid subscription, then open trial window, then
// expired. It is a pure function; callers own the row loads and the
// last-seen touch.
func Resolve(sub *models.Subscription, device models.Device, now time.Time) Entitlement {
	if sub != nil && sub.Status == models.SubscriptionStatusActive && sub.PeriodOpenAt(now) {
		return Entitlement{Status: models.SubscriptionStatusActive}
	}

	if device.TrialOpenAt(now) {
		days := daysLeft(*device.TrialEndedAt, now)
		return Entitlement{
			Status:    models.SubscriptionStatusTrial,
			ExpiresAt: device.TrialEndedAt,
			DaysLeft:  &days,
		}
	}

	zero := 0
	return Entitlement{Status: models.SubscriptionStatusExpired, DaysLeft: &zero}
}

func daysLeft(end time.Time, now time.Time) int {
	remaining := end.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) != 0 {
		days++
	}
	return days
}
