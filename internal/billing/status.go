package billing

import "keygate/api/internal/models"

// MapRemoteStatus translates a processor status string into the local
// three-state model. The false return marks an ambiguous status: the
// caller must keep local state untouched rather than guess.
func MapRemoteStatus(remote string) (models.SubscriptionStatus, bool) {
	switch remote {
	case "active", "trialing", "past_due":
		// past_due still grants access; the processor is retrying payment
		// and will emit a terminal event if it gives up.
		return models.SubscriptionStatusActive, true
	case "canceled", "unpaid", "incomplete_expired", "expired", "inactive":
		return models.SubscriptionStatusExpired, true
	case "trial":
		return models.SubscriptionStatusTrial, true
	default:
		return "", false
	}
}

// ConfirmsNonActive reports whether a remote status is explicit proof
// that the subscription no longer grants access. Only this proof may
// downgrade a locally-active subscription.
func ConfirmsNonActive(remote string) bool {
	mapped, ok := MapRemoteStatus(remote)
	return ok && mapped == models.SubscriptionStatusExpired
}
