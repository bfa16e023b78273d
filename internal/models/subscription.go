package models

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusTrial   SubscriptionStatus = "trial"
	SubscriptionStatusActive  SubscriptionStatus = "active"
	SubscriptionStatusExpired SubscriptionStatus = "expired"
)

// Subscription mirrors the remote processor's subscription for one user.
// The authoritative active row is the most recently created one with
// status=active.
type Subscription struct {
	ID                      string
	UserID                  string
	ExternalCustomerRef     *string
	ExternalSubscriptionRef *string
	Status                  SubscriptionStatus
	CurrentPeriodEnd        *time.Time
	CancelAtPeriodEnd       bool
	CanceledAt              *time.Time
	CreatedAt               time.Time
}

// PeriodOpenAt reports whether the paid period covers t. A missing
// period end means the period is open-ended.
func (s Subscription) PeriodOpenAt(t time.Time) bool {
	return s.CurrentPeriodEnd == nil || s.CurrentPeriodEnd.After(t)
}
