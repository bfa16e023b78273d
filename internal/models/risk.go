package models

import "time"

type RiskKind string

const (
	RiskKindDeviceCapExceeded  RiskKind = "device_cap_exceeded"
	RiskKindRateLimitIP        RiskKind = "rate_limit_ip"
	RiskKindRateLimitUser      RiskKind = "rate_limit_user"
	RiskKindChurnBurst         RiskKind = "churn_burst"
	RiskKindSubscriptionChange RiskKind = "subscription_change"
	RiskKindPaymentFailed      RiskKind = "payment_failed"
)

// RiskEvent is one append-only entry in the suspicion ledger.
type RiskEvent struct {
	ID        string
	UserID    *string
	DeviceID  *string
	IPAddress *string
	Kind      RiskKind
	Metadata  map[string]any
	CreatedAt time.Time
}

type IdentifierType string

const (
	IdentifierTypeIP   IdentifierType = "ip"
	IdentifierTypeUser IdentifierType = "user"
)

// RateWindow is one identifier's counter for one UTC calendar day.
type RateWindow struct {
	Identifier     string
	IdentifierType IdentifierType
	WindowStart    time.Time
	Count          int
}

// ProcessedNotification records an already-applied billing event id. Its
// existence is the sole idempotency guard for inbound webhooks.
type ProcessedNotification struct {
	ExternalEventID string
	Kind            string
	ProcessedAt     time.Time
}
