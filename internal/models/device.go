package models

import "time"

// Device is one install of the desktop client, keyed by the
// client-supplied fingerprint. Rows are created on first sight and never
// deleted. Once TrialConsumed is set the trial window is frozen forever.
type Device struct {
	ID             string
	DeviceHash     string
	FirstSeenAt    time.Time
	TrialStartedAt *time.Time
	TrialEndedAt   *time.Time
	TrialConsumed  bool
	LastSeenAt     *time.Time
}

// TrialOpenAt reports whether the device's trial window contains t.
func (d Device) TrialOpenAt(t time.Time) bool {
	if d.TrialStartedAt == nil || d.TrialEndedAt == nil {
		return false
	}
	return !t.Before(*d.TrialStartedAt) && !t.After(*d.TrialEndedAt)
}

type DeviceLink struct {
	UserID    string
	DeviceID  string
	CreatedAt time.Time
}
