package license

import (
	"errors"
	"fmt"

	"keygate/api/internal/models"
)

var (
	ErrDeviceNotFound       = errors.New("device not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrDeviceMismatch       = errors.New("device fingerprint mismatch")
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
)

// DeviceCapError denies a registration because the account already links
// its maximum number of devices. Current/Max are surfaced to the caller.
type DeviceCapError struct {
	Current int
	Max     int
}

func (e *DeviceCapError) Error() string {
	return fmt.Sprintf("device cap exceeded: %d of %d devices linked", e.Current, e.Max)
}

// RateLimitError denies a registration because the daily counter for one
// identifier is exhausted.
type RateLimitError struct {
	Type    models.IdentifierType
	Current int
	Max     int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d of %d today", e.Type, e.Current, e.Max)
}
