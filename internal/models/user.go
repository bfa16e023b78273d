package models

import "time"

// User is an account identified by normalized email. MaxDevices, when
// set, overrides the configured device cap for this account.
type User struct {
	ID         string
	Email      string
	MaxDevices *int
	CreatedAt  time.Time
}
