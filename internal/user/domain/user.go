package domain

import (
	"errors"
	"time"
)

// User is the core user entity.
type User struct {
	ID           string
	Email        string
	Name         string
	PlatformRole PlatformRole
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// PlatformRole marks MediLink staff. Tenant roles live on memberships.
type PlatformRole string

const (
	PlatformRoleNone  PlatformRole = "none"
	PlatformRoleAdmin PlatformRole = "admin"
)

// IsPlatformAdmin reports whether u administers the whole platform.
func (u *User) IsPlatformAdmin() bool {
	return u != nil && u.PlatformRole == PlatformRoleAdmin
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	if u.PlatformRole == "" {
		u.PlatformRole = PlatformRoleNone
	}
	return nil
}
