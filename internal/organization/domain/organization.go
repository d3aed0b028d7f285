package domain

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// Org is a tenant: a hospital that owns equipment or a provider that services it.
type Org struct {
	ID           string
	Name         string
	Type         OrgType
	Status       OrgStatus
	ContactEmail string
	CreatedAt    time.Time
}

type OrgType string

const (
	OrgTypeHospital OrgType = "hospital"
	OrgTypeProvider OrgType = "provider"
)

type OrgStatus string

const (
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
)

// Validate validates the organization for persistence. Returns an error describing the first validation failure.
func (o *Org) Validate() error {
	o.Name = strings.TrimSpace(o.Name)
	if o.Name == "" {
		return errors.New("name is required")
	}
	if o.Type != OrgTypeHospital && o.Type != OrgTypeProvider {
		return errors.New("type must be hospital or provider")
	}
	if o.ContactEmail != "" {
		if _, err := mail.ParseAddress(o.ContactEmail); err != nil {
			return errors.New("contact email is invalid")
		}
	}
	if o.Status == "" {
		o.Status = OrgStatusActive
	}
	return nil
}
