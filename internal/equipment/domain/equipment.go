package domain

import (
	"errors"
	"strings"
	"time"
)

// Equipment is a hospital-owned device that can be serviced.
type Equipment struct {
	ID             string
	OrgID          string
	Name           string
	Category       string
	Manufacturer   string
	Model          string
	SerialNumber   string
	Location       string
	Status         Status
	PurchasedAt    *time.Time
	LastServicedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Status string

const (
	StatusOperational  Status = "operational"
	StatusNeedsService Status = "needs_service"
	StatusUnderService Status = "under_service"
	StatusRetired      Status = "retired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOperational, StatusNeedsService, StatusUnderService, StatusRetired:
		return true
	}
	return false
}

// Validate normalizes and checks the fields a caller supplies.
func (e *Equipment) Validate() error {
	e.Name = strings.TrimSpace(e.Name)
	e.SerialNumber = strings.TrimSpace(e.SerialNumber)
	e.Category = strings.TrimSpace(e.Category)
	if e.Name == "" {
		return errors.New("name is required")
	}
	if e.SerialNumber == "" {
		return errors.New("serial number is required")
	}
	if e.Status == "" {
		e.Status = StatusOperational
	}
	if !e.Status.Valid() {
		return errors.New("status is invalid")
	}
	return nil
}

// Serviceable reports whether a new service request may be opened for e.
func (e *Equipment) Serviceable() bool {
	return e.Status != StatusRetired
}
