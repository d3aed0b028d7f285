// Package domain holds disputes raised by hospitals over completed service requests.
package domain

import (
	"errors"
	"strings"
	"time"
)

// Dispute is a hospital's challenge of completed work. At most one dispute per request is active.
type Dispute struct {
	ID            string
	RequestID     string
	HospitalOrgID string
	ProviderOrgID string
	Reason        string
	Status        Status
	Resolution    string
	CreatedAt     time.Time
	EscalatedAt   *time.Time
	ResolvedAt    *time.Time
}

type Status string

const (
	StatusOpen             Status = "open"
	StatusUnderReview      Status = "under_review"
	StatusResolvedHospital Status = "resolved_hospital"
	StatusResolvedProvider Status = "resolved_provider"
	StatusWithdrawn        Status = "withdrawn"
)

// Active reports whether the dispute still awaits a decision.
func (s Status) Active() bool {
	return s == StatusOpen || s == StatusUnderReview
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusUnderReview, StatusResolvedHospital, StatusResolvedProvider, StatusWithdrawn:
		return true
	}
	return false
}

// Decision names the party a dispute is resolved in favour of.
type Decision string

const (
	DecisionHospital Decision = "hospital"
	DecisionProvider Decision = "provider"
)

// ErrInvalidDecision is returned for a decision other than hospital or provider.
var ErrInvalidDecision = errors.New("decision must be hospital or provider")

// ParseDecision validates s.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionHospital, DecisionProvider:
		return d, nil
	}
	return "", ErrInvalidDecision
}

// Resolved returns the final status for d.
func (d Decision) Resolved() Status {
	if d == DecisionHospital {
		return StatusResolvedHospital
	}
	return StatusResolvedProvider
}

// Refunds reports whether the decision refunds the hospital.
func (d Decision) Refunds() bool { return d == DecisionHospital }
