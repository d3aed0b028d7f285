// Package domain holds service requests, their status machine and provider quotes.
package domain

import (
	"errors"
	"strings"
	"time"
)

// ServiceRequest is a hospital's request to repair or maintain one piece of equipment.
type ServiceRequest struct {
	ID              string
	HospitalOrgID   string
	EquipmentID     string
	Title           string
	Description     string
	Priority        Priority
	Status          Status
	ProviderOrgID   string
	AcceptedQuoteID string
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

type Status string

const (
	StatusOpen       Status = "open"
	StatusQuoted     Status = "quoted"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusDisputed   Status = "disputed"
	StatusRefunded   Status = "refunded"
)

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// ErrInvalidTransition is returned for a status change the machine does not allow.
var ErrInvalidTransition = errors.New("invalid service request status transition")

var transitions = map[Status][]Status{
	StatusOpen:       {StatusQuoted, StatusCancelled},
	StatusQuoted:     {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  {StatusDisputed},
	StatusDisputed:   {StatusCompleted, StatusRefunded},
	StatusCancelled:  nil,
	StatusRefunded:   nil,
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves r to status to, stamping UpdatedAt. It returns ErrInvalidTransition and leaves r
// unchanged when the move is not allowed.
func (r *ServiceRequest) Transition(to Status, at time.Time) error {
	if !CanTransition(r.Status, to) {
		return ErrInvalidTransition
	}
	r.Status = to
	r.UpdatedAt = at
	if to == StatusCompleted && r.CompletedAt == nil {
		t := at
		r.CompletedAt = &t
	}
	return nil
}

// Validate normalizes and checks a new request.
func (r *ServiceRequest) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	if r.Title == "" {
		return errors.New("title is required")
	}
	if r.EquipmentID == "" {
		return errors.New("equipment is required")
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if !r.Priority.Valid() {
		return errors.New("priority must be low, medium, high or critical")
	}
	return nil
}

// Quote is a provider's offer to perform a service request.
type Quote struct {
	ID            string
	RequestID     string
	ProviderOrgID string
	AmountCents   int64
	Currency      string
	Notes         string
	Status        QuoteStatus
	ValidUntil    *time.Time
	CreatedAt     time.Time
}

type QuoteStatus string

const (
	QuoteSubmitted QuoteStatus = "submitted"
	QuoteAccepted  QuoteStatus = "accepted"
	QuoteRejected  QuoteStatus = "rejected"
	QuoteWithdrawn QuoteStatus = "withdrawn"
)

// Expired reports whether the quote's validity ended before now.
func (q *Quote) Expired(now time.Time) bool {
	return q.ValidUntil != nil && q.ValidUntil.Before(now)
}

// Validate checks a new quote.
func (q *Quote) Validate() error {
	q.Notes = strings.TrimSpace(q.Notes)
	q.Currency = strings.ToUpper(strings.TrimSpace(q.Currency))
	if q.AmountCents <= 0 {
		return errors.New("amount must be positive")
	}
	if q.Currency == "" {
		q.Currency = "USD"
	}
	if len(q.Currency) != 3 {
		return errors.New("currency must be a three-letter code")
	}
	return nil
}
