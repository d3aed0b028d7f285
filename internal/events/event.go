// Package events carries domain events from services to the realtime feed.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	ServiceRequestCreated       = "service_request.created"
	ServiceRequestStatusChanged = "service_request.status_changed"
	QuoteSubmitted              = "quote.submitted"
	QuoteAccepted               = "quote.accepted"
	DisputeOpened               = "dispute.opened"
	DisputeEscalated            = "dispute.escalated"
	DisputeResolved             = "dispute.resolved"
	CreditsChanged              = "credits.changed"
	SubscriptionChanged         = "subscription.changed"
)

// Event is a domain event delivered to every org in OrgIDs.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OrgIDs     []string       `json:"org_ids"`
	ResourceID string         `json:"resource_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// New returns an event with a fresh id, stamped now. Empty org ids are dropped.
func New(typ, resourceID string, payload map[string]any, orgIDs ...string) Event {
	orgs := make([]string, 0, len(orgIDs))
	for _, id := range orgIDs {
		if id != "" {
			orgs = append(orgs, id)
		}
	}
	return Event{
		ID:         uuid.New().String(),
		Type:       typ,
		OrgIDs:     orgs,
		ResourceID: resourceID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events. Publish never blocks the caller on delivery and never fails it.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Event) {}

// OrNop returns p, or Nop when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}
