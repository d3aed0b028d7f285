// Package domain holds the plan catalog, subscriptions and payments.
package domain

import (
	"errors"
	"time"
)

// PlanName identifies a catalog plan.
type PlanName string

const (
	PlanFree       PlanName = "free"
	PlanStandard   PlanName = "standard"
	PlanEnterprise PlanName = "enterprise"
)

// Currency of every plan price.
const Currency = "USD"

// Plan is a catalog entry. Credits are granted at the start of every period.
type Plan struct {
	Name           PlanName
	PriceCents     int64
	MonthlyCredits int64
}

// Paid reports whether the plan produces a payment each period.
func (p Plan) Paid() bool { return p.PriceCents > 0 }

var catalog = []Plan{
	{Name: PlanFree, PriceCents: 0, MonthlyCredits: 20},
	{Name: PlanStandard, PriceCents: 49_000, MonthlyCredits: 500},
	{Name: PlanEnterprise, PriceCents: 199_000, MonthlyCredits: 3000},
}

// ErrUnknownPlan is returned for a plan name outside the catalog.
var ErrUnknownPlan = errors.New("unknown plan")

// LookupPlan returns the catalog plan named n.
func LookupPlan(n PlanName) (Plan, error) {
	for _, p := range catalog {
		if p.Name == n {
			return p, nil
		}
	}
	return Plan{}, ErrUnknownPlan
}

// Plans returns the catalog in price order.
func Plans() []Plan {
	return append([]Plan(nil), catalog...)
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription is an org's current plan and billing period.
type Subscription struct {
	OrgID              string
	Plan               PlanName
	Status             SubscriptionStatus
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CreatedAt          time.Time
}

// NextPeriod returns the period after the current one. Periods are one calendar month long.
func (s *Subscription) NextPeriod() (start, end time.Time) {
	start = s.CurrentPeriodEnd
	return start, start.AddDate(0, 1, 0)
}

type PaymentKind string

const (
	PaymentSubscription PaymentKind = "subscription"
	PaymentService      PaymentKind = "service"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment records money owed by an org, either for its plan or for a completed service request.
// Reference is unique per org and kind.
type Payment struct {
	ID          string
	OrgID       string
	Kind        PaymentKind
	Reference   string
	AmountCents int64
	Currency    string
	Status      PaymentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentSucceeded, PaymentFailed},
	PaymentFailed:    {PaymentSucceeded},
	PaymentSucceeded: {PaymentRefunded},
}

// CanMoveTo reports whether a payment may change from its status to next.
func (p *Payment) CanMoveTo(next PaymentStatus) bool {
	for _, s := range paymentTransitions[p.Status] {
		if s == next {
			return true
		}
	}
	return false
}
