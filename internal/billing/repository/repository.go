package repository

import (
	"context"
	"time"

	"medilink/internal/billing/domain"
)

// Repository defines persistence for subscriptions and payments.
type Repository interface {
	GetSubscription(ctx context.Context, orgID string) (*domain.Subscription, error)
	// SaveSubscription inserts or replaces the org's subscription.
	SaveSubscription(ctx context.Context, s *domain.Subscription) error
	// ListDue returns active subscriptions whose period ended at or before now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Subscription, error)

	CreatePayment(ctx context.Context, p *domain.Payment) error
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	GetPaymentByReference(ctx context.Context, orgID string, kind domain.PaymentKind, reference string) (*domain.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus, at time.Time) error
	// ListPayments returns an org's payments newest first.
	ListPayments(ctx context.Context, orgID string, limit, offset int) ([]*domain.Payment, error)
}
