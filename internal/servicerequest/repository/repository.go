package repository

import (
	"context"

	"medilink/internal/servicerequest/domain"
)

// Repository defines persistence for service requests and quotes.
type Repository interface {
	Create(ctx context.Context, r *domain.ServiceRequest) error
	GetByID(ctx context.Context, id string) (*domain.ServiceRequest, error)
	// Update writes r only if its stored status is still from. ok is false when another writer moved it first.
	Update(ctx context.Context, r *domain.ServiceRequest, from domain.Status) (ok bool, err error)
	ListByHospital(ctx context.Context, hospitalOrgID string, status domain.Status, limit, offset int) ([]*domain.ServiceRequest, error)
	// ListOpen returns open and quoted requests, highest priority and oldest first.
	ListOpen(ctx context.Context, limit, offset int) ([]*domain.ServiceRequest, error)
	ListByProvider(ctx context.Context, providerOrgID string, limit, offset int) ([]*domain.ServiceRequest, error)
	// HasActiveForEquipment reports whether the equipment has a request that is neither finished nor cancelled.
	HasActiveForEquipment(ctx context.Context, equipmentID, excludeRequestID string) (bool, error)

	CreateQuote(ctx context.Context, q *domain.Quote) error
	GetQuote(ctx context.Context, id string) (*domain.Quote, error)
	ListQuotes(ctx context.Context, requestID string) ([]*domain.Quote, error)
	// UpdateQuoteStatus moves the quote from one status to another. ok is false when its stored status
	// is no longer from.
	UpdateQuoteStatus(ctx context.Context, id string, from, to domain.QuoteStatus) (ok bool, err error)
	// RejectOtherQuotes rejects every submitted quote of the request except keepID.
	RejectOtherQuotes(ctx context.Context, requestID, keepID string) error
}
