package repository

import (
	"context"

	"medilink/internal/dispute/domain"
)

// Repository defines persistence for disputes.
type Repository interface {
	Create(ctx context.Context, d *domain.Dispute) error
	GetByID(ctx context.Context, id string) (*domain.Dispute, error)
	GetActiveByRequest(ctx context.Context, requestID string) (*domain.Dispute, error)
	// List returns disputes newest first. A non-empty orgID keeps disputes where it is either party.
	List(ctx context.Context, orgID string, status domain.Status, limit, offset int) ([]*domain.Dispute, error)
	// Update writes d only if its stored status is still from.
	Update(ctx context.Context, d *domain.Dispute, from domain.Status) (bool, error)
}
