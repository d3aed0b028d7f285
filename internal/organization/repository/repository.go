package repository

import (
	"context"

	"medilink/internal/organization/domain"
)

// Repository defines persistence for organizations.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Org, error)
	ListByIDs(ctx context.Context, ids []string) ([]*domain.Org, error)
	List(ctx context.Context, status domain.OrgStatus, limit, offset int) ([]*domain.Org, error)
	Create(ctx context.Context, o *domain.Org) error
	UpdateStatus(ctx context.Context, id string, status domain.OrgStatus) (*domain.Org, error)
}
