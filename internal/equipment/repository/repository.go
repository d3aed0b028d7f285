package repository

import (
	"context"
	"time"

	"medilink/internal/equipment/domain"
)

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Status   domain.Status
	Category string
}

// Repository defines persistence for equipment.
type Repository interface {
	Create(ctx context.Context, e *domain.Equipment) error
	GetByID(ctx context.Context, id string) (*domain.Equipment, error)
	List(ctx context.Context, orgID string, f Filter) ([]*domain.Equipment, error)
	Update(ctx context.Context, e *domain.Equipment) error
	// SetStatus changes the status and, when lastServicedAt is non-nil, the last service time.
	SetStatus(ctx context.Context, id string, status domain.Status, lastServicedAt *time.Time, at time.Time) error
}
