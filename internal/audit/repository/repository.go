package repository

import (
	"context"

	"medilink/internal/audit/domain"
	"medilink/internal/audit/query"
)

// Repository defines persistence for audit logs. There is no update or delete: the log is append-only.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	GetByID(ctx context.Context, id string) (*domain.AuditLog, error)
	// List returns up to limit entries matching where, in order.
	List(ctx context.Context, where query.Condition, order query.Order, limit int) ([]*domain.AuditLog, error)
}
