package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"medilink/internal/audit/domain"
	"medilink/internal/audit/query"
	"medilink/internal/db"
)

const auditColumns = `seq, id, org_id, user_id, action, resource, resource_id, ip, metadata, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create appends the entry and sets its Seq. The entry must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	return db.Conn(ctx, r.db).QueryRowContext(ctx,
		`INSERT INTO audit_logs (id, org_id, user_id, action, resource, resource_id, ip, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING seq`,
		a.ID, a.OrgID, db.NullString(a.UserID), a.Action, a.Resource, a.ResourceID, a.IP,
		db.NullString(a.Metadata), a.CreatedAt,
	).Scan(&a.Seq)
}

// GetByID returns the audit log for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	a, err := scanAuditLog(db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// List runs a filtered keyset query. where comes from the query package and is already validated.
func (r *PostgresRepository) List(ctx context.Context, where query.Condition, order query.Order, limit int) ([]*domain.AuditLog, error) {
	stmt := `SELECT ` + auditColumns + ` FROM audit_logs`
	args := append([]any{}, where.Params...)
	if !where.Empty() {
		stmt += ` WHERE ` + where.Clause
	}
	stmt += ` ORDER BY ` + order.SQL() + ` LIMIT ?`
	args = append(args, limit)

	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, query.Rebind(stmt), args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAuditLog(s scanner) (*domain.AuditLog, error) {
	var a domain.AuditLog
	var userID, meta sql.NullString
	if err := s.Scan(&a.Seq, &a.ID, &a.OrgID, &userID, &a.Action, &a.Resource, &a.ResourceID, &a.IP, &meta, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.UserID = userID.String
	a.Metadata = meta.String
	return &a, nil
}
