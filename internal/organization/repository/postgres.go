package repository

import (
	"context"
	"database/sql"
	"errors"

	"medilink/internal/db"
	"medilink/internal/organization/domain"
)

const orgColumns = `id, name, type, status, contact_email, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an organization repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// GetByID returns the organization for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Org, error) {
	o, err := scanOrg(db.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// ListByIDs returns the organizations among ids, ordered by name. Unknown ids are skipped.
func (r *PostgresRepository) ListByIDs(ctx context.Context, ids []string) ([]*domain.Org, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE id = ANY($1) ORDER BY name, id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Org
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// List returns organizations ordered by creation time, newest first. An empty status lists all.
func (r *PostgresRepository) List(ctx context.Context, status domain.OrgStatus, limit, offset int) ([]*domain.Org, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+orgColumns+` FROM organizations
		  WHERE ($1 = '' OR status = $1)
		  ORDER BY created_at DESC, id
		  LIMIT $2 OFFSET $3`, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Org
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Create persists the organization.
func (r *PostgresRepository) Create(ctx context.Context, o *domain.Org) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO organizations (`+orgColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.Name, string(o.Type), string(o.Status), o.ContactEmail, o.CreatedAt)
	return err
}

// UpdateStatus sets the organization status and returns the updated row, or nil if not found.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status domain.OrgStatus) (*domain.Org, error) {
	o, err := scanOrg(db.Conn(ctx, r.db).QueryRowContext(ctx,
		`UPDATE organizations SET status = $2 WHERE id = $1 RETURNING `+orgColumns, id, string(status)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrg(s scanner) (*domain.Org, error) {
	var o domain.Org
	var typ, status string
	if err := s.Scan(&o.ID, &o.Name, &typ, &status, &o.ContactEmail, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.Type = domain.OrgType(typ)
	o.Status = domain.OrgStatus(status)
	return &o, nil
}
