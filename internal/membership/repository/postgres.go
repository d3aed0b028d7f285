package repository

import (
	"context"
	"database/sql"
	"errors"

	"medilink/internal/db"
	"medilink/internal/membership/domain"
)

const membershipColumns = `id, user_id, org_id, role, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a membership repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// GetMembershipByUserAndOrg returns the membership, or nil if the user is not in the org.
func (r *PostgresRepository) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 AND org_id = $2`, userID, orgID)
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// ListMembershipsByOrg returns the org's members, oldest first.
func (r *PostgresRepository) ListMembershipsByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error) {
	return r.list(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE org_id = $1 ORDER BY created_at, id`, orgID)
}

// ListMembershipsByUser returns the user's memberships, oldest first.
func (r *PostgresRepository) ListMembershipsByUser(ctx context.Context, userID string) ([]*domain.Membership, error) {
	return r.list(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 ORDER BY created_at, id`, userID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, arg string) ([]*domain.Membership, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateMembership persists m.
func (r *PostgresRepository) CreateMembership(ctx context.Context, m *domain.Membership) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO memberships (`+membershipColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.UserID, m.OrgID, string(m.Role), m.CreatedAt)
	return err
}

// DeleteByUserAndOrg removes the membership if present.
func (r *PostgresRepository) DeleteByUserAndOrg(ctx context.Context, userID, orgID string) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM memberships WHERE user_id = $1 AND org_id = $2`, userID, orgID)
	return err
}

// UpdateRole changes the member's role and returns the updated row, or nil if there is no such member.
func (r *PostgresRepository) UpdateRole(ctx context.Context, userID, orgID string, role domain.Role) (*domain.Membership, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`UPDATE memberships SET role = $3 WHERE user_id = $1 AND org_id = $2 RETURNING `+membershipColumns,
		userID, orgID, string(role))
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// CountOwnersByOrg returns the number of owners; used to protect the last owner.
func (r *PostgresRepository) CountOwnersByOrg(ctx context.Context, orgID string) (int64, error) {
	var n int64
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT count(*) FROM memberships WHERE org_id = $1 AND role = 'owner'`, orgID).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMembership(s scanner) (*domain.Membership, error) {
	var m domain.Membership
	var role string
	if err := s.Scan(&m.ID, &m.UserID, &m.OrgID, &role, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = domain.Role(role)
	return &m, nil
}
