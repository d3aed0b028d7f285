package repository

import (
	"context"
	"database/sql"
	"errors"

	"medilink/internal/db"
	"medilink/internal/dispute/domain"
)

const disputeColumns = `id, request_id, hospital_org_id, provider_org_id, reason, status, resolution, created_at,
	escalated_at, resolved_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a dispute repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) Create(ctx context.Context, d *domain.Dispute) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO disputes (`+disputeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.RequestID, d.HospitalOrgID, d.ProviderOrgID, d.Reason, string(d.Status), d.Resolution, d.CreatedAt,
		d.EscalatedAt, d.ResolvedAt)
	return err
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Dispute, error) {
	return r.one(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
}

func (r *PostgresRepository) GetActiveByRequest(ctx context.Context, requestID string) (*domain.Dispute, error) {
	return r.one(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE request_id = $1 AND status IN ('open', 'under_review')`, requestID)
}

func (r *PostgresRepository) one(ctx context.Context, q string, args ...any) (*domain.Dispute, error) {
	d, err := scanDispute(db.Conn(ctx, r.db).QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (r *PostgresRepository) List(ctx context.Context, orgID string, status domain.Status, limit, offset int) ([]*domain.Dispute, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes
		  WHERE ($1 = '' OR hospital_org_id = $1 OR provider_org_id = $1) AND ($2 = '' OR status = $2)
		  ORDER BY created_at DESC, id LIMIT $3 OFFSET $4`, orgID, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Update(ctx context.Context, d *domain.Dispute, from domain.Status) (bool, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE disputes SET status = $2, resolution = $3, escalated_at = $4, resolved_at = $5
		  WHERE id = $1 AND status = $6`,
		d.ID, string(d.Status), d.Resolution, d.EscalatedAt, d.ResolvedAt, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func scanDispute(row scanner) (*domain.Dispute, error) {
	var d domain.Dispute
	var status string
	var escalated, resolved sql.NullTime
	if err := row.Scan(&d.ID, &d.RequestID, &d.HospitalOrgID, &d.ProviderOrgID, &d.Reason, &status, &d.Resolution,
		&d.CreatedAt, &escalated, &resolved); err != nil {
		return nil, err
	}
	d.Status = domain.Status(status)
	if escalated.Valid {
		d.EscalatedAt = &escalated.Time
	}
	if resolved.Valid {
		d.ResolvedAt = &resolved.Time
	}
	return &d, nil
}
