package repository

import (
	"context"
	"database/sql"
	"errors"

	"medilink/internal/db"
	"medilink/internal/servicerequest/domain"
)

const (
	requestColumns = `id, hospital_org_id, equipment_id, title, description, priority, status, provider_org_id,
	accepted_quote_id, created_by, created_at, updated_at, completed_at`
	quoteColumns = `id, request_id, provider_org_id, amount_cents, currency, notes, status, valid_until, created_at`

	priorityOrder = `CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a service request repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) Create(ctx context.Context, sr *domain.ServiceRequest) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO service_requests (`+requestColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sr.ID, sr.HospitalOrgID, sr.EquipmentID, sr.Title, sr.Description, string(sr.Priority), string(sr.Status),
		nullString(sr.ProviderOrgID), nullString(sr.AcceptedQuoteID), sr.CreatedBy, sr.CreatedAt, sr.UpdatedAt, sr.CompletedAt)
	return err
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	sr, err := scanRequest(db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM service_requests WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sr, err
}

func (r *PostgresRepository) Update(ctx context.Context, sr *domain.ServiceRequest, from domain.Status) (bool, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE service_requests
		    SET status = $2, provider_org_id = $3, accepted_quote_id = $4, updated_at = $5, completed_at = $6
		  WHERE id = $1 AND status = $7`,
		sr.ID, string(sr.Status), nullString(sr.ProviderOrgID), nullString(sr.AcceptedQuoteID), sr.UpdatedAt,
		sr.CompletedAt, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepository) ListByHospital(ctx context.Context, hospitalOrgID string, status domain.Status, limit, offset int) ([]*domain.ServiceRequest, error) {
	return r.list(ctx,
		`SELECT `+requestColumns+` FROM service_requests
		  WHERE hospital_org_id = $1 AND ($2 = '' OR status = $2)
		  ORDER BY created_at DESC, id LIMIT $3 OFFSET $4`, hospitalOrgID, string(status), limit, offset)
}

func (r *PostgresRepository) ListOpen(ctx context.Context, limit, offset int) ([]*domain.ServiceRequest, error) {
	return r.list(ctx,
		`SELECT `+requestColumns+` FROM service_requests
		  WHERE status IN ('open', 'quoted')
		  ORDER BY `+priorityOrder+`, created_at, id LIMIT $1 OFFSET $2`, limit, offset)
}

func (r *PostgresRepository) ListByProvider(ctx context.Context, providerOrgID string, limit, offset int) ([]*domain.ServiceRequest, error) {
	return r.list(ctx,
		`SELECT `+requestColumns+` FROM service_requests
		  WHERE provider_org_id = $1
		  ORDER BY updated_at DESC, id LIMIT $2 OFFSET $3`, providerOrgID, limit, offset)
}

func (r *PostgresRepository) HasActiveForEquipment(ctx context.Context, equipmentID, excludeRequestID string) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM service_requests
		    WHERE equipment_id = $1 AND id <> $2
		      AND status IN ('open', 'quoted', 'accepted', 'in_progress'))`, equipmentID, excludeRequestID,
	).Scan(&exists)
	return exists, err
}

func (r *PostgresRepository) list(ctx context.Context, q string, args ...any) ([]*domain.ServiceRequest, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ServiceRequest
	for rows.Next() {
		sr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateQuote(ctx context.Context, q *domain.Quote) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO quotes (`+quoteColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		q.ID, q.RequestID, q.ProviderOrgID, q.AmountCents, q.Currency, q.Notes, string(q.Status), q.ValidUntil, q.CreatedAt)
	return err
}

func (r *PostgresRepository) GetQuote(ctx context.Context, id string) (*domain.Quote, error) {
	q, err := scanQuote(db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+quoteColumns+` FROM quotes WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return q, err
}

func (r *PostgresRepository) ListQuotes(ctx context.Context, requestID string) ([]*domain.Quote, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+quoteColumns+` FROM quotes WHERE request_id = $1 ORDER BY created_at, id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateQuoteStatus(ctx context.Context, id string, from, to domain.QuoteStatus) (bool, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE quotes SET status = $3 WHERE id = $1 AND status = $2`, id, string(from), string(to))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepository) RejectOtherQuotes(ctx context.Context, requestID, keepID string) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE quotes SET status = 'rejected' WHERE request_id = $1 AND id <> $2 AND status = 'submitted'`,
		requestID, keepID)
	return err
}

func scanRequest(row scanner) (*domain.ServiceRequest, error) {
	var sr domain.ServiceRequest
	var priority, status string
	var provider, quote sql.NullString
	var completed sql.NullTime
	if err := row.Scan(&sr.ID, &sr.HospitalOrgID, &sr.EquipmentID, &sr.Title, &sr.Description, &priority, &status,
		&provider, &quote, &sr.CreatedBy, &sr.CreatedAt, &sr.UpdatedAt, &completed); err != nil {
		return nil, err
	}
	sr.Priority = domain.Priority(priority)
	sr.Status = domain.Status(status)
	sr.ProviderOrgID = provider.String
	sr.AcceptedQuoteID = quote.String
	if completed.Valid {
		sr.CompletedAt = &completed.Time
	}
	return &sr, nil
}

func scanQuote(row scanner) (*domain.Quote, error) {
	var q domain.Quote
	var status string
	var valid sql.NullTime
	if err := row.Scan(&q.ID, &q.RequestID, &q.ProviderOrgID, &q.AmountCents, &q.Currency, &q.Notes, &status, &valid, &q.CreatedAt); err != nil {
		return nil, err
	}
	q.Status = domain.QuoteStatus(status)
	if valid.Valid {
		q.ValidUntil = &valid.Time
	}
	return &q, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
