package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"medilink/internal/billing/domain"
	"medilink/internal/db"
)

const (
	subscriptionColumns = `org_id, plan, status, current_period_start, current_period_end, created_at`
	paymentColumns      = `id, org_id, kind, reference, amount_cents, currency, status, created_at, updated_at`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a billing repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) GetSubscription(ctx context.Context, orgID string) (*domain.Subscription, error) {
	s, err := scanSubscription(db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE org_id = $1`, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *PostgresRepository) SaveSubscription(ctx context.Context, s *domain.Subscription) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (org_id) DO UPDATE
		    SET plan = EXCLUDED.plan, status = EXCLUDED.status,
		        current_period_start = EXCLUDED.current_period_start,
		        current_period_end = EXCLUDED.current_period_end`,
		s.OrgID, string(s.Plan), string(s.Status), s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CreatedAt)
	return err
}

func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Subscription, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		  WHERE status = 'active' AND current_period_end <= $1
		  ORDER BY current_period_end, org_id
		  LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.OrgID, string(p.Kind), p.Reference, p.AmountCents, p.Currency, string(p.Status), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *PostgresRepository) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := scanPayment(db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *PostgresRepository) GetPaymentByReference(ctx context.Context, orgID string, kind domain.PaymentKind, reference string) (*domain.Payment, error) {
	p, err := scanPayment(db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE org_id = $1 AND kind = $2 AND reference = $3`,
		orgID, string(kind), reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *PostgresRepository) UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus, at time.Time) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	return err
}

func (r *PostgresRepository) ListPayments(ctx context.Context, orgID string, limit, offset int) ([]*domain.Payment, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE org_id = $1
		  ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanSubscription(row scanner) (*domain.Subscription, error) {
	var s domain.Subscription
	var plan, status string
	if err := row.Scan(&s.OrgID, &plan, &status, &s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Plan = domain.PlanName(plan)
	s.Status = domain.SubscriptionStatus(status)
	return &s, nil
}

func scanPayment(row scanner) (*domain.Payment, error) {
	var p domain.Payment
	var kind, status string
	if err := row.Scan(&p.ID, &p.OrgID, &kind, &p.Reference, &p.AmountCents, &p.Currency, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Kind = domain.PaymentKind(kind)
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}
