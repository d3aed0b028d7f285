package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"medilink/internal/credits/domain"
	"medilink/internal/db"
)

const txColumns = `seq, id, org_id, delta, reason, feature, reference, balance_after, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a credits repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

func (r *PostgresRepository) OpenAccount(ctx context.Context, orgID string, at time.Time) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO credit_accounts (org_id, balance, lifetime_granted, lifetime_consumed, updated_at)
		 VALUES ($1, 0, 0, 0, $2) ON CONFLICT (org_id) DO NOTHING`, orgID, at)
	return err
}

func (r *PostgresRepository) GetAccount(ctx context.Context, orgID string) (*domain.Account, error) {
	var a domain.Account
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT org_id, balance, lifetime_granted, lifetime_consumed, updated_at
		   FROM credit_accounts WHERE org_id = $1`, orgID,
	).Scan(&a.OrgID, &a.Balance, &a.LifetimeGranted, &a.LifetimeConsumed, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Debit is a single compare-and-decrement statement, so concurrent debits can never overdraw.
func (r *PostgresRepository) Debit(ctx context.Context, orgID string, amount int64, at time.Time) (int64, bool, error) {
	var balance int64
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`UPDATE credit_accounts
		    SET balance = balance - $2, lifetime_consumed = lifetime_consumed + $2, updated_at = $3
		  WHERE org_id = $1 AND balance >= $2
		RETURNING balance`, orgID, amount, at,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

func (r *PostgresRepository) Credit(ctx context.Context, orgID string, amount int64, reason domain.Reason, at time.Time) (int64, bool, error) {
	var granted, consumed int64
	switch reason {
	case domain.ReasonGrant:
		granted = amount
	case domain.ReasonRefund:
		consumed = -amount
	}
	var balance int64
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`UPDATE credit_accounts
		    SET balance = balance + $2,
		        lifetime_granted = lifetime_granted + $3,
		        lifetime_consumed = lifetime_consumed + $4,
		        updated_at = $5
		  WHERE org_id = $1
		RETURNING balance`, orgID, amount, granted, consumed, at,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

func (r *PostgresRepository) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	return db.Conn(ctx, r.db).QueryRowContext(ctx,
		`INSERT INTO credit_transactions (id, org_id, delta, reason, feature, reference, balance_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING seq`,
		t.ID, t.OrgID, t.Delta, string(t.Reason), string(t.Feature), t.Reference, t.BalanceAfter, t.CreatedAt,
	).Scan(&t.Seq)
}

func (r *PostgresRepository) GetTransactionByReference(ctx context.Context, orgID string, reason domain.Reason, reference string) (*domain.Transaction, error) {
	t, err := scanTransaction(db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM credit_transactions WHERE org_id = $1 AND reason = $2 AND reference = $3`,
		orgID, string(reason), reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, orgID string, beforeSeq int64, limit int) ([]*domain.Transaction, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+txColumns+` FROM credit_transactions
		  WHERE org_id = $1 AND ($2 = 0 OR seq < $2)
		  ORDER BY seq DESC
		  LIMIT $3`, orgID, beforeSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var reason, feature string
	if err := s.Scan(&t.Seq, &t.ID, &t.OrgID, &t.Delta, &reason, &feature, &t.Reference, &t.BalanceAfter, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Reason = domain.Reason(reason)
	t.Feature = domain.Feature(feature)
	return &t, nil
}
