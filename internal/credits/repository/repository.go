package repository

import (
	"context"
	"time"

	"medilink/internal/credits/domain"
)

// Repository defines persistence for credit accounts and their ledger.
type Repository interface {
	// OpenAccount creates a zero-balance account. Opening an existing account is a no-op.
	OpenAccount(ctx context.Context, orgID string, at time.Time) error
	GetAccount(ctx context.Context, orgID string) (*domain.Account, error)
	// Debit subtracts amount only if the balance covers it. ok is false when it does not or the account is missing.
	Debit(ctx context.Context, orgID string, amount int64, at time.Time) (balance int64, ok bool, err error)
	// Credit adds amount. A grant also raises LifetimeGranted; a refund lowers LifetimeConsumed.
	Credit(ctx context.Context, orgID string, amount int64, reason domain.Reason, at time.Time) (balance int64, ok bool, err error)
	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	GetTransactionByReference(ctx context.Context, orgID string, reason domain.Reason, reference string) (*domain.Transaction, error)
	// ListTransactions returns up to limit entries newest first, with seq below beforeSeq when beforeSeq > 0.
	ListTransactions(ctx context.Context, orgID string, beforeSeq int64, limit int) ([]*domain.Transaction, error)
}
