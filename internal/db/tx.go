package db

import (
	"context"
	"database/sql"
)

// Executor is what repositories run statements against: the pool or the transaction in ctx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxRunner runs fn atomically. Repositories called with the ctx passed to fn join the transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// Transactor is the Postgres TxRunner.
type Transactor struct {
	db *sql.DB
}

// NewTransactor returns a TxRunner over db.
func NewTransactor(db *sql.DB) *Transactor {
	return &Transactor{db: db}
}

// InTx begins a transaction, commits when fn returns nil and rolls back otherwise.
// A nested call joins the outer transaction.
func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Conn returns the transaction carried by ctx, or db when there is none.
func Conn(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

// NoTx is a TxRunner that runs fn directly. Used with in-memory repositories in tests.
type NoTx struct{}

// InTx calls fn with ctx.
func (NoTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// IsUniqueViolation reports whether err is a Postgres unique constraint violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}
