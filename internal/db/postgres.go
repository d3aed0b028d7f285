package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"medilink/internal/platform/logger"
)

// ErrEmptyDSN is returned when no DATABASE_URL was configured.
var ErrEmptyDSN = errors.New("db: DATABASE_URL is not set")

// Open opens a Postgres connection using the given DSN and pings it once. Caller must call Close when done.
func Open(dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrEmptyDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Connect is Open with exponential backoff, for processes that start before Postgres is ready.
// It gives up after maxElapsed or when ctx is done.
func Connect(ctx context.Context, dsn string, maxElapsed time.Duration, log *zap.Logger) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrEmptyDSN
	}
	log = logger.OrNop(log)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = maxElapsed

	var conn *sql.DB
	err := backoff.RetryNotify(func() error {
		db, err := Open(dsn)
		if err != nil {
			return err
		}
		conn = db
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		log.Warn("database not ready, retrying", zap.Error(err), zap.Duration("next", next))
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// NullString maps "" to SQL NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// NullTime maps a nil pointer to SQL NULL.
func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// TimePtr converts a scanned NullTime back to a pointer.
func TimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
