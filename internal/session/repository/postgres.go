package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"medilink/internal/db"
	"medilink/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

const sessionColumns = `id, user_id, org_id, expires_at, revoked_at, refresh_jti, refresh_token_hash,
	last_seen_at, ip_address, created_at`

type scanner interface {
	Scan(dest ...any) error
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	s, err := scanSession(db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// ListByOrg returns the org's sessions, newest first, optionally only those of userID.
func (r *PostgresRepository) ListByOrg(ctx context.Context, orgID, userID string, limit, offset int) ([]*domain.Session, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		  WHERE org_id = $1 AND ($2 = '' OR user_id = $2)
		  ORDER BY created_at DESC, id
		  LIMIT $3 OFFSET $4`, orgID, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(row scanner) (*domain.Session, error) {
	var s domain.Session
	var orgID, jti, hash, ip sql.NullString
	var revokedAt, lastSeenAt sql.NullTime
	if err := row.Scan(&s.ID, &s.UserID, &orgID, &s.ExpiresAt, &revokedAt, &jti, &hash, &lastSeenAt, &ip, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.OrgID = orgID.String
	s.RefreshJti = jti.String
	s.RefreshTokenHash = hash.String
	s.IPAddress = ip.String
	s.RevokedAt = db.TimePtr(revokedAt)
	s.LastSeenAt = db.TimePtr(lastSeenAt)
	return &s, nil
}

// Create persists the session.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, org_id, expires_at, refresh_jti, refresh_token_hash, ip_address, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.UserID, db.NullString(s.OrgID), s.ExpiresAt, db.NullString(s.RefreshJti),
		db.NullString(s.RefreshTokenHash), db.NullString(s.IPAddress), s.CreatedAt)
	return err
}

// Revoke marks the session revoked. Revoking twice keeps the first timestamp.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	return err
}

// RevokeAllSessionsByUser revokes every live session of the user.
func (r *PostgresRepository) RevokeAllSessionsByUser(ctx context.Context, userID string) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE sessions SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	return err
}

// RevokeAllSessionsByUserAndOrg revokes the user's live sessions bound to orgID.
func (r *PostgresRepository) RevokeAllSessionsByUserAndOrg(ctx context.Context, userID, orgID string) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE sessions SET revoked_at = now() WHERE user_id = $1 AND org_id = $2 AND revoked_at IS NULL`, userID, orgID)
	return err
}

// UpdateLastSeen records activity on the session.
func (r *PostgresRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx, `UPDATE sessions SET last_seen_at = $2 WHERE id = $1`, id, at)
	return err
}

// UpdateRefreshToken stores the new refresh jti and hash after rotation, provided the session still
// carries prevJti. ok is false when another rotation got there first.
func (r *PostgresRepository) UpdateRefreshToken(ctx context.Context, sessionID, prevJti, orgID, jti, refreshTokenHash string) (bool, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE sessions SET org_id = $3, refresh_jti = $4, refresh_token_hash = $5
		 WHERE id = $1 AND refresh_jti IS NOT DISTINCT FROM $2`,
		sessionID, db.NullString(prevJti), db.NullString(orgID), jti, refreshTokenHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
