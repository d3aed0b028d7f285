package repository

import (
	"context"
	"database/sql"
	"errors"

	"medilink/internal/db"
	"medilink/internal/user/domain"
)

const userColumns = `id, email, name, platform_role, status, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given (normalized) email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// Create persists the user. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.Name, string(u.PlatformRole), string(u.Status), u.CreatedAt, u.UpdatedAt)
	return err
}

// Update writes name, platform role and status. Email is immutable.
func (r *PostgresRepository) Update(ctx context.Context, u *domain.User) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE users SET name = $2, platform_role = $3, status = $4, updated_at = $5 WHERE id = $1`,
		u.ID, u.Name, string(u.PlatformRole), string(u.Status), u.UpdatedAt)
	return err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var role, status string
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.PlatformRole = domain.PlatformRole(role)
	u.Status = domain.UserStatus(status)
	return &u, nil
}
