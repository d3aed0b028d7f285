package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"medilink/internal/db"
	"medilink/internal/equipment/domain"
)

const equipmentColumns = `id, org_id, name, category, manufacturer, model, serial_number, location, status,
	purchased_at, last_serviced_at, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an equipment repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) Create(ctx context.Context, e *domain.Equipment) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO equipment (`+equipmentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.OrgID, e.Name, e.Category, e.Manufacturer, e.Model, e.SerialNumber, e.Location, string(e.Status),
		e.PurchasedAt, e.LastServicedAt, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Equipment, error) {
	e, err := scanEquipment(db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+equipmentColumns+` FROM equipment WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *PostgresRepository) List(ctx context.Context, orgID string, f Filter) ([]*domain.Equipment, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+equipmentColumns+` FROM equipment
		  WHERE org_id = $1 AND ($2 = '' OR status = $2) AND ($3 = '' OR category = $3)
		  ORDER BY name, id`, orgID, string(f.Status), f.Category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Equipment
	for rows.Next() {
		e, err := scanEquipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Update(ctx context.Context, e *domain.Equipment) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE equipment
		    SET name = $2, category = $3, manufacturer = $4, model = $5, serial_number = $6, location = $7,
		        status = $8, purchased_at = $9, last_serviced_at = $10, updated_at = $11
		  WHERE id = $1`,
		e.ID, e.Name, e.Category, e.Manufacturer, e.Model, e.SerialNumber, e.Location, string(e.Status),
		e.PurchasedAt, e.LastServicedAt, e.UpdatedAt)
	return err
}

func (r *PostgresRepository) SetStatus(ctx context.Context, id string, status domain.Status, lastServicedAt *time.Time, at time.Time) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE equipment
		    SET status = $2, last_serviced_at = COALESCE($3, last_serviced_at), updated_at = $4
		  WHERE id = $1`, id, string(status), lastServicedAt, at)
	return err
}

func scanEquipment(row scanner) (*domain.Equipment, error) {
	var e domain.Equipment
	var status string
	var purchased, serviced sql.NullTime
	if err := row.Scan(&e.ID, &e.OrgID, &e.Name, &e.Category, &e.Manufacturer, &e.Model, &e.SerialNumber,
		&e.Location, &status, &purchased, &serviced, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Status = domain.Status(status)
	if purchased.Valid {
		e.PurchasedAt = &purchased.Time
	}
	if serviced.Valid {
		e.LastServicedAt = &serviced.Time
	}
	return &e, nil
}
