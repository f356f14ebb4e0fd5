package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	units "residence-cloud/internal/units/domain"
)

const (
	defaultUnitsTable = "units"

	uniqueViolation = "23505"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UnitRepository is a Postgres implementation for units.
type UnitRepository struct {
	db    DBTX
	table string
}

// UnitOption configures the repository.
type UnitOption func(*UnitRepository)

// WithUnitTable overrides the default table name.
func WithUnitTable(table string) UnitOption {
	return func(repo *UnitRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewUnitRepository constructs a repository.
func NewUnitRepository(db DBTX, opts ...UnitOption) *UnitRepository {
	repo := &UnitRepository{db: db, table: defaultUnitsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Get loads a unit by id.
func (r *UnitRepository) Get(ctx context.Context, id string) (*units.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	if id == "" {
		return nil, errors.New("unit repo: empty id")
	}
	query := fmt.Sprintf(`
SELECT id, number, owner, active, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var unit units.Unit
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&unit.ID,
		&unit.Number,
		&unit.Owner,
		&unit.Active,
		&unit.CreatedAt,
		&unit.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	unit.CreatedAt = unit.CreatedAt.UTC()
	unit.UpdatedAt = unit.UpdatedAt.UTC()
	return &unit, nil
}

// Save upserts a unit.
func (r *UnitRepository) Save(ctx context.Context, unit *units.Unit) error {
	if r == nil || r.db == nil {
		return errors.New("unit repo: nil db")
	}
	if unit == nil {
		return errors.New("unit repo: nil unit")
	}
	if err := unit.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, number, owner, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id)
DO UPDATE SET
	number = EXCLUDED.number,
	owner = EXCLUDED.owner,
	active = EXCLUDED.active,
	updated_at = EXCLUDED.updated_at`, r.table)

	_, err := r.db.ExecContext(ctx, query,
		unit.ID,
		unit.Number,
		unit.Owner,
		unit.Active,
		unit.CreatedAt.UTC(),
		unit.UpdatedAt.UTC(),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return units.ErrDuplicateNumber
	}
	return err
}

// List returns units ordered by number.
func (r *UnitRepository) List(ctx context.Context, activeOnly bool) ([]units.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, number, owner, active, created_at, updated_at
FROM %s
WHERE ($1 = FALSE OR active = TRUE)
ORDER BY number ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]units.Unit, 0)
	for rows.Next() {
		var unit units.Unit
		if err := rows.Scan(
			&unit.ID,
			&unit.Number,
			&unit.Owner,
			&unit.Active,
			&unit.CreatedAt,
			&unit.UpdatedAt,
		); err != nil {
			return nil, err
		}
		unit.CreatedAt = unit.CreatedAt.UTC()
		unit.UpdatedAt = unit.UpdatedAt.UTC()
		result = append(result, unit)
	}
	return result, rows.Err()
}
