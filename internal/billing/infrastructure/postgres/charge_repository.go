package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	billing "residence-cloud/internal/billing/domain"
)

const defaultChargesTable = "charges"

// ChargeRepository persists charges in Postgres. Uniqueness of
// (period_year, period_month, account) is enforced by a unique index.
type ChargeRepository struct {
	db    *sql.DB
	table string
}

// ChargeOption configures the charge repository.
type ChargeOption func(*ChargeRepository)

// WithChargesTable overrides the table name.
func WithChargesTable(table string) ChargeOption {
	return func(repo *ChargeRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewChargeRepository constructs a repository.
func NewChargeRepository(db *sql.DB, opts ...ChargeOption) *ChargeRepository {
	repo := &ChargeRepository{db: db, table: defaultChargesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Insert writes a charge; a conflicting (period, account) row yields ErrDuplicate.
func (r *ChargeRepository) Insert(ctx context.Context, charge *billing.Charge) error {
	if r == nil || r.db == nil {
		return errors.New("charge repo: nil db")
	}
	if charge == nil {
		return billing.ErrNilCharge
	}
	if charge.ID == "" {
		charge.ID = uuid.NewString()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, period_year, period_month, account, amount, due_date, state, paid_at, payment_proof, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT DO NOTHING`, r.table)
	res, err := r.db.ExecContext(ctx, query,
		charge.ID,
		charge.Period.Year,
		int(charge.Period.Month),
		charge.Account,
		charge.Amount,
		charge.DueDate.UTC(),
		string(charge.State),
		nullTime(charge.PaidAt),
		charge.PaymentProof,
		charge.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return billing.ErrDuplicate
	}
	return nil
}

// Get loads a charge by id.
func (r *ChargeRepository) Get(ctx context.Context, id string) (*billing.Charge, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("charge repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, period_year, period_month, account, amount, due_date, state, paid_at, payment_proof, created_at
FROM %s
WHERE id = $1`, r.table)
	charge, err := scanCharge(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return charge, nil
}

// Update writes the charge when the stored state still equals expected.
func (r *ChargeRepository) Update(ctx context.Context, charge *billing.Charge, expected billing.ChargeState) error {
	if r == nil || r.db == nil {
		return errors.New("charge repo: nil db")
	}
	if charge == nil {
		return billing.ErrNilCharge
	}
	query := fmt.Sprintf(`
UPDATE %s
SET state = $2, paid_at = $3, payment_proof = $4
WHERE id = $1 AND state = $5`, r.table)
	res, err := r.db.ExecContext(ctx, query,
		charge.ID,
		string(charge.State),
		nullTime(charge.PaidAt),
		charge.PaymentProof,
		string(expected),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	existsQuery := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, r.table)
	if err := r.db.QueryRowContext(ctx, existsQuery, charge.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return billing.ErrNotFound
	}
	return billing.ErrInvalidTransition
}

// ListByPeriod returns the period's charges ordered by creation.
func (r *ChargeRepository) ListByPeriod(ctx context.Context, period billing.Period) ([]billing.Charge, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("charge repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, period_year, period_month, account, amount, due_date, state, paid_at, payment_proof, created_at
FROM %s
WHERE period_year = $1 AND period_month = $2
ORDER BY created_at ASC, account ASC`, r.table)
	return r.query(ctx, query, period.Year, int(period.Month))
}

// ListByAccount returns the account's charges ordered by period.
func (r *ChargeRepository) ListByAccount(ctx context.Context, account string) ([]billing.Charge, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("charge repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, period_year, period_month, account, amount, due_date, state, paid_at, payment_proof, created_at
FROM %s
WHERE account = $1
ORDER BY period_year ASC, period_month ASC`, r.table)
	return r.query(ctx, query, account)
}

func (r *ChargeRepository) query(ctx context.Context, query string, args ...any) ([]billing.Charge, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]billing.Charge, 0)
	for rows.Next() {
		charge, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *charge)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharge(row rowScanner) (*billing.Charge, error) {
	var (
		charge billing.Charge
		month  int
		amount decimal.Decimal
		state  string
		paidAt sql.NullTime
	)
	if err := row.Scan(
		&charge.ID,
		&charge.Period.Year,
		&month,
		&charge.Account,
		&amount,
		&charge.DueDate,
		&state,
		&paidAt,
		&charge.PaymentProof,
		&charge.CreatedAt,
	); err != nil {
		return nil, err
	}
	charge.Period.Month = time.Month(month)
	charge.Amount = amount
	charge.State = billing.ChargeState(state)
	if paidAt.Valid {
		at := paidAt.Time.UTC()
		charge.PaidAt = &at
	}
	charge.DueDate = charge.DueDate.UTC()
	charge.CreatedAt = charge.CreatedAt.UTC()
	return &charge, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
