package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	billing "residence-cloud/internal/billing/domain"
)

const defaultClosingsTable = "closings"

// ClosingRepository persists closing records. Records are insert-only.
type ClosingRepository struct {
	db    *sql.DB
	table string
}

// ClosingOption configures the closing repository.
type ClosingOption func(*ClosingRepository)

// WithClosingsTable overrides the table name.
func WithClosingsTable(table string) ClosingOption {
	return func(repo *ClosingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewClosingRepository constructs a repository.
func NewClosingRepository(db *sql.DB, opts ...ClosingOption) *ClosingRepository {
	repo := &ClosingRepository{db: db, table: defaultClosingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Insert writes a record; an existing id yields ErrAlreadyClosed.
func (r *ClosingRepository) Insert(ctx context.Context, record *billing.ClosingRecord) error {
	if r == nil || r.db == nil {
		return errors.New("closing repo: nil db")
	}
	if record == nil {
		return billing.ErrNilClosing
	}
	breakdown, err := json.Marshal(record.Expenses.Breakdown)
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(record.FundSnapshot)
	if err != nil {
		return err
	}
	var nextYear any
	if record.NextYearGeneration != nil {
		encoded, err := json.Marshal(record.NextYearGeneration)
		if err != nil {
			return err
		}
		nextYear = encoded
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, closing_type, period_year, period_month,
	income_charges, income_other, income_total,
	expense_total, expense_breakdown, fund_snapshot,
	pending_count, paid_count, balance, next_year_generation, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id) DO NOTHING`, r.table)
	res, err := r.db.ExecContext(ctx, query,
		record.ID,
		string(record.Type),
		record.Period.Year,
		int(record.Period.Month),
		record.Income.ChargesTotal,
		record.Income.Other,
		record.Income.Total,
		record.Expenses.Total,
		breakdown,
		snapshot,
		record.PendingChargeCount,
		record.PaidChargeCount,
		record.Balance,
		nextYear,
		record.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return billing.ErrAlreadyClosed
	}
	return nil
}

// Get loads a record by id.
func (r *ClosingRepository) Get(ctx context.Context, id string) (*billing.ClosingRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("closing repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1`, closingColumns, r.table)
	record, err := scanClosing(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListByYear returns the year's records, monthly ones by month and the annual last.
func (r *ClosingRepository) ListByYear(ctx context.Context, year int, closingType billing.ClosingType) ([]billing.ClosingRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("closing repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE period_year = $1 AND ($2::text = '' OR closing_type = $2::text)
ORDER BY CASE WHEN closing_type = 'ANNUAL' THEN 13 ELSE period_month END ASC`, closingColumns, r.table)
	rows, err := r.db.QueryContext(ctx, query, year, string(closingType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]billing.ClosingRecord, 0)
	for rows.Next() {
		record, err := scanClosing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *record)
	}
	return result, rows.Err()
}

const closingColumns = `id, closing_type, period_year, period_month,
	income_charges, income_other, income_total,
	expense_total, expense_breakdown, fund_snapshot,
	pending_count, paid_count, balance, next_year_generation, created_at`

func scanClosing(row rowScanner) (*billing.ClosingRecord, error) {
	var (
		record      billing.ClosingRecord
		closingType string
		month       int
		charges     decimal.Decimal
		other       decimal.Decimal
		income      decimal.Decimal
		expenses    decimal.Decimal
		breakdown   []byte
		snapshot    []byte
		nextYear    []byte
		balance     decimal.Decimal
		createdAt   time.Time
	)
	if err := row.Scan(
		&record.ID,
		&closingType,
		&record.Period.Year,
		&month,
		&charges,
		&other,
		&income,
		&expenses,
		&breakdown,
		&snapshot,
		&record.PendingChargeCount,
		&record.PaidChargeCount,
		&balance,
		&nextYear,
		&createdAt,
	); err != nil {
		return nil, err
	}
	record.Type = billing.ClosingType(closingType)
	record.Period.Month = time.Month(month)
	record.Income = billing.Income{ChargesTotal: charges, Other: other, Total: income}
	record.Expenses = billing.Expenses{Total: expenses, Breakdown: []billing.ExpenseLine{}}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &record.Expenses.Breakdown); err != nil {
			return nil, fmt.Errorf("closing repo: decode breakdown: %w", err)
		}
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &record.FundSnapshot); err != nil {
			return nil, fmt.Errorf("closing repo: decode fund snapshot: %w", err)
		}
	}
	if len(nextYear) > 0 {
		var next billing.NextYearGeneration
		if err := json.Unmarshal(nextYear, &next); err != nil {
			return nil, fmt.Errorf("closing repo: decode next year generation: %w", err)
		}
		record.NextYearGeneration = &next
	}
	record.Balance = balance
	record.CreatedAt = createdAt.UTC()
	return &record, nil
}
