package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	funds "residence-cloud/internal/funds/domain"
)

// Ledger is a Postgres fund ledger. Balance changes and movement rows are
// written in one transaction with the touched fund rows locked FOR UPDATE.
type Ledger struct {
	db *sql.DB
}

// NewLedger constructs a ledger.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// EnsureFund creates a zero-balance fund when missing.
func (l *Ledger) EnsureFund(ctx context.Context, name string) error {
	if l == nil || l.db == nil {
		return errors.New("fund ledger: nil db")
	}
	if name == "" {
		return funds.ErrEmptyFund
	}
	_, err := l.db.ExecContext(ctx, `
INSERT INTO funds (name, balance, updated_at)
VALUES ($1, 0, $2)
ON CONFLICT (name) DO NOTHING`, name, time.Now().UTC())
	return err
}

// ListFunds returns funds ordered by name.
func (l *Ledger) ListFunds(ctx context.Context) ([]funds.Fund, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("fund ledger: nil db")
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT name, balance, updated_at
FROM funds
ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]funds.Fund, 0)
	for rows.Next() {
		var fund funds.Fund
		if err := rows.Scan(&fund.Name, &fund.Balance, &fund.UpdatedAt); err != nil {
			return nil, err
		}
		fund.UpdatedAt = fund.UpdatedAt.UTC()
		result = append(result, fund)
	}
	return result, rows.Err()
}

// RecordExpense debits the fund and stores the expense.
func (l *Ledger) RecordExpense(ctx context.Context, expense *funds.Expense, allowOverdraft bool) error {
	if l == nil || l.db == nil {
		return errors.New("fund ledger: nil db")
	}
	return l.withTx(ctx, func(tx *sql.Tx) error {
		balance, err := lockBalance(ctx, tx, expense.Fund)
		if err != nil {
			return err
		}
		if !funds.CanDebit(balance, expense.Amount, allowOverdraft) {
			return funds.ErrInsufficientFunds
		}
		if err := adjust(ctx, tx, expense.Fund, expense.Amount.Neg(), expense.CreatedAt); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO expenses (id, fund_name, concept, category, amount, incurred_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			expense.ID, expense.Fund, expense.Concept, expense.Category, expense.Amount,
			expense.IncurredAt.UTC(), expense.CreatedAt.UTC())
		return err
	})
}

// RecordTransfer moves money between funds. Rows are locked in name order.
func (l *Ledger) RecordTransfer(ctx context.Context, transfer *funds.Transfer, allowOverdraft bool) error {
	if l == nil || l.db == nil {
		return errors.New("fund ledger: nil db")
	}
	return l.withTx(ctx, func(tx *sql.Tx) error {
		first, second := transfer.From, transfer.To
		if second < first {
			first, second = second, first
		}
		balances := make(map[string]decimal.Decimal, 2)
		for _, name := range []string{first, second} {
			balance, err := lockBalance(ctx, tx, name)
			if err != nil {
				return err
			}
			balances[name] = balance
		}
		if !funds.CanDebit(balances[transfer.From], transfer.Amount, allowOverdraft) {
			return funds.ErrInsufficientFunds
		}
		if err := adjust(ctx, tx, transfer.From, transfer.Amount.Neg(), transfer.CreatedAt); err != nil {
			return err
		}
		if err := adjust(ctx, tx, transfer.To, transfer.Amount, transfer.CreatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO fund_transfers (id, from_fund, to_fund, amount, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
			transfer.ID, transfer.From, transfer.To, transfer.Amount, transfer.Note, transfer.CreatedAt.UTC())
		return err
	})
}

// RecordDeposit credits the fund once per reference.
func (l *Ledger) RecordDeposit(ctx context.Context, deposit *funds.Deposit) error {
	if l == nil || l.db == nil {
		return errors.New("fund ledger: nil db")
	}
	return l.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockBalance(ctx, tx, deposit.Fund); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
INSERT INTO fund_deposits (id, fund_name, amount, reference, concept, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (reference) DO NOTHING`,
			deposit.ID, deposit.Fund, deposit.Amount, deposit.Reference, deposit.Concept, deposit.CreatedAt.UTC())
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return funds.ErrDuplicateDeposit
		}
		return adjust(ctx, tx, deposit.Fund, deposit.Amount, deposit.CreatedAt)
	})
}

// ExpensesBetween lists expenses incurred in [from, to).
func (l *Ledger) ExpensesBetween(ctx context.Context, from, to time.Time) ([]funds.Expense, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("fund ledger: nil db")
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT id, fund_name, concept, category, amount, incurred_at, created_at
FROM expenses
WHERE incurred_at >= $1 AND incurred_at < $2
ORDER BY incurred_at ASC, id ASC`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]funds.Expense, 0)
	for rows.Next() {
		var expense funds.Expense
		if err := rows.Scan(
			&expense.ID,
			&expense.Fund,
			&expense.Concept,
			&expense.Category,
			&expense.Amount,
			&expense.IncurredAt,
			&expense.CreatedAt,
		); err != nil {
			return nil, err
		}
		expense.IncurredAt = expense.IncurredAt.UTC()
		expense.CreatedAt = expense.CreatedAt.UTC()
		result = append(result, expense)
	}
	return result, rows.Err()
}

func (l *Ledger) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func lockBalance(ctx context.Context, tx *sql.Tx, name string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx, `SELECT balance FROM funds WHERE name = $1 FOR UPDATE`, name).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, funds.ErrFundNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("fund ledger: lock %s: %w", name, err)
	}
	return balance, nil
}

func adjust(ctx context.Context, tx *sql.Tx, name string, delta decimal.Decimal, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
UPDATE funds
SET balance = balance + $2, updated_at = $3
WHERE name = $1`, name, delta, at.UTC())
	return err
}
