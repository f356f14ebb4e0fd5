package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ClosingType distinguishes monthly and annual closings.
type ClosingType string

const (
	ClosingTypeMonthly ClosingType = "MONTHLY"
	ClosingTypeAnnual  ClosingType = "ANNUAL"
)

// Income summarizes collected revenue of a closed period.
type Income struct {
	ChargesTotal decimal.Decimal `json:"charges_total"`
	Other        decimal.Decimal `json:"other"`
	Total        decimal.Decimal `json:"total"`
}

// ExpenseLine is one expense (or one aggregated monthly total on annual closings).
type ExpenseLine struct {
	ID       string          `json:"id"`
	Concept  string          `json:"concept"`
	Amount   decimal.Decimal `json:"amount"`
	Category string          `json:"category"`
}

// Expenses summarizes the outflows of a closed period.
type Expenses struct {
	Total     decimal.Decimal `json:"total"`
	Breakdown []ExpenseLine   `json:"breakdown"`
}

// NextYearGeneration records the outcome of the annual bootstrap.
type NextYearGeneration struct {
	Requested        bool   `json:"requested"`
	ChargesGenerated int    `json:"charges_generated"`
	PeriodsCovered   int    `json:"periods_covered"`
	Message          string `json:"message"`
}

// ClosingRecord is the immutable summary of a closed period.
// Period.Month is zero on annual closings.
type ClosingRecord struct {
	ID                 string                     `json:"id"`
	Type               ClosingType                `json:"type"`
	Period             Period                     `json:"period"`
	Income             Income                     `json:"income"`
	Expenses           Expenses                   `json:"expenses"`
	FundSnapshot       map[string]decimal.Decimal `json:"fund_snapshot"`
	PendingChargeCount int                        `json:"pending_charge_count"`
	PaidChargeCount    int                        `json:"paid_charge_count"`
	Balance            decimal.Decimal            `json:"balance"`
	NextYearGeneration *NextYearGeneration        `json:"next_year_generation,omitempty"`
	CreatedAt          time.Time                  `json:"created_at"`
}

// MonthlyClosingID derives the id of a monthly closing.
func MonthlyClosingID(period Period) string {
	return "close_" + period.Key()
}

// AnnualClosingID derives the id of an annual closing.
func AnnualClosingID(year int) string {
	return fmt.Sprintf("close_annual_%04d", year)
}

// NewExpenses sums lines into an expense summary.
func NewExpenses(lines []ExpenseLine) Expenses {
	total := decimal.Zero
	breakdown := make([]ExpenseLine, 0, len(lines))
	for _, line := range lines {
		total = total.Add(line.Amount)
		breakdown = append(breakdown, line)
	}
	return Expenses{Total: total, Breakdown: breakdown}
}

// NewIncome builds an income summary from collected charges and other income.
func NewIncome(chargesTotal, other decimal.Decimal) Income {
	return Income{ChargesTotal: chargesTotal, Other: other, Total: chargesTotal.Add(other)}
}

// ComputeBalance sets Balance = Income.Total - Expenses.Total.
func (c *ClosingRecord) ComputeBalance() {
	c.Balance = c.Income.Total.Sub(c.Expenses.Total)
}

// Validate checks the record shape before persisting.
func (c *ClosingRecord) Validate() error {
	if c == nil {
		return ErrNilClosing
	}
	switch c.Type {
	case ClosingTypeMonthly:
		if !c.Period.IsValid() {
			return ErrInvalidPeriod
		}
		if c.ID != MonthlyClosingID(c.Period) {
			return fmt.Errorf("billing: closing id %q does not match period %s", c.ID, c.Period)
		}
	case ClosingTypeAnnual:
		if c.Period.Year < 1 || c.Period.Month != 0 {
			return ErrInvalidPeriod
		}
		if c.ID != AnnualClosingID(c.Period.Year) {
			return fmt.Errorf("billing: closing id %q does not match year %d", c.ID, c.Period.Year)
		}
	default:
		return fmt.Errorf("billing: unknown closing type %q", c.Type)
	}
	if !c.Balance.Equal(c.Income.Total.Sub(c.Expenses.Total)) {
		return fmt.Errorf("billing: closing %s balance mismatch", c.ID)
	}
	return nil
}

// Clone returns a detached copy.
func (c *ClosingRecord) Clone() *ClosingRecord {
	if c == nil {
		return nil
	}
	copy := *c
	copy.Expenses.Breakdown = append([]ExpenseLine(nil), c.Expenses.Breakdown...)
	if c.FundSnapshot != nil {
		copy.FundSnapshot = make(map[string]decimal.Decimal, len(c.FundSnapshot))
		for name, amount := range c.FundSnapshot {
			copy.FundSnapshot[name] = amount
		}
	}
	if c.NextYearGeneration != nil {
		next := *c.NextYearGeneration
		copy.NextYearGeneration = &next
	}
	return &copy
}
