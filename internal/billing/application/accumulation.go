package application

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	billing "residence-cloud/internal/billing/domain"
)

// MonthStatus describes one month of an account's year.
type MonthStatus string

const (
	MonthStatusPaid         MonthStatus = "PAID"
	MonthStatusPending      MonthStatus = "PENDING"
	MonthStatusExpired      MonthStatus = "EXPIRED"
	MonthStatusNotGenerated MonthStatus = "NOT_GENERATED"
)

// MonthAccumulation is one entry of the monthly breakdown.
type MonthAccumulation struct {
	Period     billing.Period  `json:"period"`
	Status     MonthStatus     `json:"status"`
	ChargeID   string          `json:"charge_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
}

// YearSummary aggregates one account over one calendar year.
type YearSummary struct {
	Year              int                 `json:"year"`
	TotalPaid         decimal.Decimal     `json:"total_paid"`
	TotalCharges      decimal.Decimal     `json:"total_charges"`
	PaidCount         int                 `json:"paid_count"`
	PendingCount      int                 `json:"pending_count"`
	ExpiredCount      int                 `json:"expired_count"`
	NotGeneratedCount int                 `json:"not_generated_count"`
	Months            []MonthAccumulation `json:"months"`
}

// YearComparison compares a year against the prior one.
type YearComparison struct {
	PriorYear         int              `json:"prior_year"`
	PaidDifference    decimal.Decimal  `json:"paid_difference"`
	ChargesDifference decimal.Decimal  `json:"charges_difference"`
	PaidChangePct     *decimal.Decimal `json:"paid_change_pct,omitempty"`
}

// Accumulation is the read-only annual view of an account.
type Accumulation struct {
	Account    string         `json:"account"`
	Current    YearSummary    `json:"current"`
	Prior      YearSummary    `json:"prior"`
	Comparison YearComparison `json:"comparison"`
}

var hundred = decimal.NewFromInt(100)

// AnnualAccumulation reports the twelve months of year for account plus the
// same summary for year-1. For year 1 the prior summary is empty. It never
// mutates charges.
func (s *ChargeService) AnnualAccumulation(ctx context.Context, account string, year int) (*Accumulation, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, billing.ErrEmptyAccount
	}
	if year < 1 {
		return nil, billing.ErrInvalidPeriod
	}
	charges, err := s.repo.ListByAccount(ctx, account)
	if err != nil {
		return nil, err
	}

	byPeriod := make(map[billing.Period]billing.Charge, len(charges))
	for _, charge := range charges {
		if charge.Period.Year != year && charge.Period.Year != year-1 {
			continue
		}
		if _, ok := byPeriod[charge.Period]; ok {
			continue
		}
		byPeriod[charge.Period] = charge
	}

	current := summarizeYear(year, byPeriod)
	prior := summarizeYear(year-1, byPeriod)
	comparison := YearComparison{
		PriorYear:         prior.Year,
		PaidDifference:    current.TotalPaid.Sub(prior.TotalPaid),
		ChargesDifference: current.TotalCharges.Sub(prior.TotalCharges),
	}
	if !prior.TotalPaid.IsZero() {
		pct := comparison.PaidDifference.Div(prior.TotalPaid).Mul(hundred).Round(2)
		comparison.PaidChangePct = &pct
	}

	return &Accumulation{
		Account:    account,
		Current:    current,
		Prior:      prior,
		Comparison: comparison,
	}, nil
}

func summarizeYear(year int, byPeriod map[billing.Period]billing.Charge) YearSummary {
	summary := YearSummary{
		Year:         year,
		TotalPaid:    decimal.Zero,
		TotalCharges: decimal.Zero,
		Months:       make([]MonthAccumulation, 0, 12),
	}
	if year < 1 {
		return summary
	}
	for _, period := range billing.PeriodsOfYear(year) {
		entry := MonthAccumulation{Period: period, Amount: decimal.Zero, PaidAmount: decimal.Zero}
		charge, ok := byPeriod[period]
		if !ok {
			entry.Status = MonthStatusNotGenerated
			summary.NotGeneratedCount++
			summary.Months = append(summary.Months, entry)
			continue
		}
		entry.ChargeID = charge.ID
		entry.Amount = charge.Amount
		summary.TotalCharges = summary.TotalCharges.Add(charge.Amount)
		switch charge.State {
		case billing.ChargeStatePaid:
			entry.Status = MonthStatusPaid
			entry.PaidAmount = charge.Amount
			entry.PaidAt = charge.PaidAt
			summary.TotalPaid = summary.TotalPaid.Add(charge.Amount)
			summary.PaidCount++
		case billing.ChargeStateExpired:
			entry.Status = MonthStatusExpired
			summary.ExpiredCount++
		default:
			entry.Status = MonthStatusPending
			summary.PendingCount++
		}
		summary.Months = append(summary.Months, entry)
	}
	return summary
}
