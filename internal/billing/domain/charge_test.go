package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPeriodDueInstant(t *testing.T) {
	march := Period{Year: 2025, Month: time.March}
	got := march.LastInstant(time.UTC)
	want := time.Date(2025, time.March, 31, 23, 59, 59, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	feb := Period{Year: 2024, Month: time.February}
	if got := feb.DueInstant(time.UTC, 31); got.Day() != 29 {
		t.Fatalf("expected clamp to 29, got %d", got.Day())
	}
	if got := feb.DueInstant(time.UTC, 10); got.Day() != 10 {
		t.Fatalf("expected day 10, got %d", got.Day())
	}
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("2025-03")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Year != 2025 || p.Month != time.March {
		t.Fatalf("unexpected period %+v", p)
	}
	if p.Key() != "2025-03" {
		t.Fatalf("unexpected key %s", p.Key())
	}
	if _, err := ParsePeriod("2025-13"); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected invalid period, got %v", err)
	}
	if _, err := NewPeriod(2025, 0); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected invalid period, got %v", err)
	}
}

func TestPeriodNavigation(t *testing.T) {
	dec := Period{Year: 2025, Month: time.December}
	if next := dec.Next(); next.Year != 2026 || next.Month != time.January {
		t.Fatalf("unexpected next %s", next)
	}
	jan := Period{Year: 2026, Month: time.January}
	if prev := jan.Previous(); prev != dec {
		t.Fatalf("unexpected previous %s", prev)
	}
	if !dec.Before(jan) || jan.Before(dec) {
		t.Fatalf("unexpected ordering")
	}
	periods := PeriodsOfYear(2026)
	if len(periods) != 12 || periods[0] != jan || periods[11].Month != time.December {
		t.Fatalf("unexpected periods %v", periods)
	}
}

func TestChargeLifecycle(t *testing.T) {
	period := Period{Year: 2025, Month: time.March}
	now := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	charge, err := NewCharge(period, " 101 ", decimal.NewFromInt(550), period.LastInstant(time.UTC), now)
	if err != nil {
		t.Fatalf("new charge: %v", err)
	}
	if charge.Account != "101" || charge.State != ChargeStatePending {
		t.Fatalf("unexpected charge %+v", charge)
	}

	paidAt := now.Add(time.Hour)
	if err := charge.MarkPaid(paidAt, "receipt-1"); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if charge.State != ChargeStatePaid || charge.PaidAt == nil || !charge.PaidAt.Equal(paidAt) {
		t.Fatalf("unexpected paid charge %+v", charge)
	}
	if err := charge.MarkPaid(paidAt, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := charge.Expire(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on paid expire, got %v", err)
	}
}

func TestChargeExpireIdempotent(t *testing.T) {
	period := Period{Year: 2025, Month: time.March}
	charge, err := NewCharge(period, "102", decimal.NewFromInt(550), period.LastInstant(time.UTC), time.Now())
	if err != nil {
		t.Fatalf("new charge: %v", err)
	}
	changed, err := charge.Expire()
	if err != nil || !changed {
		t.Fatalf("expected first expire to change state, changed=%v err=%v", changed, err)
	}
	changed, err = charge.Expire()
	if err != nil || changed {
		t.Fatalf("expected second expire to be a no-op, changed=%v err=%v", changed, err)
	}
	if err := charge.MarkPaid(time.Now(), ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on expired, got %v", err)
	}
}

func TestNewChargeValidation(t *testing.T) {
	period := Period{Year: 2025, Month: time.March}
	if _, err := NewCharge(period, " ", decimal.NewFromInt(1), time.Now(), time.Now()); !errors.Is(err, ErrEmptyAccount) {
		t.Fatalf("expected empty account, got %v", err)
	}
	if _, err := NewCharge(period, "101", decimal.NewFromInt(-1), time.Now(), time.Now()); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected negative amount, got %v", err)
	}
	if _, err := NewCharge(Period{}, "101", decimal.NewFromInt(1), time.Now(), time.Now()); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected invalid period, got %v", err)
	}
	if _, err := NewCharge(period, "101", decimal.RequireFromString("550.125"), time.Now(), time.Now()); !errors.Is(err, ErrAmountScale) {
		t.Fatalf("expected amount scale error, got %v", err)
	}
	if _, err := NewCharge(period, "101", decimal.RequireFromString("550.500"), time.Now(), time.Now()); err != nil {
		t.Fatalf("trailing zeros should be accepted: %v", err)
	}
	if _, err := NewCharge(period, "101", decimal.Zero, time.Now(), time.Now()); err != nil {
		t.Fatalf("zero amount should be accepted: %v", err)
	}
}

func TestAlreadyClosedIsDuplicate(t *testing.T) {
	if !errors.Is(ErrAlreadyClosed, ErrDuplicate) {
		t.Fatalf("expected already closed to wrap duplicate")
	}
}

func TestClosingRecordValidate(t *testing.T) {
	period := Period{Year: 2025, Month: time.March}
	record := &ClosingRecord{
		ID:       MonthlyClosingID(period),
		Type:     ClosingTypeMonthly,
		Period:   period,
		Income:   NewIncome(decimal.NewFromInt(550), decimal.Zero),
		Expenses: NewExpenses([]ExpenseLine{{ID: "e1", Concept: "cleaning", Amount: decimal.NewFromInt(200)}}),
	}
	record.ComputeBalance()
	if !record.Balance.Equal(decimal.NewFromInt(350)) {
		t.Fatalf("unexpected balance %s", record.Balance)
	}
	if err := record.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if record.ID != "close_2025-03" {
		t.Fatalf("unexpected id %s", record.ID)
	}

	record.Balance = decimal.NewFromInt(1)
	if err := record.Validate(); err == nil {
		t.Fatalf("expected balance mismatch")
	}

	annual := &ClosingRecord{ID: AnnualClosingID(2025), Type: ClosingTypeAnnual, Period: Period{Year: 2025}}
	if annual.ID != "close_annual_2025" {
		t.Fatalf("unexpected annual id %s", annual.ID)
	}
	if err := annual.Validate(); err != nil {
		t.Fatalf("validate annual: %v", err)
	}
}

func TestClosingRecordCloneDetached(t *testing.T) {
	record := &ClosingRecord{
		FundSnapshot:       map[string]decimal.Decimal{"reserve": decimal.NewFromInt(10)},
		Expenses:           Expenses{Breakdown: []ExpenseLine{{ID: "e1"}}},
		NextYearGeneration: &NextYearGeneration{Requested: true},
	}
	clone := record.Clone()
	clone.FundSnapshot["reserve"] = decimal.NewFromInt(99)
	clone.Expenses.Breakdown[0].ID = "changed"
	clone.NextYearGeneration.Requested = false
	if !record.FundSnapshot["reserve"].Equal(decimal.NewFromInt(10)) {
		t.Fatalf("fund snapshot shared")
	}
	if record.Expenses.Breakdown[0].ID != "e1" {
		t.Fatalf("breakdown shared")
	}
	if !record.NextYearGeneration.Requested {
		t.Fatalf("next year generation shared")
	}
}
