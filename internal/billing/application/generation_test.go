package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"residence-cloud/internal/billing/application/events"
	billing "residence-cloud/internal/billing/domain"
	"residence-cloud/internal/billing/infrastructure/memory"
)

func TestGenerateForYearIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, "101", "102", " 102 ", "")
	ctx := context.Background()

	first, err := f.generator.GenerateForYear(ctx, 2025, GenerationOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(first.Succeeded) != 24 || first.FailedCount != 0 || len(first.SkippedPeriods) != 0 {
		t.Fatalf("unexpected first batch: %+v", first.Message)
	}

	second, err := f.generator.GenerateForYear(ctx, 2025, GenerationOptions{})
	if err != nil {
		t.Fatalf("generate again: %v", err)
	}
	if len(second.Succeeded) != 0 || len(second.SkippedPeriods) != 12 {
		t.Fatalf("expected a no-op second batch, got %s", second.Message)
	}

	for _, period := range billing.PeriodsOfYear(2025) {
		charges, err := f.charges.ListByPeriod(ctx, period)
		if err != nil {
			t.Fatalf("list %s: %v", period, err)
		}
		if len(charges) != 2 {
			t.Fatalf("period %s: expected 2 charges, got %d", period, len(charges))
		}
		seen := map[string]bool{}
		for _, charge := range charges {
			if seen[charge.Account] {
				t.Fatalf("duplicate charge for %s in %s", charge.Account, period)
			}
			seen[charge.Account] = true
			if charge.State != billing.ChargeStatePending {
				t.Fatalf("expected pending, got %s", charge.State)
			}
			if !charge.Amount.Equal(decimal.NewFromInt(550)) {
				t.Fatalf("expected default amount, got %s", charge.Amount)
			}
		}
	}

	generated := f.publisher.count(func(event any) bool {
		_, ok := event.(events.ChargesGenerated)
		return ok
	})
	if generated != 12 {
		t.Fatalf("expected 12 ChargesGenerated events, got %d", generated)
	}
}

func TestGenerateForPeriodUsesOptions(t *testing.T) {
	f := newFixture(t, nil, "101")
	period := mustPeriod(t, "2024-02")

	batch, err := f.generator.GenerateForPeriod(context.Background(), period, GenerationOptions{
		Amount: amountOf("612.50"),
		DueDay: 31,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(batch.Succeeded) != 1 {
		t.Fatalf("expected 1 charge, got %d", len(batch.Succeeded))
	}
	charge := batch.Succeeded[0]
	if !charge.Amount.Equal(decimal.RequireFromString("612.50")) {
		t.Fatalf("unexpected amount %s", charge.Amount)
	}
	want := time.Date(2024, time.February, 29, 23, 59, 59, 0, time.UTC)
	if !charge.DueDate.Equal(want) {
		t.Fatalf("expected due date %s, got %s", want, charge.DueDate)
	}
}

func TestGenerateRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, nil, "101")
	ctx := context.Background()
	if _, err := f.generator.GenerateForPeriod(ctx, billing.Period{Year: 2025, Month: 13}, GenerationOptions{}); !errors.Is(err, billing.ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
	if _, err := f.generator.GenerateForYear(ctx, 0, GenerationOptions{}); !errors.Is(err, billing.ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
	if _, err := f.generator.GenerateForYear(ctx, 2025, GenerationOptions{Amount: amountOf("-1")}); !errors.Is(err, billing.ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
	if _, err := f.generator.GenerateForYear(ctx, 2025, GenerationOptions{Amount: amountOf("10.005")}); !errors.Is(err, billing.ErrAmountScale) {
		t.Fatalf("expected ErrAmountScale, got %v", err)
	}
}

func TestGenerateExplicitZeroAmount(t *testing.T) {
	f := newFixture(t, nil, "101")
	batch, err := f.generator.GenerateForPeriod(context.Background(), mustPeriod(t, "2025-06"), GenerationOptions{
		Amount: amountOf("0"),
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(batch.Succeeded) != 1 {
		t.Fatalf("expected 1 charge, got %d", len(batch.Succeeded))
	}
	if !batch.Succeeded[0].Amount.IsZero() {
		t.Fatalf("expected zero amount, got %s", batch.Succeeded[0].Amount)
	}

	defaulted, err := f.generator.GenerateForPeriod(context.Background(), mustPeriod(t, "2025-07"), GenerationOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(defaulted.Succeeded) != 1 || !defaulted.Succeeded[0].Amount.Equal(decimal.NewFromInt(550)) {
		t.Fatalf("expected default amount, got %+v", defaulted.Succeeded)
	}
}

func TestGenerateFailsWhenPopulationUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.accounts.err = errors.New("units offline")
	if _, err := f.generator.GenerateForYear(context.Background(), 2025, GenerationOptions{}); err == nil {
		t.Fatalf("expected population error")
	}
}

func TestGeneratePresenceSkipAndRepair(t *testing.T) {
	f := newFixture(t, nil, "101", "102")
	ctx := context.Background()
	january := mustPeriod(t, "2025-01")
	if _, err := f.charges.Create(ctx, january, "101", decimal.NewFromInt(550), january.LastInstant(time.UTC)); err != nil {
		t.Fatalf("seed charge: %v", err)
	}

	batch, err := f.generator.GenerateForYear(ctx, 2025, GenerationOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(batch.Succeeded) != 22 || len(batch.SkippedPeriods) != 1 || batch.SkippedPeriods[0] != january {
		t.Fatalf("expected january skipped, got %s", batch.Message)
	}

	repaired, err := f.generator.GenerateForYear(ctx, 2025, GenerationOptions{RepairPartial: true})
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(repaired.Succeeded) != 1 || repaired.Succeeded[0].Account != "102" || repaired.Succeeded[0].Period != january {
		t.Fatalf("expected one repaired charge, got %s", repaired.Message)
	}
	if len(repaired.SkippedPeriods) != 11 {
		t.Fatalf("expected 11 complete periods skipped, got %d", len(repaired.SkippedPeriods))
	}
}

func TestGenerateReportsPartialFailure(t *testing.T) {
	repo := &flakyCharges{ChargeRepository: memory.NewChargeRepository(), failInsert: map[string]bool{"103": true}}
	f := newFixture(t, repo, "101", "102", "103")

	batch, err := f.generator.GenerateForPeriod(context.Background(), mustPeriod(t, "2025-05"), GenerationOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(batch.Succeeded) != 2 || batch.FailedCount != 1 {
		t.Fatalf("expected 2 created and 1 failed, got %s", batch.Message)
	}
	if !errors.Is(batch.Err(), billing.ErrPartialFailure) {
		t.Fatalf("expected partial failure, got %v", batch.Err())
	}

	clean := &BatchResult{}
	if clean.Err() != nil {
		t.Fatalf("expected nil error for clean batch")
	}
}

func TestCurrentPeriodUsesLocation(t *testing.T) {
	f := newFixture(t, nil)
	loc := time.FixedZone("UTC-6", -6*3600)
	generator, err := NewGenerationScheduler(f.charges, f.accounts, nil, GenerationDefaults{Location: loc}, f.clock, nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	f.clock.Set(time.Date(2025, time.April, 1, 3, 0, 0, 0, time.UTC))
	if got := generator.CurrentPeriod(); got.Key() != "2025-03" {
		t.Fatalf("expected 2025-03 in UTC-6, got %s", got)
	}
}
