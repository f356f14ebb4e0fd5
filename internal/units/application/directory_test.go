package application

import (
	"context"
	"errors"
	"testing"

	units "residence-cloud/internal/units/domain"
	"residence-cloud/internal/units/infrastructure/memory"
)

func TestDirectoryActiveAccounts(t *testing.T) {
	dir, err := NewDirectory(memory.NewUnitRepository(), nil)
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	ctx := context.Background()

	for _, number := range []string{"102", "101", "201"} {
		if _, err := dir.Register(ctx, number, "owner "+number); err != nil {
			t.Fatalf("register %s: %v", number, err)
		}
	}
	if _, err := dir.Register(ctx, " 101 ", "someone else"); !errors.Is(err, units.ErrDuplicateNumber) {
		t.Fatalf("expected ErrDuplicateNumber, got %v", err)
	}
	if _, err := dir.Register(ctx, "  ", "nobody"); err == nil {
		t.Fatalf("expected validation error for empty number")
	}

	all, err := dir.List(ctx, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var unit201 string
	for _, unit := range all {
		if unit.Number == "201" {
			unit201 = unit.ID
		}
	}
	if _, err := dir.SetActive(ctx, unit201, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	accounts, err := dir.ActiveAccounts(ctx)
	if err != nil {
		t.Fatalf("active accounts: %v", err)
	}
	if len(accounts) != 2 || accounts[0] != "101" || accounts[1] != "102" {
		t.Fatalf("unexpected accounts %v", accounts)
	}

	if _, err := dir.SetActive(ctx, "missing", true); !errors.Is(err, units.ErrUnitNotFound) {
		t.Fatalf("expected ErrUnitNotFound, got %v", err)
	}
}
