package units

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUnitNotFound indicates a missing unit.
	ErrUnitNotFound = errors.New("units: unit not found")
	// ErrDuplicateNumber indicates another unit already uses the number.
	ErrDuplicateNumber = errors.New("units: duplicate unit number")
)

// Unit is a billable apartment. Its Number is the billing account.
type Unit struct {
	ID        string    `json:"id"`
	Number    string    `json:"number"`
	Owner     string    `json:"owner"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks unit invariants.
func (u Unit) Validate() error {
	if u.ID == "" {
		return errors.New("unit: empty id")
	}
	if strings.TrimSpace(u.Number) == "" {
		return errors.New("unit: empty number")
	}
	return nil
}

// Repository manages unit persistence. Get returns nil, nil when missing.
type Repository interface {
	Get(ctx context.Context, id string) (*Unit, error)
	Save(ctx context.Context, unit *Unit) error
	List(ctx context.Context, activeOnly bool) ([]Unit, error)
}
