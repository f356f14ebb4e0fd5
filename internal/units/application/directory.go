package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	units "residence-cloud/internal/units/domain"
)

// Directory manages units and exposes the billing account population.
type Directory struct {
	repo   units.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewDirectory constructs a directory.
func NewDirectory(repo units.Repository, logger *zap.Logger) (*Directory, error) {
	if repo == nil {
		return nil, errors.New("unit directory: nil repository")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{repo: repo, logger: logger, now: time.Now}, nil
}

// Register creates an active unit.
func (d *Directory) Register(ctx context.Context, number, owner string) (*units.Unit, error) {
	number = strings.TrimSpace(number)
	existing, err := d.repo.List(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, unit := range existing {
		if unit.Number == number {
			return nil, units.ErrDuplicateNumber
		}
	}
	now := d.now().UTC()
	unit := &units.Unit{
		ID:        uuid.NewString(),
		Number:    number,
		Owner:     strings.TrimSpace(owner),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := unit.Validate(); err != nil {
		return nil, err
	}
	if err := d.repo.Save(ctx, unit); err != nil {
		return nil, err
	}
	d.logger.Info("unit registered", zap.String("unit_id", unit.ID), zap.String("number", unit.Number))
	return unit, nil
}

// SetActive toggles whether the unit is billed.
func (d *Directory) SetActive(ctx context.Context, id string, active bool) (*units.Unit, error) {
	unit, err := d.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, units.ErrUnitNotFound
	}
	unit.Active = active
	unit.UpdatedAt = d.now().UTC()
	if err := d.repo.Save(ctx, unit); err != nil {
		return nil, err
	}
	return unit, nil
}

// List returns units ordered by number.
func (d *Directory) List(ctx context.Context, activeOnly bool) ([]units.Unit, error) {
	return d.repo.List(ctx, activeOnly)
}

// ActiveAccounts returns the numbers of all active units.
func (d *Directory) ActiveAccounts(ctx context.Context) ([]string, error) {
	list, err := d.repo.List(ctx, true)
	if err != nil {
		return nil, err
	}
	accounts := make([]string, 0, len(list))
	for _, unit := range list {
		accounts = append(accounts, unit.Number)
	}
	return accounts, nil
}
