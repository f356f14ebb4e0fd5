package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicate is returned when a charge or closing already exists for the target key.
	ErrDuplicate = errors.New("billing: duplicate")
	// ErrAlreadyClosed is returned when a closing already exists for the period.
	ErrAlreadyClosed = fmt.Errorf("billing: period already closed: %w", ErrDuplicate)
	// ErrInvalidTransition is returned when a lifecycle operation is not allowed from the current state.
	ErrInvalidTransition = errors.New("billing: invalid state transition")
	// ErrNotFound is returned when a charge or closing does not exist.
	ErrNotFound = errors.New("billing: not found")
	// ErrNoMonthlyClosings is returned when an annual close has no monthly closings to aggregate.
	ErrNoMonthlyClosings = errors.New("billing: no monthly closings for year")
	// ErrPartialFailure marks a batch that completed with failed items.
	ErrPartialFailure = errors.New("billing: partial failure")

	// ErrInvalidPeriod is returned for a period outside 1..12 or a non-positive year.
	ErrInvalidPeriod = errors.New("billing: invalid period")
	// ErrEmptyAccount is returned when a charge has no account.
	ErrEmptyAccount = errors.New("billing: empty account")
	// ErrNegativeAmount is returned when an amount is negative.
	ErrNegativeAmount = errors.New("billing: negative amount")
	// ErrAmountScale is returned when an amount has more than two decimal places.
	ErrAmountScale = errors.New("billing: amount has more than 2 decimal places")
	// ErrNilCharge is returned when persisting a nil charge.
	ErrNilCharge = errors.New("billing: nil charge")
	// ErrNilClosing is returned when persisting a nil closing record.
	ErrNilClosing = errors.New("billing: nil closing")
)
