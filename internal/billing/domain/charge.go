package billing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ChargeState is the lifecycle state of a charge.
type ChargeState string

const (
	ChargeStatePending ChargeState = "PENDING"
	ChargeStatePaid    ChargeState = "PAID"
	ChargeStateExpired ChargeState = "EXPIRED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ChargeState) IsTerminal() bool {
	return s == ChargeStatePaid || s == ChargeStateExpired
}

// Charge is one recurring fee instance for one account and one period.
// Identity: store-assigned id; uniqueness: period + account.
type Charge struct {
	ID           string          `json:"id"`
	Period       Period          `json:"period"`
	Account      string          `json:"account"`
	Amount       decimal.Decimal `json:"amount"`
	DueDate      time.Time       `json:"due_date"`
	State        ChargeState     `json:"state"`
	PaidAt       *time.Time      `json:"paid_at,omitempty"`
	PaymentProof string          `json:"payment_proof,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AmountPlaces is the number of decimal places a charge amount may carry.
const AmountPlaces = 2

// ValidateAmount rejects negative amounts and amounts finer than a cent.
// Trailing zeros are accepted, so 12.500 is valid.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	if !amount.Equal(amount.Truncate(AmountPlaces)) {
		return ErrAmountScale
	}
	return nil
}

// NewCharge builds a PENDING charge. The id is assigned by the store.
func NewCharge(period Period, account string, amount decimal.Decimal, dueDate, createdAt time.Time) (*Charge, error) {
	account = strings.TrimSpace(account)
	if !period.IsValid() {
		return nil, ErrInvalidPeriod
	}
	if account == "" {
		return nil, ErrEmptyAccount
	}
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}
	return &Charge{
		Period:    period,
		Account:   account,
		Amount:    amount,
		DueDate:   dueDate,
		State:     ChargeStatePending,
		CreatedAt: createdAt,
	}, nil
}

// MarkPaid moves a PENDING charge to PAID.
func (c *Charge) MarkPaid(at time.Time, proof string) error {
	if c.State != ChargeStatePending {
		return ErrInvalidTransition
	}
	paidAt := at
	c.State = ChargeStatePaid
	c.PaidAt = &paidAt
	c.PaymentProof = proof
	return nil
}

// Expire moves a PENDING charge to EXPIRED. It reports false when the charge
// was already expired.
func (c *Charge) Expire() (bool, error) {
	switch c.State {
	case ChargeStateExpired:
		return false, nil
	case ChargeStatePending:
		c.State = ChargeStateExpired
		return true, nil
	default:
		return false, ErrInvalidTransition
	}
}

// UniqueKey returns the period + account key.
func (c *Charge) UniqueKey() string {
	return ChargeKey(c.Period, c.Account)
}

// ChargeKey builds the uniqueness key for a period and account.
func ChargeKey(period Period, account string) string {
	return period.Key() + "|" + account
}

// Clone returns a detached copy.
func (c *Charge) Clone() *Charge {
	if c == nil {
		return nil
	}
	copy := *c
	if c.PaidAt != nil {
		paidAt := *c.PaidAt
		copy.PaidAt = &paidAt
	}
	return &copy
}
