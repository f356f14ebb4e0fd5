package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChargesGenerated is emitted once per period that received new charges.
type ChargesGenerated struct {
	PeriodKey  string          `json:"period_key"`
	Count      int             `json:"count"`
	Failed     int             `json:"failed"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// ChargePaid is emitted when a payment is registered.
type ChargePaid struct {
	ChargeID   string          `json:"charge_id"`
	PeriodKey  string          `json:"period_key"`
	Account    string          `json:"account"`
	Amount     decimal.Decimal `json:"amount"`
	Proof      string          `json:"proof,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// ChargeExpired is emitted when a pending charge is expired.
type ChargeExpired struct {
	ChargeID   string    `json:"charge_id"`
	PeriodKey  string    `json:"period_key"`
	Account    string    `json:"account"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PeriodClosed is emitted when a monthly or annual closing is persisted.
type PeriodClosed struct {
	ClosingID    string          `json:"closing_id"`
	ClosingType  string          `json:"closing_type"`
	PeriodKey    string          `json:"period_key"`
	IncomeTotal  decimal.Decimal `json:"income_total"`
	ExpenseTotal decimal.Decimal `json:"expense_total"`
	Balance      decimal.Decimal `json:"balance"`
	OccurredAt   time.Time       `json:"occurred_at"`
}
