package funds

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"residence-cloud/internal/billing/application/events"
	fundsapp "residence-cloud/internal/funds/application"
	fundsdomain "residence-cloud/internal/funds/domain"
)

// PaymentCreditConsumer is the consumer name used for idempotency tracking.
const PaymentCreditConsumer = "funds.payment_credit"

// PaymentCredit credits collected charge payments to the income fund.
type PaymentCredit struct {
	funds  *fundsapp.Service
	fund   string
	logger *zap.Logger
}

// NewPaymentCredit constructs the consumer.
func NewPaymentCredit(service *fundsapp.Service, incomeFund string, logger *zap.Logger) (*PaymentCredit, error) {
	if service == nil {
		return nil, errors.New("payment credit: nil fund service")
	}
	if incomeFund == "" {
		return nil, errors.New("payment credit: empty income fund")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentCredit{funds: service, fund: incomeFund, logger: logger}, nil
}

// Handle deposits a ChargePaid amount once per charge.
func (c *PaymentCredit) Handle(ctx context.Context, event any) error {
	paid, ok := event.(events.ChargePaid)
	if !ok {
		return fmt.Errorf("payment credit: unexpected event %T", event)
	}
	if !paid.Amount.IsPositive() {
		return nil
	}
	concept := fmt.Sprintf("charge %s account %s", paid.PeriodKey, paid.Account)
	_, err := c.funds.Deposit(ctx, c.fund, paid.Amount, paid.ChargeID, concept)
	if errors.Is(err, fundsdomain.ErrDuplicateDeposit) {
		return nil
	}
	if err != nil {
		return err
	}
	c.logger.Debug("payment credited",
		zap.String("charge_id", paid.ChargeID),
		zap.String("fund", c.fund),
		zap.String("amount", paid.Amount.String()),
	)
	return nil
}
