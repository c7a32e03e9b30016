package application

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/POS-Sale-System/internal/loyalty/domain"
)

type Ledger struct {
	policy domain.AccrualPolicy
	reader Reader
}

func NewLedger(policy domain.AccrualPolicy, reader Reader) *Ledger {
	return &Ledger{policy: policy, reader: reader}
}

// Accrue credits saleTotal and its points to customerID inside tx. An empty
// customerID is an error: callers skip accrual for anonymous sales.
func (l *Ledger) Accrue(ctx context.Context, tx LoyaltyTx, customerID string, saleTotal decimal.Decimal) (domain.CustomerLoyalty, error) {
	if customerID == "" {
		return domain.CustomerLoyalty{}, domain.ErrNoCustomer
	}
	if saleTotal.IsNegative() {
		return domain.CustomerLoyalty{}, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, saleTotal)
	}
	return tx.AccrueLoyalty(ctx, customerID, saleTotal, l.policy.Points(saleTotal))
}

func (l *Ledger) Balance(ctx context.Context, customerID string) (domain.CustomerLoyalty, error) {
	return l.reader.GetLoyalty(ctx, customerID)
}
