package application

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/POS-Sale-System/internal/loyalty/domain"
)

// LoyaltyTx is the loyalty side of an open storage transaction. The
// customer must already have a loyalty record, otherwise
// domain.ErrCustomerNotFound.
type LoyaltyTx interface {
	AccrueLoyalty(ctx context.Context, customerID string, amount decimal.Decimal, points int64) (domain.CustomerLoyalty, error)
}

type Reader interface {
	GetLoyalty(ctx context.Context, customerID string) (domain.CustomerLoyalty, error)
}
