package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrNoCustomer       = errors.New("no customer to accrue to")
	ErrInvalidAmount    = errors.New("invalid accrual amount")
)

type CustomerLoyalty struct {
	CustomerID     string          `json:"customer_id"`
	TotalPurchases decimal.Decimal `json:"total_purchases"`
	Points         int64           `json:"points"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AccrualPolicy converts a purchase total to points: floor(total * Rate).
type AccrualPolicy struct {
	Rate decimal.Decimal
}

func DefaultAccrualPolicy() AccrualPolicy {
	return AccrualPolicy{Rate: decimal.New(1, -2)}
}

func (p AccrualPolicy) Points(total decimal.Decimal) int64 {
	return total.Mul(p.Rate).Floor().IntPart()
}
