package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pricing "github.com/dmehra2102/POS-Sale-System/internal/pricing/domain"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

var transitions = map[Status][]Status{
	StatusPending:           {StatusCompleted, StatusCancelled},
	StatusCompleted:         {StatusRefunded, StatusPartiallyRefunded},
	StatusPartiallyRefunded: {StatusRefunded, StatusPartiallyRefunded},
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash          PaymentMethod = "cash"
	PaymentCard          PaymentMethod = "card"
	PaymentDigital       PaymentMethod = "digital"
	PaymentGiftCard      PaymentMethod = "gift_card"
	PaymentLoyaltyPoints PaymentMethod = "loyalty_points"
)

func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case PaymentCash, PaymentCard, PaymentDigital, PaymentGiftCard, PaymentLoyaltyPoints:
		return m, true
	}
	return "", false
}

// Line is a sale line with the price and tax rate captured at sale time.
type Line struct {
	ProductID        string                 `json:"product_id"`
	Name             string                 `json:"name,omitempty"`
	Quantity         int                    `json:"quantity"`
	UnitPrice        decimal.Decimal        `json:"unit_price"`
	TaxRatePercent   decimal.Decimal        `json:"tax_rate"`
	Subtotal         decimal.Decimal        `json:"subtotal"`
	Discount         decimal.Decimal        `json:"discount"`
	TaxAmount        decimal.Decimal        `json:"tax_amount"`
	TaxComponents    []pricing.TaxComponent `json:"tax_components"`
	LineTotal        decimal.Decimal        `json:"line_total"`
	RefundedQuantity int                    `json:"refunded_quantity"`
}

type Sale struct {
	ID             string          `json:"id"`
	Number         string          `json:"sale_number"`
	CustomerID     string          `json:"customer_id,omitempty"`
	Lines          []Line          `json:"lines"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	GrandTotal     decimal.Decimal `json:"grand_total"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func FormatNumber(seq int64) string {
	return fmt.Sprintf("SALE-%06d", seq)
}

// Clone copies s so the copy's lines can be changed independently.
func (s Sale) Clone() Sale {
	lines := make([]Line, len(s.Lines))
	for i, l := range s.Lines {
		l.TaxComponents = append([]pricing.TaxComponent(nil), l.TaxComponents...)
		lines[i] = l
	}
	s.Lines = lines
	return s
}
