package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	pricing "github.com/dmehra2102/POS-Sale-System/internal/pricing/domain"
)

// MaxLineQuantity is the largest quantity one line may carry; stock and
// line quantities are stored as 32-bit integers.
const MaxLineQuantity = math.MaxInt32

type CartLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Discount  decimal.Decimal `json:"discount"`
}

type SaleRequest struct {
	CustomerID    string        `json:"customer_id,omitempty"`
	Lines         []CartLine    `json:"lines"`
	PaymentMethod PaymentMethod `json:"payment_method"`
}

// Validate checks what can be checked without storage.
func (r SaleRequest) Validate() error {
	if len(r.Lines) == 0 {
		return &Error{Kind: KindInvalidInput, Message: "sale must have at least one line"}
	}
	if _, ok := ParsePaymentMethod(string(r.PaymentMethod)); !ok {
		return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf("unknown payment method %q", r.PaymentMethod)}
	}
	for i, l := range r.Lines {
		switch {
		case l.ProductID == "":
			return invalidLine(i, "", fmt.Sprintf("line %d: product_id is required", i), nil)
		case l.Quantity <= 0:
			return invalidLine(i, l.ProductID, fmt.Sprintf("line %d: quantity must be positive, got %d", i, l.Quantity), nil)
		case l.Quantity > MaxLineQuantity:
			return invalidLine(i, l.ProductID, fmt.Sprintf("line %d: quantity %d exceeds %d", i, l.Quantity, MaxLineQuantity), nil)
		case l.Discount.IsNegative():
			return invalidLine(i, l.ProductID, fmt.Sprintf("line %d: discount must not be negative", i), nil)
		}
	}
	return nil
}

type ResultLine struct {
	ProductID     string                 `json:"product_id"`
	Quantity      int                    `json:"quantity"`
	UnitPrice     decimal.Decimal        `json:"unit_price"`
	TaxAmount     decimal.Decimal        `json:"tax_amount"`
	TaxComponents []pricing.TaxComponent `json:"tax_components"`
	Discount      decimal.Decimal        `json:"discount"`
	LineTotal     decimal.Decimal        `json:"line_total"`
}

type SaleResult struct {
	SaleID         string          `json:"sale_id"`
	SaleNumber     string          `json:"sale_number"`
	CustomerID     string          `json:"customer_id,omitempty"`
	Lines          []ResultLine    `json:"lines"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	GrandTotal     decimal.Decimal `json:"grand_total"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

func NewResult(s Sale) SaleResult {
	lines := make([]ResultLine, 0, len(s.Lines))
	for _, l := range s.Lines {
		lines = append(lines, ResultLine{
			ProductID:     l.ProductID,
			Quantity:      l.Quantity,
			UnitPrice:     l.UnitPrice,
			TaxAmount:     l.TaxAmount,
			TaxComponents: l.TaxComponents,
			Discount:      l.Discount,
			LineTotal:     l.LineTotal,
		})
	}
	return SaleResult{
		SaleID:         s.ID,
		SaleNumber:     s.Number,
		CustomerID:     s.CustomerID,
		Lines:          lines,
		Subtotal:       s.Subtotal,
		TaxAmount:      s.TaxAmount,
		DiscountAmount: s.DiscountAmount,
		GrandTotal:     s.GrandTotal,
		PaymentMethod:  s.PaymentMethod,
		Status:         s.Status,
		CreatedAt:      s.CreatedAt,
	}
}

type RefundResult struct {
	SaleID      string          `json:"sale_id"`
	SaleNumber  string          `json:"sale_number"`
	Status      Status          `json:"status"`
	Allocations []Allocation    `json:"allocations"`
	Amount      decimal.Decimal `json:"amount"`
}
