package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type RefundLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type RefundRequest struct {
	SaleID string       `json:"-"`
	Lines  []RefundLine `json:"lines"`
	Reason string       `json:"reason"`
}

// Allocation is the part of one sale line covered by a refund.
type Allocation struct {
	Line      int             `json:"line"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
}

// PlanRefund maps requested quantities onto the sale's lines in order. With
// no lines requested, everything outstanding is refunded. Each line refunds
// round(lineTotal * refunded / quantity) cumulatively, so refunding a whole
// line returns exactly its total.
func (s Sale) PlanRefund(req []RefundLine, precision int32) ([]Allocation, error) {
	if !s.Status.CanTransition(StatusPartiallyRefunded) {
		return nil, &Error{Kind: KindInvalidTransition, SaleID: s.ID, Message: fmt.Sprintf("sale %s in status %s cannot be refunded", s.Number, s.Status)}
	}

	outstanding := make([]int, len(s.Lines))
	for i, l := range s.Lines {
		outstanding[i] = l.Quantity - l.RefundedQuantity
	}

	take := make([]int, len(s.Lines))
	if len(req) == 0 {
		copy(take, outstanding)
	}
	for i, r := range req {
		if r.Quantity <= 0 {
			return nil, invalidLine(i, r.ProductID, fmt.Sprintf("refund line %d: quantity must be positive", i), nil)
		}
		left := r.Quantity
		found := false
		for j, l := range s.Lines {
			if l.ProductID != r.ProductID {
				continue
			}
			found = true
			n := min(left, outstanding[j]-take[j])
			take[j] += n
			left -= n
			if left == 0 {
				break
			}
		}
		if !found {
			return nil, invalidLine(i, r.ProductID, fmt.Sprintf("refund line %d: product %s is not on sale %s", i, r.ProductID, s.Number), nil)
		}
		if left > 0 {
			line := i
			return nil, &Error{Kind: KindInvalidInput, Line: &line, ProductID: r.ProductID, Requested: r.Quantity, Available: r.Quantity - left,
				Message: fmt.Sprintf("refund line %d: only %d of product %s left to refund", i, r.Quantity-left, r.ProductID)}
		}
	}

	var out []Allocation
	for j, n := range take {
		if n == 0 {
			continue
		}
		l := s.Lines[j]
		before := prorate(l.LineTotal, l.RefundedQuantity, l.Quantity, precision)
		after := prorate(l.LineTotal, l.RefundedQuantity+n, l.Quantity, precision)
		out = append(out, Allocation{Line: j, ProductID: l.ProductID, Quantity: n, Amount: after.Sub(before)})
	}
	if len(out) == 0 {
		return nil, &Error{Kind: KindInvalidTransition, SaleID: s.ID, Message: fmt.Sprintf("sale %s has nothing left to refund", s.Number)}
	}
	return out, nil
}

// ApplyRefund records allocs on the sale and moves it to PartiallyRefunded
// or Refunded.
func (s *Sale) ApplyRefund(allocs []Allocation) {
	for _, a := range allocs {
		s.Lines[a.Line].RefundedQuantity += a.Quantity
	}
	s.Status = StatusRefunded
	for _, l := range s.Lines {
		if l.RefundedQuantity < l.Quantity {
			s.Status = StatusPartiallyRefunded
			break
		}
	}
}

func RefundTotal(allocs []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Amount)
	}
	return total
}

func prorate(total decimal.Decimal, part, whole int, precision int32) decimal.Decimal {
	if part >= whole {
		return total
	}
	return total.Mul(decimal.NewFromInt(int64(part))).Div(decimal.NewFromInt(int64(whole))).RoundBank(precision)
}
