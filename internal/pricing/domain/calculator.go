// Package domain computes line and order amounts for a sale. The functions
// are pure: the same inputs always give the same amounts.
package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidInput = errors.New("invalid pricing input")

var hundred = decimal.NewFromInt(100)

type LineInput struct {
	UnitPrice      decimal.Decimal
	Quantity       int
	Discount       decimal.Decimal
	TaxRatePercent decimal.Decimal
}

type LineAmounts struct {
	// Gross is unit price times quantity, before discount.
	Gross      decimal.Decimal
	Discount   decimal.Decimal
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Total      decimal.Decimal
	Components []TaxComponent
}

type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

type Calculator struct {
	precision int32
	split     SplitPolicy
}

// NewCalculator returns a calculator rounding to precision decimal places
// (the currency's minor unit) and splitting tax with split.
func NewCalculator(precision int32, split SplitPolicy) Calculator {
	if split == nil {
		split = EqualHalves{}
	}
	return Calculator{precision: precision, split: split}
}

func (c Calculator) Precision() int32 { return c.precision }

// Line prices one cart line. Tax is rounded half to even.
func (c Calculator) Line(in LineInput) (LineAmounts, error) {
	switch {
	case in.Quantity <= 0:
		return LineAmounts{}, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidInput, in.Quantity)
	case in.UnitPrice.IsNegative():
		return LineAmounts{}, fmt.Errorf("%w: unit price must not be negative", ErrInvalidInput)
	case in.TaxRatePercent.IsNegative():
		return LineAmounts{}, fmt.Errorf("%w: tax rate must not be negative", ErrInvalidInput)
	case in.Discount.IsNegative():
		return LineAmounts{}, fmt.Errorf("%w: discount must not be negative", ErrInvalidInput)
	case !c.representable(in.UnitPrice):
		return LineAmounts{}, fmt.Errorf("%w: unit price %s has more than %d decimals", ErrInvalidInput, in.UnitPrice, c.precision)
	case !c.representable(in.Discount):
		return LineAmounts{}, fmt.Errorf("%w: discount %s has more than %d decimals", ErrInvalidInput, in.Discount, c.precision)
	}

	gross := in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))
	if in.Discount.GreaterThan(gross) {
		return LineAmounts{}, fmt.Errorf("%w: discount %s exceeds line amount %s", ErrInvalidInput, in.Discount, gross)
	}

	subtotal := gross.Sub(in.Discount)
	if subtotal.IsNegative() {
		subtotal = decimal.Zero
	}
	tax := subtotal.Mul(in.TaxRatePercent).Div(hundred).RoundBank(c.precision)

	return LineAmounts{
		Gross:      gross,
		Discount:   in.Discount,
		Subtotal:   subtotal,
		Tax:        tax,
		Total:      subtotal.Add(tax),
		Components: c.split.Split(tax, c.precision),
	}, nil
}

// Order sums line amounts. There is no order-level rounding, so the totals
// always equal the sum of the lines.
func (c Calculator) Order(lines []LineAmounts) Totals {
	t := Totals{
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
		Tax:      decimal.Zero,
		Total:    decimal.Zero,
	}
	for _, l := range lines {
		t.Subtotal = t.Subtotal.Add(l.Gross)
		t.Discount = t.Discount.Add(l.Discount)
		t.Tax = t.Tax.Add(l.Tax)
		t.Total = t.Total.Add(l.Total)
	}
	return t
}

func (c Calculator) representable(d decimal.Decimal) bool {
	return d.Equal(d.Round(c.precision))
}
