package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type TaxComponent struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// SplitPolicy divides a rounded tax amount into named components whose sum
// is exactly the amount.
type SplitPolicy interface {
	Split(tax decimal.Decimal, precision int32) []TaxComponent
}

// EqualHalves splits tax into two halves, intra-state GST style. An odd
// minor unit goes to the first component.
type EqualHalves struct {
	First, Second string
}

func (p EqualHalves) Split(tax decimal.Decimal, precision int32) []TaxComponent {
	first, second := p.First, p.Second
	if first == "" {
		first = "CGST"
	}
	if second == "" {
		second = "SGST"
	}

	minor := tax.Shift(precision).IntPart()
	half := minor / 2
	rest := minor - half

	return []TaxComponent{
		{Name: first, Amount: decimal.New(rest, -precision)},
		{Name: second, Amount: decimal.New(half, -precision)},
	}
}

// Single keeps the tax as one component, e.g. IGST on inter-state supply.
type Single struct {
	Name string
}

func (p Single) Split(tax decimal.Decimal, _ int32) []TaxComponent {
	name := p.Name
	if name == "" {
		name = "IGST"
	}
	return []TaxComponent{{Name: name, Amount: tax}}
}

// ParseSplitPolicy maps the TAX_SPLIT setting to a policy.
func ParseSplitPolicy(name string) (SplitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "equal":
		return EqualHalves{}, nil
	case "single":
		return Single{}, nil
	default:
		return nil, fmt.Errorf("unknown tax split policy %q", name)
	}
}
