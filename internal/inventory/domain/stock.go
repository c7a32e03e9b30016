package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// MaxQuantity bounds a single movement to what the stock column can hold.
const MaxQuantity = math.MaxInt32

type MovementKind string

const (
	MovementSale       MovementKind = "sale"
	MovementPurchase   MovementKind = "purchase"
	MovementReturn     MovementKind = "return"
	MovementAdjustment MovementKind = "adjustment"
	MovementDamage     MovementKind = "damage"
	MovementTransfer   MovementKind = "transfer"
)

func ParseMovementKind(s string) (MovementKind, error) {
	k := MovementKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case MovementSale, MovementPurchase, MovementReturn, MovementAdjustment, MovementDamage, MovementTransfer:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown movement kind %q", ErrInvalidMovement, s)
}

// Inbound reports whether the kind may add stock.
func (k MovementKind) Inbound() bool {
	return k == MovementPurchase || k == MovementReturn || k == MovementAdjustment
}

// Outbound reports whether the kind may remove stock.
func (k MovementKind) Outbound() bool {
	return k == MovementSale || k == MovementDamage || k == MovementTransfer || k == MovementAdjustment
}

// StockMovement is one append-only audit entry. Quantity is signed:
// negative for stock leaving, positive for stock arriving.
type StockMovement struct {
	ID        string       `json:"id"`
	ProductID string       `json:"product_id"`
	Quantity  int          `json:"quantity"`
	Kind      MovementKind `json:"kind"`
	SaleID    string       `json:"sale_id,omitempty"`
	Reference string       `json:"reference,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

var ErrInvalidMovement = errors.New("invalid stock movement")

type OutOfStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %s out of stock: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}
