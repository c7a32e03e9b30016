package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/POS-Sale-System/internal/inventory/domain"
)

// Entry describes one stock change. Quantity is always positive; the
// direction comes from the ledger call.
type Entry struct {
	ProductID string
	Quantity  int
	Kind      domain.MovementKind
	SaleID    string
	Reference string
	Reason    string
}

// Ledger owns quantity-on-hand. Every change goes through the caller's
// transaction together with its movement record; the ledger holds no state
// of its own and does not deduplicate.
type Ledger struct {
	newID func() string
	now   func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		newID: func() string { return uuid.NewString() },
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ReserveAndDecrement takes e.Quantity units for a sale. When fewer are on
// hand it returns *domain.OutOfStockError and changes nothing.
func (l *Ledger) ReserveAndDecrement(ctx context.Context, tx StockTx, e Entry) (int, error) {
	e.Kind = domain.MovementSale
	return l.remove(ctx, tx, e)
}

// Remove takes stock out for damage, transfer or a downward adjustment.
func (l *Ledger) Remove(ctx context.Context, tx StockTx, e Entry) (int, error) {
	if e.Kind == domain.MovementSale || !e.Kind.Outbound() {
		return 0, fmt.Errorf("%w: kind %q cannot remove stock", domain.ErrInvalidMovement, e.Kind)
	}
	return l.remove(ctx, tx, e)
}

// Increment adds stock for a purchase, return or upward adjustment.
func (l *Ledger) Increment(ctx context.Context, tx StockTx, e Entry) (int, error) {
	if !e.Kind.Inbound() {
		return 0, fmt.Errorf("%w: kind %q cannot add stock", domain.ErrInvalidMovement, e.Kind)
	}
	if err := checkQuantity(e.Quantity); err != nil {
		return 0, err
	}

	level, err := tx.IncrementStock(ctx, e.ProductID, e.Quantity)
	if err != nil {
		return 0, err
	}
	if err := tx.AppendMovement(ctx, l.movement(e, e.Quantity)); err != nil {
		return 0, err
	}
	return level, nil
}

func (l *Ledger) remove(ctx context.Context, tx StockTx, e Entry) (int, error) {
	if err := checkQuantity(e.Quantity); err != nil {
		return 0, err
	}

	level, ok, err := tx.DecrementStock(ctx, e.ProductID, e.Quantity)
	if err != nil {
		return 0, err
	}
	if !ok {
		return level, &domain.OutOfStockError{ProductID: e.ProductID, Requested: e.Quantity, Available: level}
	}
	if err := tx.AppendMovement(ctx, l.movement(e, -e.Quantity)); err != nil {
		return 0, err
	}
	return level, nil
}

func (l *Ledger) movement(e Entry, delta int) domain.StockMovement {
	return domain.StockMovement{
		ID:        l.newID(),
		ProductID: e.ProductID,
		Quantity:  delta,
		Kind:      e.Kind,
		SaleID:    e.SaleID,
		Reference: e.Reference,
		Reason:    e.Reason,
		CreatedAt: l.now(),
	}
}

func checkQuantity(q int) error {
	if q <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrInvalidMovement, q)
	}
	if q > domain.MaxQuantity {
		return fmt.Errorf("%w: quantity %d exceeds %d", domain.ErrInvalidMovement, q, domain.MaxQuantity)
	}
	return nil
}
