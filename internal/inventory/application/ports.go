package application

import (
	"context"

	"github.com/dmehra2102/POS-Sale-System/internal/inventory/domain"
)

// StockTx is the stock side of an open storage transaction. Implementations
// lock the product row for the rest of the transaction on first touch.
// Unknown products fail with catalog ErrProductNotFound.
type StockTx interface {
	// DecrementStock lowers stock by qty only if at least qty is on hand.
	// It returns the resulting level, or ok=false and the level observed.
	DecrementStock(ctx context.Context, productID string, qty int) (level int, ok bool, err error)
	IncrementStock(ctx context.Context, productID string, qty int) (int, error)
	AppendMovement(ctx context.Context, m domain.StockMovement) error
}

type Tx interface {
	StockTx
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type TxManager interface {
	BeginStock(ctx context.Context) (Tx, error)
}

type Reader interface {
	StockLevel(ctx context.Context, productID string) (int, error)
	ListMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)
}
