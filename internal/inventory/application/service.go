package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	catalog "github.com/dmehra2102/POS-Sale-System/internal/catalog/domain"
	"github.com/dmehra2102/POS-Sale-System/internal/inventory/domain"
	"github.com/dmehra2102/POS-Sale-System/pkg/txn"
)

// Change is a stock change outside a sale. Quantity is positive except for
// adjustments, where its sign selects the direction.
type Change struct {
	ProductID string
	Kind      domain.MovementKind
	Quantity  int
	Reference string
	Reason    string
}

type Snapshot struct {
	ProductID string                 `json:"product_id"`
	Stock     int                    `json:"stock"`
	Movements []domain.StockMovement `json:"movements"`
}

type Service struct {
	log    *slog.Logger
	txm    TxManager
	reader Reader
	ledger *Ledger
	policy txn.Policy
}

func NewService(log *slog.Logger, txm TxManager, reader Reader, ledger *Ledger, policy txn.Policy) *Service {
	return &Service{log: log, txm: txm, reader: reader, ledger: ledger, policy: policy}
}

// Record applies c in its own transaction and returns the new stock level.
func (s *Service) Record(ctx context.Context, c Change) (int, error) {
	e := Entry{ProductID: c.ProductID, Kind: c.Kind, Quantity: c.Quantity, Reference: c.Reference, Reason: c.Reason}

	var apply func(context.Context, StockTx, Entry) (int, error)
	switch {
	case c.Kind == domain.MovementSale:
		return 0, fmt.Errorf("%w: sale movements are recorded by sales", domain.ErrInvalidMovement)
	case c.Kind == domain.MovementAdjustment && c.Quantity < 0:
		e.Quantity = -c.Quantity
		apply = s.ledger.Remove
	case c.Kind.Inbound():
		apply = s.ledger.Increment
	case c.Kind.Outbound():
		apply = s.ledger.Remove
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidMovement, c.Kind)
	}

	level, err := txn.Run(ctx, s.policy, s.txm.BeginStock, func(ctx context.Context, tx Tx) (int, error) {
		return apply(ctx, tx, e)
	}, IsPermanent)
	if err != nil {
		return 0, err
	}

	s.log.Info("stock recorded", "product_id", c.ProductID, "kind", c.Kind, "quantity", c.Quantity, "stock", level)
	return level, nil
}

func (s *Service) Snapshot(ctx context.Context, productID string, limit int) (Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	level, err := s.reader.StockLevel(ctx, productID)
	if err != nil {
		return Snapshot{}, err
	}
	movements, err := s.reader.ListMovements(ctx, productID, limit)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{ProductID: productID, Stock: level, Movements: movements}, nil
}

// IsPermanent reports errors a retry cannot fix.
func IsPermanent(err error) bool {
	var oos *domain.OutOfStockError
	return errors.As(err, &oos) ||
		errors.Is(err, domain.ErrInvalidMovement) ||
		errors.Is(err, catalog.ErrProductNotFound)
}
