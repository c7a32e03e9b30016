package application

import (
	"context"

	catalog "github.com/dmehra2102/POS-Sale-System/internal/catalog/domain"
	inventory "github.com/dmehra2102/POS-Sale-System/internal/inventory/application"
	loyalty "github.com/dmehra2102/POS-Sale-System/internal/loyalty/application"
	"github.com/dmehra2102/POS-Sale-System/internal/sale/domain"
	"github.com/dmehra2102/POS-Sale-System/pkg/outbox"
)

// Tx is one storage transaction spanning catalog, stock, loyalty, sales and
// the outbox. Nothing it writes is visible to others before Commit.
type Tx interface {
	inventory.StockTx
	loyalty.LoyaltyTx

	GetProduct(ctx context.Context, id string) (catalog.Product, error)
	NextSaleNumber(ctx context.Context) (int64, error)
	InsertSale(ctx context.Context, s domain.Sale) error
	// GetSaleForUpdate fails with domain.ErrSaleNotFound for unknown ids.
	GetSaleForUpdate(ctx context.Context, id string) (domain.Sale, error)
	// UpdateSale persists status, updated_at and per-line refunded quantities.
	UpdateSale(ctx context.Context, s domain.Sale) error
	AppendOutbox(ctx context.Context, e outbox.Event) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type TxManager interface {
	Begin(ctx context.Context) (Tx, error)
}

type Reader interface {
	GetSale(ctx context.Context, id string) (domain.Sale, error)
}
