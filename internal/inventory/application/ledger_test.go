package application_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalog "github.com/dmehra2102/POS-Sale-System/internal/catalog/domain"
	"github.com/dmehra2102/POS-Sale-System/internal/inventory/application"
	"github.com/dmehra2102/POS-Sale-System/internal/inventory/domain"
	"github.com/dmehra2102/POS-Sale-System/internal/storage/memory"
	"github.com/dmehra2102/POS-Sale-System/pkg/txn"
)

func seeded(stock int) *memory.Store {
	s := memory.New()
	s.PutProduct(catalog.Product{ID: "P1", Name: "Coffee", UnitPrice: decimal.NewFromInt(100), Stock: stock})
	return s
}

func TestReserveAndDecrement(t *testing.T) {
	ctx := context.Background()
	store := seeded(3)
	l := application.NewLedger()

	tx, err := store.BeginStock(ctx)
	require.NoError(t, err)

	level, err := l.ReserveAndDecrement(ctx, tx, application.Entry{ProductID: "P1", Quantity: 2, SaleID: "s-1", Kind: domain.MovementPurchase})
	require.NoError(t, err)
	assert.Equal(t, 1, level)

	_, err = l.ReserveAndDecrement(ctx, tx, application.Entry{ProductID: "P1", Quantity: 5})
	var oos *domain.OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, 5, oos.Requested)
	assert.Equal(t, 1, oos.Available)

	_, err = l.ReserveAndDecrement(ctx, tx, application.Entry{ProductID: "P1", Quantity: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidMovement)
	_, err = l.ReserveAndDecrement(ctx, tx, application.Entry{ProductID: "missing", Quantity: 1})
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)

	require.NoError(t, tx.Commit(ctx))

	moves, err := store.ListMovements(ctx, "P1", 10)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, domain.MovementSale, moves[0].Kind)
	assert.Equal(t, -2, moves[0].Quantity)
	assert.Equal(t, "s-1", moves[0].SaleID)
	assert.NotEmpty(t, moves[0].ID)
}

func TestRemoveAndIncrementKinds(t *testing.T) {
	ctx := context.Background()
	store := seeded(5)
	l := application.NewLedger()

	tx, err := store.BeginStock(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = l.Remove(ctx, tx, application.Entry{ProductID: "P1", Quantity: 1, Kind: domain.MovementSale})
	assert.ErrorIs(t, err, domain.ErrInvalidMovement)
	_, err = l.Remove(ctx, tx, application.Entry{ProductID: "P1", Quantity: 1, Kind: domain.MovementPurchase})
	assert.ErrorIs(t, err, domain.ErrInvalidMovement)
	_, err = l.Increment(ctx, tx, application.Entry{ProductID: "P1", Quantity: 1, Kind: domain.MovementDamage})
	assert.ErrorIs(t, err, domain.ErrInvalidMovement)
	_, err = l.Increment(ctx, tx, application.Entry{ProductID: "P1", Quantity: -1, Kind: domain.MovementPurchase})
	assert.ErrorIs(t, err, domain.ErrInvalidMovement)
	_, err = l.Increment(ctx, tx, application.Entry{ProductID: "P1", Quantity: domain.MaxQuantity + 1, Kind: domain.MovementPurchase})
	assert.ErrorIs(t, err, domain.ErrInvalidMovement)
	_, err = l.Remove(ctx, tx, application.Entry{ProductID: "P1", Quantity: domain.MaxQuantity + 1, Kind: domain.MovementDamage})
	assert.ErrorIs(t, err, domain.ErrInvalidMovement)

	level, err := l.Remove(ctx, tx, application.Entry{ProductID: "P1", Quantity: 2, Kind: domain.MovementDamage})
	require.NoError(t, err)
	assert.Equal(t, 3, level)
	level, err = l.Increment(ctx, tx, application.Entry{ProductID: "P1", Quantity: 4, Kind: domain.MovementReturn})
	require.NoError(t, err)
	assert.Equal(t, 7, level)
}

func TestServiceRecord(t *testing.T) {
	ctx := context.Background()
	store := seeded(2)
	svc := application.NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), store, store, application.NewLedger(), txn.DefaultPolicy())

	level, err := svc.Record(ctx, application.Change{ProductID: "P1", Kind: domain.MovementPurchase, Quantity: 10, Reference: "PO-1"})
	require.NoError(t, err)
	assert.Equal(t, 12, level)

	level, err = svc.Record(ctx, application.Change{ProductID: "P1", Kind: domain.MovementAdjustment, Quantity: -4, Reason: "stock take"})
	require.NoError(t, err)
	assert.Equal(t, 8, level)

	_, err = svc.Record(ctx, application.Change{ProductID: "P1", Kind: domain.MovementTransfer, Quantity: 9})
	var oos *domain.OutOfStockError
	require.ErrorAs(t, err, &oos)

	_, err = svc.Record(ctx, application.Change{ProductID: "P1", Kind: domain.MovementSale, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidMovement)

	snap, err := svc.Snapshot(ctx, "P1", 0)
	require.NoError(t, err)
	assert.Equal(t, 8, snap.Stock)
	require.Len(t, snap.Movements, 2)
	assert.Equal(t, -4, snap.Movements[0].Quantity)
	assert.Equal(t, domain.MovementAdjustment, snap.Movements[0].Kind)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, application.IsPermanent(&domain.OutOfStockError{}))
	assert.True(t, application.IsPermanent(catalog.ErrProductNotFound))
	assert.False(t, application.IsPermanent(txn.ErrConflict))
}

func TestParseMovementKind(t *testing.T) {
	k, err := domain.ParseMovementKind(" Damage ")
	require.NoError(t, err)
	assert.Equal(t, domain.MovementDamage, k)
	_, err = domain.ParseMovementKind("gift")
	assert.ErrorIs(t, err, domain.ErrInvalidMovement)
}
