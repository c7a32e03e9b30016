package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalog "github.com/dmehra2102/POS-Sale-System/internal/catalog/domain"
	inventory "github.com/dmehra2102/POS-Sale-System/internal/inventory/application"
	invdomain "github.com/dmehra2102/POS-Sale-System/internal/inventory/domain"
	loyalty "github.com/dmehra2102/POS-Sale-System/internal/loyalty/application"
	loyaltydomain "github.com/dmehra2102/POS-Sale-System/internal/loyalty/domain"
	pricing "github.com/dmehra2102/POS-Sale-System/internal/pricing/domain"
	"github.com/dmehra2102/POS-Sale-System/internal/sale/application"
	"github.com/dmehra2102/POS-Sale-System/internal/sale/domain"
	"github.com/dmehra2102/POS-Sale-System/internal/storage/memory"
	"github.com/dmehra2102/POS-Sale-System/pkg/txn"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testPolicy() txn.Policy {
	return txn.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func seed() *memory.Store {
	s := memory.New()
	s.PutProduct(catalog.Product{ID: "P1", Name: "Coffee", UnitPrice: dec("100.00"), TaxRatePercent: dec("18"), Stock: 10})
	s.PutProduct(catalog.Product{ID: "P2", Name: "Milk", UnitPrice: dec("20.00"), TaxRatePercent: dec("5"), Stock: 3})
	s.PutCustomer("C1")
	return s
}

func newOrchestrator(store *memory.Store, txm application.TxManager) *application.Orchestrator {
	if txm == nil {
		txm = store
	}
	return application.NewOrchestrator(
		quietLogger(),
		txm,
		store,
		inventory.NewLedger(),
		loyalty.NewLedger(loyaltydomain.DefaultAccrualPolicy(), store),
		pricing.NewCalculator(2, pricing.EqualHalves{}),
		testPolicy(),
	)
}

func stock(t *testing.T, s *memory.Store, id string) int {
	t.Helper()
	n, err := s.StockLevel(context.Background(), id)
	require.NoError(t, err)
	return n
}

func requireKind(t *testing.T, err error, kind domain.Kind) *domain.Error {
	t.Helper()
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, kind, de.Kind, de.Message)
	return de
}

func cash(lines ...domain.CartLine) domain.SaleRequest {
	return domain.SaleRequest{Lines: lines, PaymentMethod: domain.PaymentCash}
}

func TestCreateSaleCommitsEverything(t *testing.T) {
	ctx := context.Background()
	store := seed()
	o := newOrchestrator(store, nil)

	res, err := o.CreateSale(ctx, cash(domain.CartLine{ProductID: "P1", Quantity: 2}))
	require.NoError(t, err)

	assert.Equal(t, "SALE-000001", res.SaleNumber)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.True(t, res.Subtotal.Equal(dec("200.00")))
	assert.True(t, res.TaxAmount.Equal(dec("36.00")))
	assert.True(t, res.DiscountAmount.IsZero())
	assert.True(t, res.GrandTotal.Equal(dec("236.00")))
	require.Len(t, res.Lines, 1)
	require.Len(t, res.Lines[0].TaxComponents, 2)
	assert.True(t, res.Lines[0].TaxComponents[0].Amount.Equal(dec("18.00")))
	assert.True(t, res.Lines[0].TaxComponents[1].Amount.Equal(dec("18.00")))

	assert.Equal(t, 8, stock(t, store, "P1"))

	moves, err := store.ListMovements(ctx, "P1", 10)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, -2, moves[0].Quantity)
	assert.Equal(t, invdomain.MovementSale, moves[0].Kind)
	assert.Equal(t, res.SaleID, moves[0].SaleID)

	saved, err := o.GetSale(ctx, res.SaleID)
	require.NoError(t, err)
	assert.True(t, saved.GrandTotal.Equal(res.GrandTotal))
	assert.Equal(t, domain.PaymentCash, saved.PaymentMethod)

	events, err := store.LockBatch(ctx, "test", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventSaleCompleted, events[0].Type)
	assert.Equal(t, res.SaleID, events[0].AggregateID)
	var payload domain.SaleCompleted
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, res.SaleNumber, payload.SaleNumber)
	assert.True(t, payload.GrandTotal.Equal(dec("236.00")))
}

func TestCreateSaleTotalsAreSumOfLines(t *testing.T) {
	store := seed()
	store.PutProduct(catalog.Product{ID: "P3", Name: "Soap", UnitPrice: dec("32.75"), TaxRatePercent: dec("12"), Stock: 50})
	o := newOrchestrator(store, nil)

	res, err := o.CreateSale(context.Background(), cash(
		domain.CartLine{ProductID: "P3", Quantity: 3, Discount: dec("1.25")},
		domain.CartLine{ProductID: "P2", Quantity: 1},
		domain.CartLine{ProductID: "P1", Quantity: 1, Discount: dec("10.00")},
	))
	require.NoError(t, err)

	sum := decimal.Zero
	for _, l := range res.Lines {
		sum = sum.Add(l.LineTotal)
	}
	assert.True(t, res.GrandTotal.Equal(sum))
	assert.True(t, res.GrandTotal.Equal(res.Subtotal.Sub(res.DiscountAmount).Add(res.TaxAmount)))
	assert.Equal(t, []string{"P3", "P2", "P1"}, []string{res.Lines[0].ProductID, res.Lines[1].ProductID, res.Lines[2].ProductID})
}

func TestCreateSaleOutOfStockChangesNothing(t *testing.T) {
	ctx := context.Background()
	store := seed()
	o := newOrchestrator(store, nil)

	_, err := o.CreateSale(ctx, cash(
		domain.CartLine{ProductID: "P1", Quantity: 1},
		domain.CartLine{ProductID: "P2", Quantity: 5},
	))
	de := requireKind(t, err, domain.KindOutOfStock)
	assert.Equal(t, "P2", de.ProductID)
	assert.Equal(t, 5, de.Requested)
	assert.Equal(t, 3, de.Available)

	assert.Equal(t, 10, stock(t, store, "P1"))
	assert.Equal(t, 3, stock(t, store, "P2"))
	moves, err := store.ListMovements(ctx, "P1", 10)
	require.NoError(t, err)
	assert.Empty(t, moves)

	events, err := store.LockBatch(ctx, "test", 10, time.Second)
	require.NoError(t, err)
	assert.Empty(t, events)

	res, err := o.CreateSale(ctx, cash(domain.CartLine{ProductID: "P2", Quantity: 3}))
	require.NoError(t, err)
	assert.Equal(t, "SALE-000001", res.SaleNumber)
	assert.Equal(t, 0, stock(t, store, "P2"))
}

func TestCreateSaleUnknownProduct(t *testing.T) {
	store := seed()
	o := newOrchestrator(store, nil)

	_, err := o.CreateSale(context.Background(), cash(
		domain.CartLine{ProductID: "P1", Quantity: 1},
		domain.CartLine{ProductID: "ghost", Quantity: 1},
	))
	de := requireKind(t, err, domain.KindProductNotFound)
	assert.Equal(t, "ghost", de.ProductID)
	require.NotNil(t, de.Line)
	assert.Equal(t, 1, *de.Line)
	assert.Equal(t, 10, stock(t, store, "P1"))
}

func TestCreateSaleUnknownCustomerRollsBackStock(t *testing.T) {
	store := seed()
	o := newOrchestrator(store, nil)

	req := cash(domain.CartLine{ProductID: "P1", Quantity: 2})
	req.CustomerID = "nobody"
	_, err := o.CreateSale(context.Background(), req)
	de := requireKind(t, err, domain.KindCustomerNotFound)
	assert.Equal(t, "nobody", de.CustomerID)
	assert.Equal(t, 10, stock(t, store, "P1"))
}

func TestCreateSaleAccruesLoyalty(t *testing.T) {
	ctx := context.Background()
	store := seed()
	o := newOrchestrator(store, nil)

	req := cash(domain.CartLine{ProductID: "P1", Quantity: 2})
	req.CustomerID = "C1"
	_, err := o.CreateSale(ctx, req)
	require.NoError(t, err)

	l, err := store.GetLoyalty(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, l.TotalPurchases.Equal(dec("236.00")))
	assert.Equal(t, int64(2), l.Points)
}

func TestCreateSaleValidation(t *testing.T) {
	store := seed()
	o := newOrchestrator(store, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  domain.SaleRequest
		line int
	}{
		{name: "no lines", req: cash(), line: -1},
		{name: "zero quantity", req: cash(domain.CartLine{ProductID: "P1", Quantity: 0}), line: 0},
		{name: "negative discount", req: cash(domain.CartLine{ProductID: "P1", Quantity: 1, Discount: dec("-1")}), line: 0},
		{name: "discount above gross", req: cash(domain.CartLine{ProductID: "P2", Quantity: 1}, domain.CartLine{ProductID: "P1", Quantity: 1, Discount: dec("100.01")}), line: 1},
		{name: "unknown payment", req: domain.SaleRequest{Lines: []domain.CartLine{{ProductID: "P1", Quantity: 1}}, PaymentMethod: "cheque"}, line: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.CreateSale(ctx, tt.req)
			de := requireKind(t, err, domain.KindInvalidInput)
			if tt.line >= 0 {
				require.NotNil(t, de.Line)
				assert.Equal(t, tt.line, *de.Line)
			}
		})
	}
	assert.Equal(t, 10, stock(t, store, "P1"))
	assert.Equal(t, 3, stock(t, store, "P2"))
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	store := seed()
	o := newOrchestrator(store, nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, oos  int
		numbers  = map[string]bool{}
		attempts = 20
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.CreateSale(context.Background(), cash(domain.CartLine{ProductID: "P1", Quantity: 1}))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if domain.KindOf(err) == domain.KindOutOfStock {
					oos++
				}
				return
			}
			ok++
			numbers[res.SaleNumber] = true
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, 10, oos)
	assert.Len(t, numbers, 10)
	assert.Equal(t, 0, stock(t, store, "P1"))
}

// flakyManager fails the first n commits with a serialization conflict.
type flakyManager struct {
	store *memory.Store
	mu    sync.Mutex
	n     int
	begun int
}

func (f *flakyManager) Begin(ctx context.Context) (application.Tx, error) {
	tx, err := f.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begun++
	if f.n > 0 {
		f.n--
		return conflictTx{tx}, nil
	}
	return tx, nil
}

type conflictTx struct{ application.Tx }

func (c conflictTx) Commit(ctx context.Context) error {
	_ = c.Tx.Rollback(ctx)
	return fmt.Errorf("could not serialize access: %w", txn.ErrConflict)
}

func TestCreateSaleRetriesConflicts(t *testing.T) {
	store := seed()
	fm := &flakyManager{store: store, n: 2}
	o := newOrchestrator(store, fm)

	res, err := o.CreateSale(context.Background(), cash(domain.CartLine{ProductID: "P1", Quantity: 4}))
	require.NoError(t, err)
	assert.Equal(t, 3, fm.begun)
	assert.Equal(t, "SALE-000001", res.SaleNumber)
	assert.Equal(t, 6, stock(t, store, "P1"))
}

func TestCreateSaleGivesUpAfterMaxAttempts(t *testing.T) {
	store := seed()
	fm := &flakyManager{store: store, n: 10}
	o := newOrchestrator(store, fm)

	_, err := o.CreateSale(context.Background(), cash(domain.CartLine{ProductID: "P1", Quantity: 4}))
	requireKind(t, err, domain.KindTransactionConflict)
	assert.Equal(t, 3, fm.begun)
	assert.Equal(t, 10, stock(t, store, "P1"))
}

type downManager struct{}

func (downManager) Begin(context.Context) (application.Tx, error) {
	return nil, errors.New("dial tcp 127.0.0.1:5432: connection refused")
}

func TestCreateSaleStorageDown(t *testing.T) {
	o := newOrchestrator(seed(), downManager{})

	_, err := o.CreateSale(context.Background(), cash(domain.CartLine{ProductID: "P1", Quantity: 1}))
	de := requireKind(t, err, domain.KindUnavailable)
	assert.NotContains(t, de.Message, "127.0.0.1")
}

func TestCreateSaleCancelled(t *testing.T) {
	store := seed()
	o := newOrchestrator(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.CreateSale(ctx, cash(domain.CartLine{ProductID: "P1", Quantity: 1}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, stock(t, store, "P1"))
}

func TestRefundFlow(t *testing.T) {
	ctx := context.Background()
	store := seed()
	o := newOrchestrator(store, nil)

	sale, err := o.CreateSale(ctx, cash(domain.CartLine{ProductID: "P1", Quantity: 2}))
	require.NoError(t, err)
	_, err = store.LockBatch(ctx, "drain", 10, time.Hour)
	require.NoError(t, err)

	part, err := o.Refund(ctx, domain.RefundRequest{SaleID: sale.SaleID, Lines: []domain.RefundLine{{ProductID: "P1", Quantity: 1}}, Reason: "damaged box"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyRefunded, part.Status)
	assert.True(t, part.Amount.Equal(dec("118.00")))
	assert.Equal(t, 9, stock(t, store, "P1"))

	moves, err := store.ListMovements(ctx, "P1", 1)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, invdomain.MovementReturn, moves[0].Kind)
	assert.Equal(t, 1, moves[0].Quantity)
	assert.Equal(t, "damaged box", moves[0].Reason)

	_, err = o.Refund(ctx, domain.RefundRequest{SaleID: sale.SaleID, Lines: []domain.RefundLine{{ProductID: "P1", Quantity: 2}}})
	requireKind(t, err, domain.KindInvalidInput)

	rest, err := o.Refund(ctx, domain.RefundRequest{SaleID: sale.SaleID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, rest.Status)
	assert.True(t, part.Amount.Add(rest.Amount).Equal(sale.GrandTotal))
	assert.Equal(t, 10, stock(t, store, "P1"))

	_, err = o.Refund(ctx, domain.RefundRequest{SaleID: sale.SaleID})
	requireKind(t, err, domain.KindInvalidTransition)

	saved, err := o.GetSale(ctx, sale.SaleID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, saved.Status)
	assert.Equal(t, 2, saved.Lines[0].RefundedQuantity)

	events, err := store.LockBatch(ctx, "test", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventSaleRefunded, events[0].Type)
}

func TestRefundAndGetUnknownSale(t *testing.T) {
	o := newOrchestrator(seed(), nil)

	_, err := o.Refund(context.Background(), domain.RefundRequest{SaleID: "missing"})
	requireKind(t, err, domain.KindSaleNotFound)
	_, err = o.GetSale(context.Background(), "missing")
	requireKind(t, err, domain.KindSaleNotFound)
}
