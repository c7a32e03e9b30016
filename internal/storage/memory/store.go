// Package memory is an in-process store for every context. Transactions are
// serialized: one is open at a time and works on a private copy that
// replaces the committed state on Commit.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	catalog "github.com/dmehra2102/POS-Sale-System/internal/catalog/domain"
	invapp "github.com/dmehra2102/POS-Sale-System/internal/inventory/application"
	invdomain "github.com/dmehra2102/POS-Sale-System/internal/inventory/domain"
	loyaltydomain "github.com/dmehra2102/POS-Sale-System/internal/loyalty/domain"
	saleapp "github.com/dmehra2102/POS-Sale-System/internal/sale/application"
	saledomain "github.com/dmehra2102/POS-Sale-System/internal/sale/domain"
	"github.com/dmehra2102/POS-Sale-System/pkg/outbox"
)

var ErrTxDone = errors.New("memory: transaction already finished")

const maxOutboxRetries = 5

type outboxRow struct {
	event      outbox.Event
	leaseUntil time.Time
}

type state struct {
	products  map[string]catalog.Product
	movements []invdomain.StockMovement
	loyalty   map[string]loyaltydomain.CustomerLoyalty
	sales     map[string]saledomain.Sale
	saleSeq   int64
	outbox    []outboxRow
	outboxSeq int64
}

func (s *state) clone() *state {
	return &state{
		products:  maps.Clone(s.products),
		movements: slices.Clone(s.movements),
		loyalty:   maps.Clone(s.loyalty),
		sales:     maps.Clone(s.sales),
		saleSeq:   s.saleSeq,
		outbox:    slices.Clone(s.outbox),
		outboxSeq: s.outboxSeq,
	}
}

type Store struct {
	// sem admits one writer at a time: a transaction or an outbox update.
	sem chan struct{}

	mu    sync.RWMutex
	state *state

	now func() time.Time
}

func New() *Store {
	return &Store{
		sem: make(chan struct{}, 1),
		state: &state{
			products: make(map[string]catalog.Product),
			loyalty:  make(map[string]loyaltydomain.CustomerLoyalty),
			sales:    make(map[string]saledomain.Sale),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded returns a store with a small demo catalog and one loyalty
// customer, for running without Postgres.
func NewSeeded() *Store {
	s := New()
	for _, p := range []catalog.Product{
		{ID: "p-coffee", SKU: "SKU-COFFEE-250", Name: "Ground Coffee 250g", UnitPrice: decimal.RequireFromString("100.00"), TaxRatePercent: decimal.NewFromInt(18), Stock: 120},
		{ID: "p-milk", SKU: "SKU-MILK-1L", Name: "Milk 1L", UnitPrice: decimal.RequireFromString("56.50"), TaxRatePercent: decimal.NewFromInt(5), Stock: 80},
		{ID: "p-bread", SKU: "SKU-BREAD-400", Name: "Bread 400g", UnitPrice: decimal.RequireFromString("45.00"), TaxRatePercent: decimal.Zero, Stock: 60},
		{ID: "p-soap", SKU: "SKU-SOAP-100", Name: "Bath Soap 100g", UnitPrice: decimal.RequireFromString("32.75"), TaxRatePercent: decimal.NewFromInt(12), Stock: 200},
	} {
		s.PutProduct(p)
	}
	s.PutCustomer("c-walkin-001")
	return s
}

// PutProduct creates or replaces a product, stock included.
func (s *Store) PutProduct(p catalog.Product) {
	_ = s.update(context.Background(), func(st *state) error {
		st.products[p.ID] = p
		return nil
	})
}

// PutCustomer creates an empty loyalty record if none exists.
func (s *Store) PutCustomer(id string) {
	_ = s.update(context.Background(), func(st *state) error {
		if _, ok := st.loyalty[id]; !ok {
			st.loyalty[id] = loyaltydomain.CustomerLoyalty{CustomerID: id, TotalPurchases: decimal.Zero, UpdatedAt: s.now()}
		}
		return nil
	})
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) Begin(ctx context.Context) (saleapp.Tx, error) {
	return s.begin(ctx)
}

func (s *Store) BeginStock(ctx context.Context) (invapp.Tx, error) {
	return s.begin(ctx)
}

func (s *Store) begin(ctx context.Context) (*Tx, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	return &Tx{store: s, state: s.snapshot().clone()}, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (catalog.Product, error) {
	p, ok := s.snapshot().products[id]
	if !ok {
		return catalog.Product{}, fmt.Errorf("%w: %s", catalog.ErrProductNotFound, id)
	}
	return p, nil
}

func (s *Store) StockLevel(ctx context.Context, productID string) (int, error) {
	p, err := s.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return p.Stock, nil
}

// ListMovements returns the newest movements for productID first.
func (s *Store) ListMovements(_ context.Context, productID string, limit int) ([]invdomain.StockMovement, error) {
	st := s.snapshot()
	if _, ok := st.products[productID]; !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrProductNotFound, productID)
	}
	out := make([]invdomain.StockMovement, 0)
	for i := len(st.movements) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if st.movements[i].ProductID == productID {
			out = append(out, st.movements[i])
		}
	}
	return out, nil
}

func (s *Store) GetLoyalty(_ context.Context, customerID string) (loyaltydomain.CustomerLoyalty, error) {
	l, ok := s.snapshot().loyalty[customerID]
	if !ok {
		return loyaltydomain.CustomerLoyalty{}, fmt.Errorf("%w: %s", loyaltydomain.ErrCustomerNotFound, customerID)
	}
	return l, nil
}

func (s *Store) GetSale(_ context.Context, id string) (saledomain.Sale, error) {
	sale, ok := s.snapshot().sales[id]
	if !ok {
		return saledomain.Sale{}, fmt.Errorf("%w: %s", saledomain.ErrSaleNotFound, id)
	}
	return sale.Clone(), nil
}

// Tx is a serialized transaction over a private copy of the store.
type Tx struct {
	store *Store
	state *state
	done  bool
}

func (t *Tx) check() error {
	if t.done {
		return ErrTxDone
	}
	return nil
}

func (t *Tx) GetProduct(_ context.Context, id string) (catalog.Product, error) {
	if err := t.check(); err != nil {
		return catalog.Product{}, err
	}
	p, ok := t.state.products[id]
	if !ok {
		return catalog.Product{}, fmt.Errorf("%w: %s", catalog.ErrProductNotFound, id)
	}
	return p, nil
}

func (t *Tx) DecrementStock(ctx context.Context, productID string, qty int) (int, bool, error) {
	p, err := t.GetProduct(ctx, productID)
	if err != nil {
		return 0, false, err
	}
	if p.Stock < qty {
		return p.Stock, false, nil
	}
	p.Stock -= qty
	t.state.products[productID] = p
	return p.Stock, true, nil
}

func (t *Tx) IncrementStock(ctx context.Context, productID string, qty int) (int, error) {
	p, err := t.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	p.Stock += qty
	t.state.products[productID] = p
	return p.Stock, nil
}

func (t *Tx) AppendMovement(_ context.Context, m invdomain.StockMovement) error {
	if err := t.check(); err != nil {
		return err
	}
	t.state.movements = append(t.state.movements, m)
	return nil
}

func (t *Tx) AccrueLoyalty(_ context.Context, customerID string, amount decimal.Decimal, points int64) (loyaltydomain.CustomerLoyalty, error) {
	if err := t.check(); err != nil {
		return loyaltydomain.CustomerLoyalty{}, err
	}
	l, ok := t.state.loyalty[customerID]
	if !ok {
		return loyaltydomain.CustomerLoyalty{}, fmt.Errorf("%w: %s", loyaltydomain.ErrCustomerNotFound, customerID)
	}
	l.TotalPurchases = l.TotalPurchases.Add(amount)
	l.Points += points
	l.UpdatedAt = t.store.now()
	t.state.loyalty[customerID] = l
	return l, nil
}

func (t *Tx) NextSaleNumber(_ context.Context) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	t.state.saleSeq++
	return t.state.saleSeq, nil
}

func (t *Tx) InsertSale(_ context.Context, s saledomain.Sale) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, exists := t.state.sales[s.ID]; exists {
		return fmt.Errorf("memory: sale %s already exists", s.ID)
	}
	t.state.sales[s.ID] = s.Clone()
	return nil
}

func (t *Tx) GetSaleForUpdate(_ context.Context, id string) (saledomain.Sale, error) {
	if err := t.check(); err != nil {
		return saledomain.Sale{}, err
	}
	s, ok := t.state.sales[id]
	if !ok {
		return saledomain.Sale{}, fmt.Errorf("%w: %s", saledomain.ErrSaleNotFound, id)
	}
	return s.Clone(), nil
}

func (t *Tx) UpdateSale(_ context.Context, s saledomain.Sale) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.state.sales[s.ID]; !ok {
		return fmt.Errorf("%w: %s", saledomain.ErrSaleNotFound, s.ID)
	}
	t.state.sales[s.ID] = s.Clone()
	return nil
}

func (t *Tx) AppendOutbox(_ context.Context, e outbox.Event) error {
	if err := t.check(); err != nil {
		return err
	}
	t.state.outboxSeq++
	e.ID = t.state.outboxSeq
	e.Status = outbox.StatusPending
	t.state.outbox = append(t.state.outbox, outboxRow{event: e})
	return nil
}

func (t *Tx) Commit(context.Context) error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true
	t.store.mu.Lock()
	t.store.state = t.state
	t.store.mu.Unlock()
	<-t.store.sem
	return nil
}

// Rollback discards the transaction. It is a no-op once the transaction has
// finished.
func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	<-t.store.sem
	return nil
}
