package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	catalog "github.com/dmehra2102/POS-Sale-System/internal/catalog/domain"
	invapp "github.com/dmehra2102/POS-Sale-System/internal/inventory/application"
	invdomain "github.com/dmehra2102/POS-Sale-System/internal/inventory/domain"
	loyaltydomain "github.com/dmehra2102/POS-Sale-System/internal/loyalty/domain"
	saleapp "github.com/dmehra2102/POS-Sale-System/internal/sale/application"
	saledomain "github.com/dmehra2102/POS-Sale-System/internal/sale/domain"
	"github.com/dmehra2102/POS-Sale-System/pkg/outbox"
	"github.com/dmehra2102/POS-Sale-System/pkg/txn"
)

//go:embed schema.sql
var schema string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *Store) UpsertProduct(ctx context.Context, p catalog.Product) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO products (id, sku, name, unit_price, tax_rate, stock)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET sku=$2, name=$3, unit_price=$4, tax_rate=$5, stock=$6, updated_at=now()`,
		p.ID, p.SKU, p.Name, p.UnitPrice, p.TaxRatePercent, p.Stock)
	return err
}

func (s *Store) UpsertCustomer(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO customer_loyalty (customer_id) VALUES ($1) ON CONFLICT (customer_id) DO NOTHING`, id)
	return err
}

func (s *Store) Begin(ctx context.Context) (saleapp.Tx, error) {
	return s.begin(ctx)
}

func (s *Store) BeginStock(ctx context.Context) (invapp.Tx, error) {
	return s.begin(ctx)
}

func (s *Store) begin(ctx context.Context) (*Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, mapErr(err)
	}
	return &Tx{tx: tx}, nil
}

func (s *Store) StockLevel(ctx context.Context, productID string) (int, error) {
	var level int
	err := s.pool.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, productID).Scan(&level)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", catalog.ErrProductNotFound, productID)
	}
	return level, err
}

func (s *Store) ListMovements(ctx context.Context, productID string, limit int) ([]invdomain.StockMovement, error) {
	if _, err := s.StockLevel(ctx, productID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT id, product_id, quantity, kind, COALESCE(sale_id, ''), reference, reason, created_at
		FROM stock_movements WHERE product_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]invdomain.StockMovement, 0)
	for rows.Next() {
		var m invdomain.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Quantity, &m.Kind, &m.SaleID, &m.Reference, &m.Reason, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetLoyalty(ctx context.Context, customerID string) (loyaltydomain.CustomerLoyalty, error) {
	return getLoyalty(ctx, s.pool, customerID)
}

func (s *Store) GetSale(ctx context.Context, id string) (saledomain.Sale, error) {
	return loadSale(ctx, s.pool, id, "")
}

// Tx is a serializable transaction.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	var p catalog.Product
	err := t.tx.QueryRow(ctx, `SELECT id, sku, name, unit_price, tax_rate, stock FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.UnitPrice, &p.TaxRatePercent, &p.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, fmt.Errorf("%w: %s", catalog.ErrProductNotFound, id)
	}
	return p, mapErr(err)
}

func (t *Tx) DecrementStock(ctx context.Context, productID string, qty int) (int, bool, error) {
	var level int
	err := t.tx.QueryRow(ctx, `UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id=$1 AND stock >= $2 RETURNING stock`, productID, qty).Scan(&level)
	if err == nil {
		return level, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, mapErr(err)
	}

	err = t.tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&level)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("%w: %s", catalog.ErrProductNotFound, productID)
	}
	if err != nil {
		return 0, false, mapErr(err)
	}
	return level, false, nil
}

func (t *Tx) IncrementStock(ctx context.Context, productID string, qty int) (int, error) {
	var level int
	err := t.tx.QueryRow(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id=$1 RETURNING stock`, productID, qty).Scan(&level)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", catalog.ErrProductNotFound, productID)
	}
	return level, mapErr(err)
}

func (t *Tx) AppendMovement(ctx context.Context, m invdomain.StockMovement) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_movements (id, product_id, quantity, kind, sale_id, reference, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.ProductID, m.Quantity, string(m.Kind), nullIfEmpty(m.SaleID), m.Reference, m.Reason, m.CreatedAt)
	return mapErr(err)
}

func (t *Tx) AccrueLoyalty(ctx context.Context, customerID string, amount decimal.Decimal, points int64) (loyaltydomain.CustomerLoyalty, error) {
	var l loyaltydomain.CustomerLoyalty
	err := t.tx.QueryRow(ctx, `UPDATE customer_loyalty
		SET total_purchases = total_purchases + $2, points = points + $3, updated_at = now()
		WHERE customer_id=$1
		RETURNING customer_id, total_purchases, points, updated_at`, customerID, amount, points).
		Scan(&l.CustomerID, &l.TotalPurchases, &l.Points, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return loyaltydomain.CustomerLoyalty{}, fmt.Errorf("%w: %s", loyaltydomain.ErrCustomerNotFound, customerID)
	}
	return l, mapErr(err)
}

func (t *Tx) NextSaleNumber(ctx context.Context) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `SELECT nextval('sale_number_seq')`).Scan(&seq)
	return seq, mapErr(err)
}

func (t *Tx) InsertSale(ctx context.Context, s saledomain.Sale) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO sales (id, sale_number, customer_id, subtotal, tax_amount, discount_amount, grand_total, payment_method, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		s.ID, s.Number, nullIfEmpty(s.CustomerID), s.Subtotal, s.TaxAmount, s.DiscountAmount, s.GrandTotal, string(s.PaymentMethod), string(s.Status), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}

	batch := &pgx.Batch{}
	for i, l := range s.Lines {
		components, err := json.Marshal(l.TaxComponents)
		if err != nil {
			return err
		}
		batch.Queue(`INSERT INTO sale_lines (sale_id, position, product_id, name, quantity, unit_price, tax_rate, subtotal, discount, tax_amount, tax_components, line_total, refunded_quantity)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			s.ID, i, l.ProductID, l.Name, l.Quantity, l.UnitPrice, l.TaxRatePercent, l.Subtotal, l.Discount, l.TaxAmount, components, l.LineTotal, l.RefundedQuantity)
	}
	return mapErr(t.tx.SendBatch(ctx, batch).Close())
}

func (t *Tx) GetSaleForUpdate(ctx context.Context, id string) (saledomain.Sale, error) {
	s, err := loadSale(ctx, t.tx, id, "FOR UPDATE")
	return s, mapErr(err)
}

func (t *Tx) UpdateSale(ctx context.Context, s saledomain.Sale) error {
	ct, err := t.tx.Exec(ctx, `UPDATE sales SET status=$2, updated_at=$3 WHERE id=$1`, s.ID, string(s.Status), s.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", saledomain.ErrSaleNotFound, s.ID)
	}

	batch := &pgx.Batch{}
	for i, l := range s.Lines {
		batch.Queue(`UPDATE sale_lines SET refunded_quantity=$3 WHERE sale_id=$1 AND position=$2`, s.ID, i, l.RefundedQuantity)
	}
	return mapErr(t.tx.SendBatch(ctx, batch).Close())
}

func (t *Tx) AppendOutbox(ctx context.Context, e outbox.Event) error {
	headers := e.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,'pending',$7)`,
		e.AggregateType, e.AggregateID, e.Type, e.Payload, headers, e.Traceparent, e.CreatedAt)
	return mapErr(err)
}

func (t *Tx) Commit(ctx context.Context) error {
	return mapErr(t.tx.Commit(ctx))
}

// Rollback is safe after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func getLoyalty(ctx context.Context, q querier, customerID string) (loyaltydomain.CustomerLoyalty, error) {
	var l loyaltydomain.CustomerLoyalty
	err := q.QueryRow(ctx, `SELECT customer_id, total_purchases, points, updated_at FROM customer_loyalty WHERE customer_id=$1`, customerID).
		Scan(&l.CustomerID, &l.TotalPurchases, &l.Points, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return loyaltydomain.CustomerLoyalty{}, fmt.Errorf("%w: %s", loyaltydomain.ErrCustomerNotFound, customerID)
	}
	return l, err
}

func loadSale(ctx context.Context, q querier, id, lock string) (saledomain.Sale, error) {
	var (
		s          saledomain.Sale
		customerID *string
	)
	err := q.QueryRow(ctx, `SELECT id, sale_number, customer_id, subtotal, tax_amount, discount_amount, grand_total, payment_method, status, created_at, updated_at
		FROM sales WHERE id=$1 `+lock, id).
		Scan(&s.ID, &s.Number, &customerID, &s.Subtotal, &s.TaxAmount, &s.DiscountAmount, &s.GrandTotal, &s.PaymentMethod, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return saledomain.Sale{}, fmt.Errorf("%w: %s", saledomain.ErrSaleNotFound, id)
	}
	if err != nil {
		return saledomain.Sale{}, err
	}
	if customerID != nil {
		s.CustomerID = *customerID
	}

	rows, err := q.Query(ctx, `SELECT product_id, name, quantity, unit_price, tax_rate, subtotal, discount, tax_amount, tax_components, line_total, refunded_quantity
		FROM sale_lines WHERE sale_id=$1 ORDER BY position`, id)
	if err != nil {
		return saledomain.Sale{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l          saledomain.Line
			components []byte
		)
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Quantity, &l.UnitPrice, &l.TaxRatePercent, &l.Subtotal, &l.Discount, &l.TaxAmount, &components, &l.LineTotal, &l.RefundedQuantity); err != nil {
			return saledomain.Sale{}, err
		}
		if err := json.Unmarshal(components, &l.TaxComponents); err != nil {
			return saledomain.Sale{}, err
		}
		s.Lines = append(s.Lines, l)
	}
	return s, rows.Err()
}

// mapErr marks serialization failures and deadlocks as txn.ErrConflict.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", txn.ErrConflict, pgErr.Message)
		}
	}
	return err
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
