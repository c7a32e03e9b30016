package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	catalog "github.com/dmehra2102/POS-Sale-System/internal/catalog/domain"
	inventory "github.com/dmehra2102/POS-Sale-System/internal/inventory/application"
	invdomain "github.com/dmehra2102/POS-Sale-System/internal/inventory/domain"
	loyalty "github.com/dmehra2102/POS-Sale-System/internal/loyalty/application"
	loyaltydomain "github.com/dmehra2102/POS-Sale-System/internal/loyalty/domain"
	pricing "github.com/dmehra2102/POS-Sale-System/internal/pricing/domain"
	"github.com/dmehra2102/POS-Sale-System/internal/sale/domain"
	"github.com/dmehra2102/POS-Sale-System/pkg/outbox"
	"github.com/dmehra2102/POS-Sale-System/pkg/tracing"
	"github.com/dmehra2102/POS-Sale-System/pkg/txn"
)

// Orchestrator runs a sale as one all-or-nothing transaction: resolve
// products, price the lines, take stock, accrue loyalty, then persist the
// sale with its outbox event.
type Orchestrator struct {
	log     *slog.Logger
	txm     TxManager
	reader  Reader
	stock   *inventory.Ledger
	loyalty *loyalty.Ledger
	calc    pricing.Calculator
	policy  txn.Policy

	newID func() string
	now   func() time.Time
}

func NewOrchestrator(log *slog.Logger, txm TxManager, reader Reader, stock *inventory.Ledger, loyalty *loyalty.Ledger, calc pricing.Calculator, policy txn.Policy) *Orchestrator {
	return &Orchestrator{
		log:     log,
		txm:     txm,
		reader:  reader,
		stock:   stock,
		loyalty: loyalty,
		calc:    calc,
		policy:  policy,
		newID:   func() string { return uuid.NewString() },
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResult, error) {
	if err := req.Validate(); err != nil {
		return domain.SaleResult{}, err
	}
	req.PaymentMethod, _ = domain.ParsePaymentMethod(string(req.PaymentMethod))
	traceparent := tracing.Traceparent(ctx)

	sale, err := txn.Run(ctx, o.retryPolicy("create_sale"), o.txm.Begin, func(ctx context.Context, tx Tx) (domain.Sale, error) {
		return o.execute(ctx, tx, req, traceparent)
	}, isCallerError)
	if err != nil {
		return domain.SaleResult{}, o.failure("create sale", err)
	}

	o.log.Info("sale completed",
		"sale_id", sale.ID,
		"sale_number", sale.Number,
		"customer_id", sale.CustomerID,
		"grand_total", sale.GrandTotal.String(),
		"lines", len(sale.Lines),
	)
	return domain.NewResult(sale), nil
}

func (o *Orchestrator) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	s, err := o.reader.GetSale(ctx, id)
	if errors.Is(err, domain.ErrSaleNotFound) {
		return domain.Sale{}, &domain.Error{Kind: domain.KindSaleNotFound, SaleID: id, Message: fmt.Sprintf("sale %s not found", id), Err: err}
	}
	if err != nil {
		return domain.Sale{}, o.failure("get sale", err)
	}
	return s, nil
}

func (o *Orchestrator) execute(ctx context.Context, tx Tx, req domain.SaleRequest, traceparent string) (domain.Sale, error) {
	products := make([]catalog.Product, len(req.Lines))
	for i, l := range req.Lines {
		p, err := tx.GetProduct(ctx, l.ProductID)
		if errors.Is(err, catalog.ErrProductNotFound) {
			return domain.Sale{}, productNotFound(i, l.ProductID, err)
		}
		if err != nil {
			return domain.Sale{}, err
		}
		products[i] = p
	}
	if err := ctx.Err(); err != nil {
		return domain.Sale{}, err
	}

	lines := make([]domain.Line, len(req.Lines))
	amounts := make([]pricing.LineAmounts, len(req.Lines))
	for i, l := range req.Lines {
		p := products[i]
		a, err := o.calc.Line(pricing.LineInput{
			UnitPrice:      p.UnitPrice,
			Quantity:       l.Quantity,
			Discount:       l.Discount,
			TaxRatePercent: p.TaxRatePercent,
		})
		if err != nil {
			line := i
			return domain.Sale{}, &domain.Error{Kind: domain.KindInvalidInput, Line: &line, ProductID: l.ProductID, Message: fmt.Sprintf("line %d: %v", i, err), Err: err}
		}
		amounts[i] = a
		lines[i] = domain.Line{
			ProductID:      p.ID,
			Name:           p.Name,
			Quantity:       l.Quantity,
			UnitPrice:      p.UnitPrice,
			TaxRatePercent: p.TaxRatePercent,
			Subtotal:       a.Subtotal,
			Discount:       a.Discount,
			TaxAmount:      a.Tax,
			TaxComponents:  a.Components,
			LineTotal:      a.Total,
		}
	}
	totals := o.calc.Order(amounts)
	if err := ctx.Err(); err != nil {
		return domain.Sale{}, err
	}

	saleID := o.newID()
	for _, i := range reserveOrder(req.Lines) {
		l := req.Lines[i]
		_, err := o.stock.ReserveAndDecrement(ctx, tx, inventory.Entry{ProductID: l.ProductID, Quantity: l.Quantity, SaleID: saleID})
		var oos *invdomain.OutOfStockError
		switch {
		case errors.As(err, &oos):
			line := i
			return domain.Sale{}, &domain.Error{
				Kind:      domain.KindOutOfStock,
				Line:      &line,
				ProductID: oos.ProductID,
				Requested: oos.Requested,
				Available: oos.Available,
				Message:   fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", oos.ProductID, oos.Requested, oos.Available),
				Err:       err,
			}
		case errors.Is(err, catalog.ErrProductNotFound):
			return domain.Sale{}, productNotFound(i, l.ProductID, err)
		case err != nil:
			return domain.Sale{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.Sale{}, err
	}

	if req.CustomerID != "" {
		_, err := o.loyalty.Accrue(ctx, tx, req.CustomerID, totals.Total)
		if errors.Is(err, loyaltydomain.ErrCustomerNotFound) {
			return domain.Sale{}, &domain.Error{Kind: domain.KindCustomerNotFound, CustomerID: req.CustomerID, Message: fmt.Sprintf("customer %s not found", req.CustomerID), Err: err}
		}
		if err != nil {
			return domain.Sale{}, err
		}
		if err := ctx.Err(); err != nil {
			return domain.Sale{}, err
		}
	}

	seq, err := tx.NextSaleNumber(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	now := o.now()
	sale := domain.Sale{
		ID:             saleID,
		Number:         domain.FormatNumber(seq),
		CustomerID:     req.CustomerID,
		Lines:          lines,
		Subtotal:       totals.Subtotal,
		TaxAmount:      totals.Tax,
		DiscountAmount: totals.Discount,
		GrandTotal:     totals.Total,
		PaymentMethod:  req.PaymentMethod,
		Status:         domain.StatusCompleted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.InsertSale(ctx, sale); err != nil {
		return domain.Sale{}, err
	}

	payload := domain.SaleCompleted{
		SaleID:     sale.ID,
		SaleNumber: sale.Number,
		CustomerID: sale.CustomerID,
		GrandTotal: sale.GrandTotal,
		Lines:      eventLines(sale.Lines),
		CreatedAt:  sale.CreatedAt,
	}
	ev, err := outbox.NewEvent(domain.AggregateType, sale.ID, domain.EventSaleCompleted, payload, map[string]string{"source": "pos-service"}, traceparent)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := tx.AppendOutbox(ctx, ev); err != nil {
		return domain.Sale{}, err
	}
	return sale, ctx.Err()
}

// reserveOrder returns line indexes sorted by product id so that concurrent
// sales lock product rows in the same order.
func reserveOrder(lines []domain.CartLine) []int {
	idx := make([]int, len(lines))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return lines[idx[a]].ProductID < lines[idx[b]].ProductID
	})
	return idx
}

func eventLines(lines []domain.Line) []domain.EventLine {
	out := make([]domain.EventLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, domain.EventLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return out
}

func productNotFound(line int, productID string, err error) *domain.Error {
	return &domain.Error{Kind: domain.KindProductNotFound, Line: &line, ProductID: productID, Message: fmt.Sprintf("product %s not found", productID), Err: err}
}

func (o *Orchestrator) retryPolicy(op string) txn.Policy {
	p := o.policy
	if p.Notify == nil {
		p.Notify = func(err error, wait time.Duration) {
			o.log.Warn("retrying transaction", "op", op, "err", err, "wait", wait)
		}
	}
	return p
}

// isCallerError reports failures caused by the request itself. They are
// final and never retried.
func isCallerError(err error) bool {
	var e *domain.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind != domain.KindTransactionConflict && e.Kind != domain.KindUnavailable
}

// failure maps an error out of txn.Run to what callers see. Storage details
// go to the log only.
func (o *Orchestrator) failure(op string, err error) error {
	var de *domain.Error
	switch {
	case errors.As(err, &de):
		return de
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, txn.ErrConflict):
		o.log.Error(op+" gave up after conflicts", "attempts", o.policy.MaxAttempts, "err", err)
		return &domain.Error{Kind: domain.KindTransactionConflict, Message: "concurrent update conflict, retry the request", Err: err}
	default:
		o.log.Error(op+" failed", "err", err)
		return &domain.Error{Kind: domain.KindUnavailable, Message: "storage unavailable", Err: err}
	}
}
