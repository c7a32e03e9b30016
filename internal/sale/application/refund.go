package application

import (
	"context"
	"errors"
	"fmt"
	"sort"

	catalog "github.com/dmehra2102/POS-Sale-System/internal/catalog/domain"
	inventory "github.com/dmehra2102/POS-Sale-System/internal/inventory/application"
	invdomain "github.com/dmehra2102/POS-Sale-System/internal/inventory/domain"
	"github.com/dmehra2102/POS-Sale-System/internal/sale/domain"
	"github.com/dmehra2102/POS-Sale-System/pkg/outbox"
	"github.com/dmehra2102/POS-Sale-System/pkg/tracing"
	"github.com/dmehra2102/POS-Sale-System/pkg/txn"
)

// Refund returns stock for the requested lines, moves the sale to
// PartiallyRefunded or Refunded and emits SaleRefunded, all in one
// transaction. Loyalty already accrued is kept.
func (o *Orchestrator) Refund(ctx context.Context, req domain.RefundRequest) (domain.RefundResult, error) {
	if req.SaleID == "" {
		return domain.RefundResult{}, &domain.Error{Kind: domain.KindInvalidInput, Message: "sale id is required"}
	}
	traceparent := tracing.Traceparent(ctx)

	res, err := txn.Run(ctx, o.retryPolicy("refund_sale"), o.txm.Begin, func(ctx context.Context, tx Tx) (domain.RefundResult, error) {
		return o.refund(ctx, tx, req, traceparent)
	}, isCallerError)
	if err != nil {
		return domain.RefundResult{}, o.failure("refund sale", err)
	}

	o.log.Info("sale refunded", "sale_id", res.SaleID, "sale_number", res.SaleNumber, "status", res.Status, "amount", res.Amount.String())
	return res, nil
}

func (o *Orchestrator) refund(ctx context.Context, tx Tx, req domain.RefundRequest, traceparent string) (domain.RefundResult, error) {
	sale, err := tx.GetSaleForUpdate(ctx, req.SaleID)
	if errors.Is(err, domain.ErrSaleNotFound) {
		return domain.RefundResult{}, &domain.Error{Kind: domain.KindSaleNotFound, SaleID: req.SaleID, Message: fmt.Sprintf("sale %s not found", req.SaleID), Err: err}
	}
	if err != nil {
		return domain.RefundResult{}, err
	}

	allocs, err := sale.PlanRefund(req.Lines, o.calc.Precision())
	if err != nil {
		return domain.RefundResult{}, err
	}

	returns := append([]domain.Allocation(nil), allocs...)
	sort.SliceStable(returns, func(a, b int) bool { return returns[a].ProductID < returns[b].ProductID })
	for _, a := range returns {
		_, err := o.stock.Increment(ctx, tx, inventory.Entry{
			ProductID: a.ProductID,
			Quantity:  a.Quantity,
			Kind:      invdomain.MovementReturn,
			SaleID:    sale.ID,
			Reference: sale.Number,
			Reason:    req.Reason,
		})
		if errors.Is(err, catalog.ErrProductNotFound) {
			return domain.RefundResult{}, productNotFound(a.Line, a.ProductID, err)
		}
		if err != nil {
			return domain.RefundResult{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.RefundResult{}, err
	}

	updated := sale.Clone()
	updated.ApplyRefund(allocs)
	updated.UpdatedAt = o.now()
	if err := tx.UpdateSale(ctx, updated); err != nil {
		return domain.RefundResult{}, err
	}

	amount := domain.RefundTotal(allocs)
	lines := make([]domain.EventLine, 0, len(allocs))
	for _, a := range allocs {
		lines = append(lines, domain.EventLine{ProductID: a.ProductID, Quantity: a.Quantity})
	}
	payload := domain.SaleRefunded{
		SaleID:     updated.ID,
		SaleNumber: updated.Number,
		Status:     updated.Status,
		Amount:     amount,
		Lines:      lines,
		Reason:     req.Reason,
	}
	ev, err := outbox.NewEvent(domain.AggregateType, updated.ID, domain.EventSaleRefunded, payload, map[string]string{"source": "pos-service"}, traceparent)
	if err != nil {
		return domain.RefundResult{}, err
	}
	if err := tx.AppendOutbox(ctx, ev); err != nil {
		return domain.RefundResult{}, err
	}

	return domain.RefundResult{
		SaleID:      updated.ID,
		SaleNumber:  updated.Number,
		Status:      updated.Status,
		Allocations: allocs,
		Amount:      amount,
	}, ctx.Err()
}
