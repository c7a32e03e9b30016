package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedSale() Sale {
	return Sale{
		ID:     "s-1",
		Number: FormatNumber(42),
		Status: StatusCompleted,
		Lines: []Line{
			{ProductID: "P1", Quantity: 3, LineTotal: decimal.RequireFromString("100.00")},
			{ProductID: "P2", Quantity: 1, LineTotal: decimal.RequireFromString("9.99")},
		},
	}
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "SALE-000042", FormatNumber(42))
	assert.Equal(t, "SALE-1234567", FormatNumber(1234567))
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusCompleted))
	assert.True(t, StatusCompleted.CanTransition(StatusPartiallyRefunded))
	assert.True(t, StatusPartiallyRefunded.CanTransition(StatusRefunded))
	assert.False(t, StatusRefunded.CanTransition(StatusPartiallyRefunded))
	assert.False(t, StatusCancelled.CanTransition(StatusCompleted))
	assert.False(t, StatusCompleted.CanTransition(StatusPending))
}

func TestParsePaymentMethod(t *testing.T) {
	m, ok := ParsePaymentMethod(" Gift_Card ")
	require.True(t, ok)
	assert.Equal(t, PaymentGiftCard, m)
	_, ok = ParsePaymentMethod("cheque")
	assert.False(t, ok)
}

func TestPlanRefundProratesCumulatively(t *testing.T) {
	s := completedSale()

	total := decimal.Zero
	for range 3 {
		allocs, err := s.PlanRefund([]RefundLine{{ProductID: "P1", Quantity: 1}}, 2)
		require.NoError(t, err)
		require.Len(t, allocs, 1)
		total = total.Add(allocs[0].Amount)
		s.ApplyRefund(allocs)
	}
	assert.True(t, total.Equal(decimal.RequireFromString("100.00")), total.String())
	assert.Equal(t, StatusPartiallyRefunded, s.Status)

	allocs, err := s.PlanRefund(nil, 2)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, "P2", allocs[0].ProductID)
	assert.True(t, RefundTotal(allocs).Equal(decimal.RequireFromString("9.99")))
	s.ApplyRefund(allocs)
	assert.Equal(t, StatusRefunded, s.Status)

	_, err = s.PlanRefund(nil, 2)
	assert.Equal(t, KindInvalidTransition, KindOf(err))
}

func TestPlanRefundRejectsBadLines(t *testing.T) {
	s := completedSale()

	_, err := s.PlanRefund([]RefundLine{{ProductID: "P3", Quantity: 1}}, 2)
	assert.Equal(t, KindInvalidInput, KindOf(err))
	_, err = s.PlanRefund([]RefundLine{{ProductID: "P1", Quantity: 0}}, 2)
	assert.Equal(t, KindInvalidInput, KindOf(err))
	_, err = s.PlanRefund([]RefundLine{{ProductID: "P1", Quantity: 4}}, 2)
	assert.Equal(t, KindInvalidInput, KindOf(err))

	s.Status = StatusPending
	_, err = s.PlanRefund(nil, 2)
	assert.Equal(t, KindInvalidTransition, KindOf(err))
}

func TestCloneIsIndependent(t *testing.T) {
	s := completedSale()
	c := s.Clone()
	c.Lines[0].RefundedQuantity = 2
	assert.Zero(t, s.Lines[0].RefundedQuantity)
}

func TestErrorJSON(t *testing.T) {
	line := 1
	err := &Error{Kind: KindOutOfStock, Line: &line, ProductID: "P2", Requested: 5, Available: 3, Message: "insufficient stock"}
	body, mErr := json.Marshal(err)
	require.NoError(t, mErr)
	assert.JSONEq(t, `{"kind":"OutOfStock","message":"insufficient stock","product_id":"P2","line":1,"requested":5,"available":3}`, string(body))

	assert.Equal(t, KindUnavailable, KindOf(assert.AnError))
}

func TestValidateRequest(t *testing.T) {
	ok := SaleRequest{Lines: []CartLine{{ProductID: "P1", Quantity: 1}}, PaymentMethod: PaymentDigital}
	assert.NoError(t, ok.Validate())

	missing := SaleRequest{Lines: []CartLine{{Quantity: 1}}, PaymentMethod: PaymentCash}
	err := missing.Validate()
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindInvalidInput, e.Kind)
	require.NotNil(t, e.Line)
	assert.Equal(t, 0, *e.Line)
}

func TestValidateRejectsQuantityBeyondStorage(t *testing.T) {
	req := SaleRequest{
		Lines:         []CartLine{{ProductID: "P1", Quantity: 1}, {ProductID: "P2", Quantity: MaxLineQuantity + 1}},
		PaymentMethod: PaymentCash,
	}
	var e *Error
	require.ErrorAs(t, req.Validate(), &e)
	assert.Equal(t, KindInvalidInput, e.Kind)
	require.NotNil(t, e.Line)
	assert.Equal(t, 1, *e.Line)
	assert.Equal(t, "P2", e.ProductID)

	req.Lines[1].Quantity = MaxLineQuantity
	assert.NoError(t, req.Validate())
}
