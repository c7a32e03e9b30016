package application

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/POS-Sale-System/internal/loyalty/domain"
)

type fakeTx struct {
	rows  map[string]domain.CustomerLoyalty
	calls int
}

func (f *fakeTx) AccrueLoyalty(_ context.Context, id string, amount decimal.Decimal, points int64) (domain.CustomerLoyalty, error) {
	f.calls++
	row, ok := f.rows[id]
	if !ok {
		return domain.CustomerLoyalty{}, domain.ErrCustomerNotFound
	}
	row.TotalPurchases = row.TotalPurchases.Add(amount)
	row.Points += points
	f.rows[id] = row
	return row, nil
}

func (f *fakeTx) GetLoyalty(_ context.Context, id string) (domain.CustomerLoyalty, error) {
	row, ok := f.rows[id]
	if !ok {
		return domain.CustomerLoyalty{}, domain.ErrCustomerNotFound
	}
	return row, nil
}

func TestAccrueAddsTotalAndFlooredPoints(t *testing.T) {
	tx := &fakeTx{rows: map[string]domain.CustomerLoyalty{"c-1": {CustomerID: "c-1", TotalPurchases: decimal.RequireFromString("10.00"), Points: 3}}}
	l := NewLedger(domain.DefaultAccrualPolicy(), tx)

	got, err := l.Accrue(context.Background(), tx, "c-1", decimal.RequireFromString("236.99"))
	require.NoError(t, err)
	assert.True(t, got.TotalPurchases.Equal(decimal.RequireFromString("246.99")))
	assert.Equal(t, int64(5), got.Points)

	bal, err := l.Balance(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, got, bal)
}

func TestAccrueRejectsMissingCustomer(t *testing.T) {
	tx := &fakeTx{rows: map[string]domain.CustomerLoyalty{}}
	l := NewLedger(domain.DefaultAccrualPolicy(), tx)

	_, err := l.Accrue(context.Background(), tx, "", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, domain.ErrNoCustomer)
	assert.Zero(t, tx.calls)

	_, err = l.Accrue(context.Background(), tx, "ghost", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)

	_, err = l.Accrue(context.Background(), tx, "ghost", decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestAccrualPolicyPoints(t *testing.T) {
	p := domain.AccrualPolicy{Rate: decimal.RequireFromString("0.05")}
	assert.Equal(t, int64(0), p.Points(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1), p.Points(decimal.RequireFromString("20.00")))
	assert.Equal(t, int64(11), domain.DefaultAccrualPolicy().Points(decimal.RequireFromString("1199.99")))
}
