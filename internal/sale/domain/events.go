package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AggregateType      = "sale"
	EventSaleCompleted = "SaleCompleted"
	EventSaleRefunded  = "SaleRefunded"
)

type EventLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type SaleCompleted struct {
	SaleID     string          `json:"sale_id"`
	SaleNumber string          `json:"sale_number"`
	CustomerID string          `json:"customer_id,omitempty"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	Lines      []EventLine     `json:"lines"`
	CreatedAt  time.Time       `json:"created_at"`
}

type SaleRefunded struct {
	SaleID     string          `json:"sale_id"`
	SaleNumber string          `json:"sale_number"`
	Status     Status          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	Lines      []EventLine     `json:"lines"`
	Reason     string          `json:"reason,omitempty"`
}
