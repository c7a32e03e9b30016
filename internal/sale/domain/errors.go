package domain

import (
	"encoding/json"
	"errors"
)

var ErrSaleNotFound = errors.New("sale not found")

type Kind string

const (
	KindInvalidInput        Kind = "InvalidInput"
	KindProductNotFound     Kind = "ProductNotFound"
	KindCustomerNotFound    Kind = "CustomerNotFound"
	KindOutOfStock          Kind = "OutOfStock"
	KindTransactionConflict Kind = "TransactionConflict"
	KindUnavailable         Kind = "Unavailable"
	KindSaleNotFound        Kind = "SaleNotFound"
	KindInvalidTransition   Kind = "InvalidTransition"
)

// Error is the structured failure of a sale operation. Kind is stable for
// programmatic callers; Message is for humans.
type Error struct {
	Kind       Kind
	Message    string
	ProductID  string
	CustomerID string
	SaleID     string
	// Line is the index of the offending request line, if any.
	Line      *int
	Requested int
	Available int
	Err       error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) MarshalJSON() ([]byte, error) {
	body := map[string]any{
		"kind":    e.Kind,
		"message": e.Error(),
	}
	if e.ProductID != "" {
		body["product_id"] = e.ProductID
	}
	if e.CustomerID != "" {
		body["customer_id"] = e.CustomerID
	}
	if e.SaleID != "" {
		body["sale_id"] = e.SaleID
	}
	if e.Line != nil {
		body["line"] = *e.Line
	}
	if e.Kind == KindOutOfStock || e.Requested != 0 {
		body["requested"] = e.Requested
		body["available"] = e.Available
	}
	return json.Marshal(body)
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnavailable.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnavailable
}

func invalidLine(line int, productID, msg string, cause error) *Error {
	return &Error{Kind: KindInvalidInput, Line: &line, ProductID: productID, Message: msg, Err: cause}
}
