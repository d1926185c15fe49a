package repositories

import (
	"errors"
	"fmt"
)

// StockErrorCode enumerates ledger failure causes.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates quantity - sold_count fell below the requested amount at write time.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorProductNotFound indicates the product is absent from the addressed collection.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
)

// StockError wraps ledger failures with machine readable codes.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ProductID string
	Available int
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Code)
	if e.ProductID != "" {
		msg = fmt.Sprintf("%s (product %s)", msg, e.ProductID)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the product was missing.
func (e *StockError) IsNotFound() bool {
	return e != nil && e.Code == StockErrorProductNotFound
}

// IsConflict reports whether the conditional sale guard rejected the write.
func (e *StockError) IsConflict() bool {
	return e != nil && e.Code == StockErrorInsufficient
}

// IsUnavailable is always false; transport failures are reported by the backend error types.
func (e *StockError) IsUnavailable() bool { return false }

// NewStockError constructs a typed ledger error.
func NewStockError(op string, code StockErrorCode, productID string, available int, err error) *StockError {
	return &StockError{Op: op, Code: code, ProductID: productID, Available: available, Err: err}
}

// AsStockError extracts a StockError from the chain.
func AsStockError(err error) (*StockError, bool) {
	var stockErr *StockError
	if errors.As(err, &stockErr) {
		return stockErr, true
	}
	return nil, false
}
