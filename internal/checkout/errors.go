package checkout

import (
	"fmt"
	"strings"

	"github.com/ariefcatur/go-storefront/internal/validate"
)

// ValidationError is a malformed request. Nothing was written.
type ValidationError struct {
	Issues []validate.Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, is.Field+": "+is.Message)
	}
	return "invalid checkout request: " + strings.Join(parts, "; ")
}

type StockErrorKind int

const (
	StockNotFound StockErrorKind = iota + 1
	StockOut
	StockInsufficient
)

// StockError rejects a request because of catalog state. Nothing was written.
type StockError struct {
	Kind        StockErrorKind
	ProductID   int64
	ProductName string
	Requested   int
	Available   int
}

func (e *StockError) Error() string {
	switch e.Kind {
	case StockNotFound:
		return fmt.Sprintf("product %d not found", e.ProductID)
	case StockOut:
		return fmt.Sprintf("product %q is out of stock", e.ProductName)
	default:
		return fmt.Sprintf("requested quantity for %q exceeds available stock (%d)", e.ProductName, e.Available)
	}
}

type Op string

const (
	OpLookup      Op = "lookup products"
	OpCreateOrder Op = "create order"
	OpCreateItems Op = "create order items"
	OpPlaceOrder  Op = "place order"
)

// PersistenceError is a store failure after validation passed. Under the
// weak policy an order row may already exist.
type PersistenceError struct {
	Op      Op
	OrderID int64 // set when the order row was written before the failure
	Err     error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("checkout: %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// Message is safe to show to clients.
func (e *PersistenceError) Message() string {
	switch e.Op {
	case OpLookup:
		return "could not load products"
	case OpCreateOrder:
		return "could not create the order"
	case OpCreateItems:
		return "could not create the order items"
	default:
		return "could not place the order"
	}
}
