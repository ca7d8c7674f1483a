// Package checkout turns a cart into an order: it re-validates every line
// against live catalog data, snapshots server-side prices and adjusts stock.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/orders"
	"github.com/ariefcatur/go-storefront/internal/validate"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Policy selects how the writes after validation are carried out.
type Policy string

const (
	// PolicyTransactional writes order, items and stock in one transaction
	// with a compare-and-set decrement. Concurrent checkouts cannot oversell.
	PolicyTransactional Policy = "transactional"

	// PolicyWeak writes order and items unconditionally, then overwrites
	// stock per product from the validation snapshot. Stock write failures
	// are logged and ignored; concurrent checkouts can oversell.
	PolicyWeak Policy = "weak"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyTransactional, PolicyWeak:
		return p, nil
	default:
		return "", fmt.Errorf("unknown checkout policy %q", s)
	}
}

type Catalog interface {
	LookupForCheckout(ctx context.Context, ids []int64) ([]catalog.StockInfo, error)
}

type Orders interface {
	InsertOrder(ctx context.Context, c orders.Customer) (orders.Order, error)
	InsertItems(ctx context.Context, orderID int64, items []orders.NewItem) error
	SetStock(ctx context.Context, productID int64, stock int) error
	PlaceOrderTx(ctx context.Context, c orders.Customer, items []orders.NewItem) (orders.Order, error)
}

type Service struct {
	Catalog Catalog
	Orders  Orders
	Policy  Policy
	Logger  *slog.Logger

	v *validator.Validate
}

func NewService(cat Catalog, ord Orders, policy Policy) *Service {
	return &Service{
		Catalog: cat,
		Orders:  ord,
		Policy:  policy,
		Logger:  slog.Default().With("component", "checkout"),
		v:       validate.New(),
	}
}

type Result struct {
	Order orders.Order
	Items []orders.NewItem
	Total decimal.Decimal
}

// Validate checks the request shape only.
func (s *Service) Validate(req Request) error {
	if err := s.v.Struct(req); err != nil {
		return &ValidationError{Issues: validate.Issues(err)}
	}
	return nil
}

// Place validates req against the catalog and persists the order. Returned
// errors are *ValidationError, *StockError or *PersistenceError.
func (s *Service) Place(ctx context.Context, req Request) (Result, error) {
	if err := s.Validate(req); err != nil {
		return Result{}, err
	}

	infos, err := s.Catalog.LookupForCheckout(ctx, uniqueIDs(req.Items))
	if err != nil {
		return Result{}, &PersistenceError{Op: OpLookup, Err: err}
	}
	snapshot := make(map[int64]catalog.StockInfo, len(infos))
	for _, p := range infos {
		snapshot[p.ID] = p
	}

	items, err := priceLines(req.Items, snapshot)
	if err != nil {
		return Result{}, err
	}

	cust := orders.Customer{Name: req.CustomerName, Email: req.CustomerEmail, Address: req.Address}
	var order orders.Order
	if s.Policy == PolicyWeak {
		order, err = s.placeWeak(ctx, cust, items, snapshot)
	} else {
		order, err = s.placeTx(ctx, cust, items)
	}
	if err != nil {
		return Result{}, err
	}

	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return Result{Order: order, Items: items, Total: total}, nil
}

func uniqueIDs(items []Item) []int64 {
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	return ids
}

// priceLines checks every line in request order and attaches the catalog
// price. It performs no writes.
func priceLines(lines []Item, snapshot map[int64]catalog.StockInfo) ([]orders.NewItem, error) {
	out := make([]orders.NewItem, 0, len(lines))
	for _, l := range lines {
		p, ok := snapshot[l.ProductID]
		if !ok {
			return nil, &StockError{Kind: StockNotFound, ProductID: l.ProductID, Requested: l.Quantity}
		}
		if p.Stock <= 0 {
			return nil, &StockError{Kind: StockOut, ProductID: p.ID, ProductName: p.Name, Requested: l.Quantity}
		}
		if l.Quantity > p.Stock {
			return nil, &StockError{Kind: StockInsufficient, ProductID: p.ID, ProductName: p.Name,
				Requested: l.Quantity, Available: p.Stock}
		}
		out = append(out, orders.NewItem{ProductID: p.ID, Quantity: l.Quantity, UnitPrice: p.Price})
	}
	return out, nil
}

func (s *Service) placeTx(ctx context.Context, cust orders.Customer, items []orders.NewItem) (orders.Order, error) {
	o, err := s.Orders.PlaceOrderTx(ctx, cust, items)
	if err == nil {
		return o, nil
	}
	var short *orders.ShortfallError
	if errors.As(err, &short) {
		kind := StockInsufficient
		switch {
		case !short.Found:
			kind = StockNotFound
		case short.Available <= 0:
			kind = StockOut
		}
		return orders.Order{}, &StockError{Kind: kind, ProductID: short.ProductID, ProductName: short.ProductName,
			Requested: short.Requested, Available: short.Available}
	}
	return orders.Order{}, &PersistenceError{Op: OpPlaceOrder, Err: err}
}

func (s *Service) placeWeak(ctx context.Context, cust orders.Customer, items []orders.NewItem, snapshot map[int64]catalog.StockInfo) (orders.Order, error) {
	o, err := s.Orders.InsertOrder(ctx, cust)
	if err != nil {
		return orders.Order{}, &PersistenceError{Op: OpCreateOrder, Err: err}
	}
	if err := s.Orders.InsertItems(ctx, o.ID, items); err != nil {
		return orders.Order{}, &PersistenceError{Op: OpCreateItems, OrderID: o.ID, Err: err}
	}

	// The order already exists; a failed stock write is logged, not fatal.
	for _, d := range orders.SumByProduct(items) {
		next := snapshot[d.ProductID].Stock - d.Qty
		if err := s.Orders.SetStock(ctx, d.ProductID, next); err != nil {
			s.Logger.Warn("stock update failed, order kept",
				"order_id", o.ID, "product_id", d.ProductID, "stock", next, "error", err)
		}
	}
	return o, nil
}
