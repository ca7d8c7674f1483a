package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type Repo struct{ DB *pgxpool.Pool }

// dbtx is satisfied by both the pool and a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SumByProduct folds lines for the same product together, keeping the order
// in which products first appear.
func SumByProduct(items []NewItem) []ItemQty {
	idx := make(map[int64]int, len(items))
	out := make([]ItemQty, 0, len(items))
	for _, it := range items {
		if i, ok := idx[it.ProductID]; ok {
			out[i].Qty += it.Quantity
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}
	return out
}

func insertOrder(ctx context.Context, db dbtx, c Customer) (Order, error) {
	o := Order{CustomerName: c.Name, CustomerEmail: c.Email, Address: c.Address}
	err := db.QueryRow(ctx, `
		INSERT INTO orders(customer_name, customer_email, address)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`, c.Name, c.Email, c.Address,
	).Scan(&o.ID, &o.CreatedAt)
	return o, err
}

// insertItems writes all lines in a single statement.
func insertItems(ctx context.Context, db dbtx, orderID int64, items []NewItem) error {
	if len(items) == 0 {
		return nil
	}
	values := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*4)
	for i, it := range items {
		n := i * 4
		values = append(values, fmt.Sprintf("($%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4))
		args = append(args, orderID, it.ProductID, it.Quantity, it.UnitPrice)
	}
	_, err := db.Exec(ctx,
		`INSERT INTO order_items(order_id, product_id, quantity, unit_price) VALUES `+strings.Join(values, ","),
		args...)
	return err
}

func (r *Repo) InsertOrder(ctx context.Context, c Customer) (Order, error) {
	return insertOrder(ctx, r.DB, c)
}

func (r *Repo) InsertItems(ctx context.Context, orderID int64, items []NewItem) error {
	return insertItems(ctx, r.DB, orderID, items)
}

// SetStock overwrites a product's stock. Used by the weak checkout policy,
// which computes the new value from a possibly stale read.
func (r *Repo) SetStock(ctx context.Context, productID int64, stock int) error {
	ct, err := r.DB.Exec(ctx, `UPDATE products SET stock = $2 WHERE id = $1`, productID, stock)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("product %d not found", productID)
	}
	return nil
}

// PlaceOrderTx writes the order, its items and the stock decrements in one
// transaction. Each decrement is a compare-and-set on stock; if any product
// cannot cover its quantity the whole transaction rolls back and a
// *ShortfallError is returned.
func (r *Repo) PlaceOrderTx(ctx context.Context, c Customer, items []NewItem) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := insertOrder(ctx, tx, c)
	if err != nil {
		return Order{}, err
	}
	if err := insertItems(ctx, tx, o.ID, items); err != nil {
		return Order{}, err
	}

	// lock rows in id order so concurrent checkouts cannot deadlock
	demand := SumByProduct(items)
	sort.Slice(demand, func(i, j int) bool { return demand[i].ProductID < demand[j].ProductID })

	for _, d := range demand {
		ct, err := tx.Exec(ctx,
			`UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`, d.ProductID, d.Qty)
		if err != nil {
			return Order{}, err
		}
		if ct.RowsAffected() == 1 {
			continue
		}
		short := &ShortfallError{ProductID: d.ProductID, Requested: d.Qty}
		err = tx.QueryRow(ctx, `SELECT name, stock FROM products WHERE id = $1`, d.ProductID).
			Scan(&short.ProductName, &short.Available)
		switch {
		case err == nil:
			short.Found = true
		case !errors.Is(err, pgx.ErrNoRows):
			return Order{}, err
		}
		return Order{}, short
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o, nil
}

// ListWithItems returns every order, newest first, with its lines and total.
func (r *Repo) ListWithItems(ctx context.Context) ([]OrderWithItems, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, customer_name, customer_email, address, created_at
		FROM orders ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	out := []OrderWithItems{}
	byID := map[int64]int{}
	ids := []int64{}
	for rows.Next() {
		var o OrderWithItems
		if err := rows.Scan(&o.ID, &o.CustomerName, &o.CustomerEmail, &o.Address, &o.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		o.Items = []ItemDetail{}
		byID[o.ID] = len(out)
		ids = append(ids, o.ID)
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	rows, err = r.DB.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.unit_price, COALESCE(p.name, '')
		FROM order_items oi
		LEFT JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it ItemDetail
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.ProductName); err != nil {
			return nil, err
		}
		o := &out[byID[it.OrderID]]
		o.Items = append(o.Items, it)
		o.Total = o.Total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return out, rows.Err()
}

// Analytics computes the dashboard figures with independent queries run in
// parallel.
func (r *Repo) Analytics(ctx context.Context) (Analytics, error) {
	var a Analytics
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.DB.QueryRow(ctx, `SELECT count(*), COALESCE(sum(stock), 0) FROM products`).
			Scan(&a.TotalProducts, &a.TotalStock)
	})
	g.Go(func() error {
		return r.DB.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&a.TotalOrders)
	})
	g.Go(func() error {
		return r.DB.QueryRow(ctx, `SELECT COALESCE(sum(quantity * unit_price), 0) FROM order_items`).
			Scan(&a.TotalRevenue)
	})
	g.Go(func() error {
		rows, err := r.DB.Query(ctx, `
			SELECT oi.product_id, COALESCE(p.name, ''), sum(oi.quantity), sum(oi.quantity * oi.unit_price)
			FROM order_items oi
			LEFT JOIN products p ON p.id = oi.product_id
			GROUP BY oi.product_id, p.name
			ORDER BY sum(oi.quantity) DESC, oi.product_id
			LIMIT 5`)
		if err != nil {
			return err
		}
		defer rows.Close()
		best := []BestSeller{}
		for rows.Next() {
			var b BestSeller
			if err := rows.Scan(&b.ProductID, &b.ProductName, &b.Quantity, &b.Revenue); err != nil {
				return err
			}
			best = append(best, b)
		}
		a.BestSellers = best
		return rows.Err()
	})

	if err := g.Wait(); err != nil {
		return Analytics{}, err
	}
	return a, nil
}
