package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is immutable once created; there is no status lifecycle.
type Order struct {
	ID            int64     `json:"id"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	Address       string    `json:"address"`
	CreatedAt     time.Time `json:"created_at"`
}

type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"` // snapshot at order time
}

type Customer struct {
	Name    string
	Email   string
	Address string
}

// NewItem is one priced line about to be persisted. UnitPrice must come
// from the catalog, never from the client.
type NewItem struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

type ItemDetail struct {
	OrderItem
	ProductName string `json:"product_name"`
}

type OrderWithItems struct {
	Order
	Items []ItemDetail      `json:"items"`
	Total decimal.Decimal `json:"total"`
}

type BestSeller struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Revenue     decimal.Decimal `json:"revenue"`
}

type Analytics struct {
	TotalProducts int             `json:"total_products"`
	TotalStock    int             `json:"total_stock"`
	TotalOrders   int             `json:"total_orders"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	BestSellers   []BestSeller    `json:"best_sellers"`
}

// ShortfallError reports a product whose stock could not cover the
// requested quantity at write time. Found is false when the product row no
// longer exists.
type ShortfallError struct {
	ProductID   int64
	Found       bool
	ProductName string
	Requested   int
	Available   int
}

func (e *ShortfallError) Error() string {
	return "stock shortfall"
}
