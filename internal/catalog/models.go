package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	CategoryID  *int64          `json:"category_id"`
	ImageURL    *string         `json:"image_url"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// StockInfo is the authoritative price/stock snapshot read at checkout.
type StockInfo struct {
	ID    int64
	Name  string
	Price decimal.Decimal
	Stock int
}

type SearchHit struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	ImageURL *string         `json:"image_url"`
}

type NewProduct struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
	CategoryID  *int64
	ImageURL    string
}

// ProductPatch updates only the non-nil fields. An empty ImageURL clears it.
type ProductPatch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Stock       *int
	CategoryID  *int64
	ImageURL    *string
}

func (p ProductPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Price == nil &&
		p.Stock == nil && p.CategoryID == nil && p.ImageURL == nil
}
