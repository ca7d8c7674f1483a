package redisx

import "time"

const (
	// Product list cache: catalog:products -> JSON []Product
	KeyCatalogProducts = "catalog:products"

	// Product detail cache: catalog:product:{id} -> JSON Product
	KeyCatalogProduct = "catalog:product:%d"

	// Fixed-window counters: ratelimit:{tag}_{client}
	KeyRateLimit = "ratelimit:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Sorted set of products at or below the low-stock threshold, scored by stock.
	KeyLowStock = "stock:low"

	// Hash of product id -> name for members of KeyLowStock.
	KeyLowStockNames = "stock:low:names"
)

var (
	TTLDedup = 48 * time.Hour
)
