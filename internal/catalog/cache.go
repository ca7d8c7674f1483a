package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ariefcatur/go-storefront/internal/redisx"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Reader is the read side of the catalog served to shoppers.
type Reader interface {
	ListProducts(ctx context.Context) ([]Product, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
}

// loadTimeout bounds a shared load. It is detached from the caller that
// started it, so one caller going away does not fail the others.
const loadTimeout = 5 * time.Second

// Cache is a cache-aside layer over a Reader. Redis failures degrade to
// direct reads; concurrent misses for the same key share one load.
type Cache struct {
	next        Reader
	rdb         *redis.Client
	ttl         time.Duration
	loadTimeout time.Duration
	group       singleflight.Group
	log         *slog.Logger
}

func NewCache(next Reader, rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{next: next, rdb: rdb, ttl: ttl, loadTimeout: loadTimeout,
		log: slog.Default().With("component", "catalog-cache")}
}

func (c *Cache) loadContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
}

func (c *Cache) ListProducts(ctx context.Context) ([]Product, error) {
	var out []Product
	if c.get(ctx, redisx.KeyCatalogProducts, &out) {
		return out, nil
	}
	v, err, _ := c.group.Do(redisx.KeyCatalogProducts, func() (any, error) {
		lctx, cancel := c.loadContext(ctx)
		defer cancel()
		ps, err := c.next.ListProducts(lctx)
		if err != nil {
			return nil, err
		}
		c.set(lctx, redisx.KeyCatalogProducts, ps)
		return ps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Product), nil
}

func (c *Cache) GetProduct(ctx context.Context, id int64) (Product, error) {
	key := fmt.Sprintf(redisx.KeyCatalogProduct, id)
	var p Product
	if c.get(ctx, key, &p) {
		return p, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		lctx, cancel := c.loadContext(ctx)
		defer cancel()
		p, err := c.next.GetProduct(lctx, id)
		if err != nil {
			return nil, err
		}
		c.set(lctx, key, p)
		return p, nil
	})
	if err != nil {
		return Product{}, err
	}
	return v.(Product), nil
}

// Invalidate drops the product list and the given product entries.
func (c *Cache) Invalidate(ctx context.Context, ids ...int64) {
	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, redisx.KeyCatalogProducts)
	for _, id := range ids {
		keys = append(keys, fmt.Sprintf(redisx.KeyCatalogProduct, id))
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("cache invalidate failed", "keys", len(keys), "error", err)
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) bool {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("cache get failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(b, dest); err != nil {
		c.log.Warn("cache decode failed", "key", key, "error", err)
		return false
	}
	return true
}

func (c *Cache) set(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
		c.log.Warn("cache set failed", "key", key, "error", err)
	}
}

// ParseID parses a positive product or category id from a path segment.
func ParseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
