package orders

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/ariefcatur/go-storefront/internal/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to TEST_DATABASE_URL, applies the schema and empties
// every table. Tests are skipped when the variable is unset or unreachable.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping test: TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, url)
	if err != nil {
		t.Skipf("Skipping test: database not available: %v", err)
	}
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE order_items, orders, products, categories RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return pool
}

func seedProduct(t *testing.T, pool *pgxpool.Pool, name, price string, stock int) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO products(name, price, stock) VALUES ($1, $2, $3) RETURNING id`,
		name, decimal.RequireFromString(price), stock).Scan(&id)
	require.NoError(t, err)
	return id
}

func stockOf(t *testing.T, pool *pgxpool.Pool, id int64) int {
	t.Helper()
	var s int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT stock FROM products WHERE id=$1`, id).Scan(&s))
	return s
}

func countRows(t *testing.T, pool *pgxpool.Pool, table string) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT count(*) FROM `+table).Scan(&n))
	return n
}

var alice = Customer{Name: "Alice", Email: "alice@example.com", Address: "1 Main Street"}

func TestRepo_PlaceOrderTx(t *testing.T) {
	pool := setupTestDB(t)
	repo := &Repo{DB: pool}
	ctx := context.Background()

	mug := seedProduct(t, pool, "Mug", "10.00", 2)
	hat := seedProduct(t, pool, "Cap", "7.50", 5)

	o, err := repo.PlaceOrderTx(ctx, alice, []NewItem{
		{ProductID: mug, Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
		{ProductID: hat, Quantity: 1, UnitPrice: decimal.RequireFromString("7.50")},
	})
	require.NoError(t, err)
	assert.NotZero(t, o.ID)
	assert.False(t, o.CreatedAt.IsZero())

	assert.Equal(t, 0, stockOf(t, pool, mug))
	assert.Equal(t, 4, stockOf(t, pool, hat))
	assert.Equal(t, 2, countRows(t, pool, "order_items"))

	list, err := repo.ListWithItems(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Total.Equal(decimal.RequireFromString("27.50")))
	assert.Equal(t, "Mug", list[0].Items[0].ProductName)
}

func TestRepo_PlaceOrderTx_ShortfallRollsBack(t *testing.T) {
	pool := setupTestDB(t)
	repo := &Repo{DB: pool}
	ctx := context.Background()

	mug := seedProduct(t, pool, "Mug", "10.00", 2)
	hat := seedProduct(t, pool, "Cap", "7.50", 1)

	_, err := repo.PlaceOrderTx(ctx, alice, []NewItem{
		{ProductID: mug, Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
		{ProductID: hat, Quantity: 1, UnitPrice: decimal.RequireFromString("7.50")},
		{ProductID: hat, Quantity: 1, UnitPrice: decimal.RequireFromString("7.50")},
	})
	var short *ShortfallError
	require.True(t, errors.As(err, &short), "got %v", err)
	assert.Equal(t, hat, short.ProductID)
	assert.True(t, short.Found)
	assert.Equal(t, "Cap", short.ProductName)
	assert.Equal(t, 2, short.Requested)
	assert.Equal(t, 1, short.Available)

	assert.Equal(t, 2, stockOf(t, pool, mug))
	assert.Equal(t, 1, stockOf(t, pool, hat))
	assert.Equal(t, 0, countRows(t, pool, "orders"))
	assert.Equal(t, 0, countRows(t, pool, "order_items"))
}

func TestRepo_PlaceOrderTx_MissingProduct(t *testing.T) {
	pool := setupTestDB(t)
	repo := &Repo{DB: pool}
	ctx := context.Background()

	mug := seedProduct(t, pool, "Mug", "10.00", 2)
	_, err := repo.PlaceOrderTx(ctx, alice, []NewItem{
		{ProductID: mug, Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
		{ProductID: 9999, Quantity: 1, UnitPrice: decimal.RequireFromString("1.00")},
	})
	var short *ShortfallError
	require.True(t, errors.As(err, &short), "got %v", err)
	assert.Equal(t, int64(9999), short.ProductID)
	assert.False(t, short.Found)

	assert.Equal(t, 2, stockOf(t, pool, mug))
	assert.Equal(t, 0, countRows(t, pool, "orders"))
}

func TestRepo_PlaceOrderTx_ConcurrentCheckoutsDoNotOversell(t *testing.T) {
	pool := setupTestDB(t)
	repo := &Repo{DB: pool}
	ctx := context.Background()

	mug := seedProduct(t, pool, "Mug", "10.00", 5)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.PlaceOrderTx(ctx, alice, []NewItem{
				{ProductID: mug, Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	assert.Equal(t, 0, stockOf(t, pool, mug))
	assert.Equal(t, 5, countRows(t, pool, "orders"))
}

func TestRepo_WeakPathPrimitives(t *testing.T) {
	pool := setupTestDB(t)
	repo := &Repo{DB: pool}
	ctx := context.Background()

	mug := seedProduct(t, pool, "Mug", "10.00", 3)

	o, err := repo.InsertOrder(ctx, alice)
	require.NoError(t, err)
	require.NoError(t, repo.InsertItems(ctx, o.ID, []NewItem{
		{ProductID: mug, Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
	}))
	require.NoError(t, repo.SetStock(ctx, mug, 2))
	assert.Equal(t, 2, stockOf(t, pool, mug))

	assert.Error(t, repo.SetStock(ctx, mug, -1), "stock check constraint")
	assert.Error(t, repo.SetStock(ctx, 9999, 1))

	a, err := repo.Analytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, a.TotalProducts)
	assert.Equal(t, 2, a.TotalStock)
	assert.Equal(t, 1, a.TotalOrders)
	assert.True(t, a.TotalRevenue.Equal(decimal.RequireFromString("10")))
	require.Len(t, a.BestSellers, 1)
	assert.Equal(t, "Mug", a.BestSellers[0].ProductName)
}

func TestSumByProduct(t *testing.T) {
	got := SumByProduct([]NewItem{
		{ProductID: 3, Quantity: 1},
		{ProductID: 1, Quantity: 2},
		{ProductID: 3, Quantity: 4},
	})
	assert.Equal(t, []ItemQty{{ProductID: 3, Qty: 5}, {ProductID: 1, Qty: 2}}, got)
}
