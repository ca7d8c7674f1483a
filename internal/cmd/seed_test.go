package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	products   []catalog.NewProduct
	categories []string
	failCreate error
}

func (f *fakeCatalog) ListProducts(context.Context) ([]catalog.Product, error) {
	out := make([]catalog.Product, len(f.products))
	for i, p := range f.products {
		out[i] = catalog.Product{ID: int64(i + 1), Name: p.Name}
	}
	return out, nil
}

func (f *fakeCatalog) CreateCategory(_ context.Context, name string) (int64, error) {
	f.categories = append(f.categories, name)
	return int64(len(f.categories)), nil
}

func (f *fakeCatalog) CreateProduct(_ context.Context, in catalog.NewProduct) (int64, error) {
	if f.failCreate != nil {
		return 0, f.failCreate
	}
	f.products = append(f.products, in)
	return int64(len(f.products)), nil
}

func TestSeedCatalog(t *testing.T) {
	store := &fakeCatalog{}
	var out bytes.Buffer

	require.NoError(t, seedCatalog(context.Background(), store, &out, false))
	assert.Equal(t, []string{"Kitchen", "Apparel", "Stationery"}, store.categories)
	require.Len(t, store.products, len(sampleCatalog))
	for _, p := range store.products {
		require.NotNil(t, p.CategoryID)
		assert.False(t, p.Price.IsNegative(), p.Name)
		assert.GreaterOrEqual(t, p.Stock, 0)
	}
	assert.Contains(t, out.String(), "seeded 3 categories")
}

func TestSeedCatalog_SkipsNonEmpty(t *testing.T) {
	store := &fakeCatalog{products: []catalog.NewProduct{{Name: "Existing"}}}
	var out bytes.Buffer

	require.NoError(t, seedCatalog(context.Background(), store, &out, false))
	assert.Len(t, store.products, 1)
	assert.Contains(t, out.String(), "skipping")

	require.NoError(t, seedCatalog(context.Background(), store, &out, true))
	assert.Len(t, store.products, 1+len(sampleCatalog))
}

func TestSeedCatalog_StopsOnError(t *testing.T) {
	store := &fakeCatalog{failCreate: errors.New("boom")}
	err := seedCatalog(context.Background(), store, &bytes.Buffer{}, false)
	assert.ErrorContains(t, err, `"Stoneware Mug"`)
}
