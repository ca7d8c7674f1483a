package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/orders"
	"github.com/ariefcatur/go-storefront/internal/stockwatch"
	"github.com/ariefcatur/go-storefront/internal/storage"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// shop is an in-memory catalog and order store used by the handler tests.
type shop struct {
	mu         sync.Mutex
	products   map[int64]catalog.Product
	categories map[int64]catalog.Category
	orders     []orders.OrderWithItems
	nextID     int64
	failList   error
}

func newShop() *shop {
	return &shop{products: map[int64]catalog.Product{}, categories: map[int64]catalog.Category{}, nextID: 100}
}

func (s *shop) addProduct(id int64, name, price string, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id] = catalog.Product{ID: id, Name: name, Price: decimal.RequireFromString(price), Stock: stock,
		CreatedAt: time.Unix(id, 0)}
}

func (s *shop) stock(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Stock
}

func (s *shop) ListProducts(_ context.Context) ([]catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList != nil {
		return nil, s.failList
	}
	out := make([]catalog.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *shop) GetProduct(_ context.Context, id int64) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

func (s *shop) Search(_ context.Context, q string, limit int) ([]catalog.SearchHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []catalog.SearchHit{}
	for _, p := range s.products {
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(q)) && len(out) < limit {
			out = append(out, catalog.SearchHit{ID: p.ID, Name: p.Name, Price: p.Price})
		}
	}
	return out, nil
}

func (s *shop) LookupForCheckout(_ context.Context, ids []int64) ([]catalog.StockInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.StockInfo
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, catalog.StockInfo{ID: id, Name: p.Name, Price: p.Price, Stock: p.Stock})
		}
	}
	return out, nil
}

func (s *shop) InsertOrder(_ context.Context, c orders.Customer) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	o := orders.Order{ID: s.nextID, CustomerName: c.Name, CustomerEmail: c.Email, Address: c.Address}
	s.orders = append(s.orders, orders.OrderWithItems{Order: o, Items: []orders.ItemDetail{}})
	return o, nil
}

func (s *shop) InsertItems(_ context.Context, orderID int64, items []orders.NewItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ID != orderID {
			continue
		}
		for _, it := range items {
			s.orders[i].Items = append(s.orders[i].Items, orders.ItemDetail{
				OrderItem: orders.OrderItem{OrderID: orderID, ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice},
			})
			s.orders[i].Total = s.orders[i].Total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
	}
	return nil
}

func (s *shop) SetStock(_ context.Context, id int64, stock int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[id]
	p.Stock = stock
	s.products[id] = p
	return nil
}

func (s *shop) PlaceOrderTx(ctx context.Context, c orders.Customer, items []orders.NewItem) (orders.Order, error) {
	s.mu.Lock()
	for _, d := range orders.SumByProduct(items) {
		p, ok := s.products[d.ProductID]
		if p.Stock < d.Qty {
			s.mu.Unlock()
			return orders.Order{}, &orders.ShortfallError{ProductID: d.ProductID, Found: ok, ProductName: p.Name,
				Requested: d.Qty, Available: p.Stock}
		}
	}
	for _, d := range orders.SumByProduct(items) {
		p := s.products[d.ProductID]
		p.Stock -= d.Qty
		s.products[d.ProductID] = p
	}
	s.mu.Unlock()
	o, _ := s.InsertOrder(ctx, c)
	return o, s.InsertItems(ctx, o.ID, items)
}

func (s *shop) CreateProduct(_ context.Context, in catalog.NewProduct) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.CategoryID != nil {
		if _, ok := s.categories[*in.CategoryID]; !ok {
			return 0, catalog.ErrUnknownCategory
		}
	}
	s.nextID++
	p := catalog.Product{ID: s.nextID, Name: in.Name, Description: in.Description, Price: in.Price,
		Stock: in.Stock, CategoryID: in.CategoryID, CreatedAt: time.Unix(s.nextID, 0)}
	if in.ImageURL != "" {
		p.ImageURL = &in.ImageURL
	}
	s.products[p.ID] = p
	return p.ID, nil
}

func (s *shop) UpdateProduct(_ context.Context, id int64, patch catalog.ProductPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return catalog.ErrNotFound
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.Stock != nil {
		p.Stock = *patch.Stock
	}
	if patch.ImageURL != nil {
		if *patch.ImageURL == "" {
			p.ImageURL = nil
		} else {
			u := *patch.ImageURL
			p.ImageURL = &u
		}
	}
	s.products[id] = p
	return nil
}

func (s *shop) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return catalog.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *shop) ListCategories(_ context.Context) ([]catalog.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *shop) CreateCategory(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.categories[s.nextID] = catalog.Category{ID: s.nextID, Name: name}
	return s.nextID, nil
}

func (s *shop) DeleteCategory(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[id]; !ok {
		return catalog.ErrNotFound
	}
	for pid, p := range s.products {
		if p.CategoryID != nil && *p.CategoryID == id {
			p.CategoryID = nil
			s.products[pid] = p
		}
	}
	delete(s.categories, id)
	return nil
}

func (s *shop) ListWithItems(_ context.Context) ([]orders.OrderWithItems, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.OrderWithItems{}, s.orders...), nil
}

func (s *shop) Analytics(_ context.Context) (orders.Analytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := orders.Analytics{TotalProducts: len(s.products), TotalOrders: len(s.orders), BestSellers: []orders.BestSeller{}}
	for _, p := range s.products {
		a.TotalStock += p.Stock
	}
	for _, o := range s.orders {
		a.TotalRevenue = a.TotalRevenue.Add(o.Total)
	}
	return a, nil
}

type recordingCache struct {
	mu  sync.Mutex
	ids [][]int64
}

func (c *recordingCache) Invalidate(_ context.Context, ids ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, ids)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []kafkago.Message
	err  error
}

func (p *recordingPublisher) Publish(key, value []byte, headers ...kafkago.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, kafkago.Message{Key: key, Value: value, Headers: headers})
	return nil
}

type memImages struct {
	objs map[string]storage.Object
	err  error
}

func (m *memImages) Upload(_ context.Context, filename, declared string, data []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if declared != "image/png" {
		return "", storage.ErrUnsupportedType
	}
	m.objs[filename] = storage.Object{Name: filename, ContentType: declared, Data: data}
	return "http://localhost/images/" + filename, nil
}

func (m *memImages) Open(_ context.Context, name string) (storage.Object, error) {
	obj, ok := m.objs[name]
	if !ok {
		return storage.Object{}, storage.ErrNotFound
	}
	return obj, nil
}

type fakeBoard struct {
	refreshed []int64
	entries   []stockwatch.Entry
}

func (b *fakeBoard) List(context.Context) ([]stockwatch.Entry, error) { return b.entries, nil }

func (b *fakeBoard) Refresh(_ context.Context, _ string, ids ...int64) error {
	b.refreshed = append(b.refreshed, ids...)
	return nil
}

var errBoom = errors.New("boom")

func doJSON(t *testing.T, h http.Handler, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.1:1234"
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
