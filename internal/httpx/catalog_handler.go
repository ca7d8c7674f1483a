package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/go-chi/chi/v5"
)

type Searcher interface {
	Search(ctx context.Context, q string, limit int) ([]catalog.SearchHit, error)
}

// CatalogHandler serves the public product endpoints.
type CatalogHandler struct {
	Products catalog.Reader
	Search   Searcher
	Log      *slog.Logger
}

func (h *CatalogHandler) Register(r chi.Router) {
	r.Get("/api/products", h.listProducts)
	r.Get("/api/products/{id}", h.getProduct)
	r.Get("/api/search-products", h.search)
}

func (h *CatalogHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Products.ListProducts(ctx)
	if err != nil {
		h.Log.Error("list products", "error", err)
		writeMessage(w, http.StatusInternalServerError, "could not load products")
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *CatalogHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := catalog.ParseID(chi.URLParam(r, "id"))
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid product id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Products.GetProduct(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		h.Log.Error("get product", "product_id", id, "error", err)
		writeMessage(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type searchResp struct {
	Results []catalog.SearchHit `json:"results"`
}

// search never fails: bad input and store errors yield no results.
func (h *CatalogHandler) search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if n := utf8.RuneCountInString(q); n == 0 || n > 100 {
		writeJSON(w, http.StatusOK, searchResp{Results: []catalog.SearchHit{}})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	hits, err := h.Search.Search(ctx, q, catalog.SearchLimit)
	if err != nil {
		h.Log.Error("search products", "error", err)
		hits = []catalog.SearchHit{}
	}
	writeJSON(w, http.StatusOK, searchResp{Results: hits})
}
