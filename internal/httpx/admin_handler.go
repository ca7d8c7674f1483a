package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront/internal/adminauth"
	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/orders"
	"github.com/ariefcatur/go-storefront/internal/stockwatch"
	"github.com/ariefcatur/go-storefront/internal/storage"
	"github.com/ariefcatur/go-storefront/internal/validate"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type AdminCatalog interface {
	ListProducts(ctx context.Context) ([]catalog.Product, error)
	CreateProduct(ctx context.Context, in catalog.NewProduct) (int64, error)
	UpdateProduct(ctx context.Context, id int64, patch catalog.ProductPatch) error
	DeleteProduct(ctx context.Context, id int64) error
	ListCategories(ctx context.Context) ([]catalog.Category, error)
	CreateCategory(ctx context.Context, name string) (int64, error)
	DeleteCategory(ctx context.Context, id int64) error
}

type OrderReports interface {
	ListWithItems(ctx context.Context) ([]orders.OrderWithItems, error)
	Analytics(ctx context.Context) (orders.Analytics, error)
}

type ImageUploader interface {
	Upload(ctx context.Context, filename, declared string, data []byte) (string, error)
}

type LowStockBoard interface {
	List(ctx context.Context) ([]stockwatch.Entry, error)
	Refresh(ctx context.Context, traceID string, ids ...int64) error
}

// AdminHandler serves /api/admin. Everything except login and logout needs a
// session; mutations are rate limited per endpoint.
type AdminHandler struct {
	Sessions *adminauth.Sessions
	Catalog  AdminCatalog
	Orders   OrderReports
	Images   ImageUploader
	LowStock LowStockBoard // optional
	Cache    Invalidator   // optional
	Log      *slog.Logger

	LoginLimit    func(http.Handler) http.Handler
	MutationLimit func(tag string) func(http.Handler) http.Handler

	v *validator.Validate
}

func (h *AdminHandler) Register(r chi.Router) {
	if h.v == nil {
		h.v = validate.New()
	}
	r.Route("/api/admin", func(r chi.Router) {
		r.With(optional(h.LoginLimit)).Post("/login", h.login)
		r.Post("/logout", h.logout)

		r.Group(func(r chi.Router) {
			r.Use(h.Sessions.Require)
			r.Get("/products", h.listProducts)
			r.Get("/categories", h.listCategories)
			r.With(h.mutation("admin_products")).Post("/products", h.productAction)
			r.With(h.mutation("admin_categories")).Post("/categories", h.categoryAction)
			r.With(h.mutation("admin_upload")).Post("/upload-image", h.uploadImage)
			r.Get("/orders", h.listOrders)
			r.Get("/analytics", h.analytics)
			r.Get("/low-stock", h.lowStock)
		})
	})
}

func optional(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

func (h *AdminHandler) mutation(tag string) func(http.Handler) http.Handler {
	if h.MutationLimit == nil {
		return optional(nil)
	}
	return h.MutationLimit(tag)
}

type loginReq struct {
	Password string `json:"password"`
}

func (h *AdminHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	_ = decodeJSON(w, r, &req)

	err := h.Sessions.Login(w, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case req.Password == "" || errors.Is(err, adminauth.ErrNotConfigured):
		writeMessage(w, http.StatusBadRequest, "missing credentials")
	case errors.Is(err, adminauth.ErrBadPassword):
		writeMessage(w, http.StatusUnauthorized, "wrong password")
	default:
		h.Log.Error("admin login", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *AdminHandler) logout(w http.ResponseWriter, _ *http.Request) {
	h.Sessions.Logout(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type productsResp struct {
	Products []catalog.Product `json:"products"`
}

type categoriesResp struct {
	Categories []catalog.Category `json:"categories"`
}

type productAction struct {
	Action      string   `json:"action" validate:"required,oneof=create update delete"`
	ID          *int64   `json:"id" validate:"omitnil,gt=0"`
	Name        *string  `json:"name" validate:"omitnil,min=1,max=255"`
	Description *string  `json:"description" validate:"omitnil,min=1,max=2000"`
	Price       *float64 `json:"price" validate:"omitnil,gte=0"`
	ImageURL    *string  `json:"image_url" validate:"omitnil,max=2048"`
	Stock       *int     `json:"stock" validate:"omitnil,gte=0"`
	CategoryID  *int64   `json:"category_id" validate:"omitnil,gt=0"`
}

func (a productAction) patch() catalog.ProductPatch {
	p := catalog.ProductPatch{
		Name:        a.Name,
		Description: a.Description,
		Stock:       a.Stock,
		CategoryID:  a.CategoryID,
		ImageURL:    a.ImageURL,
	}
	if a.Price != nil {
		d := decimal.NewFromFloat(*a.Price).Round(2)
		p.Price = &d
	}
	return p
}

// check runs struct validation plus the image_url rule: empty clears the
// image, anything else must be a URL.
func (h *AdminHandler) check(w http.ResponseWriter, v any, imageURL *string) bool {
	var issues []validate.Issue
	if err := h.v.Struct(v); err != nil {
		issues = validate.Issues(err)
	}
	if imageURL != nil && *imageURL != "" && h.v.Var(*imageURL, "url") != nil {
		issues = append(issues, validate.Issue{Field: "image_url", Rule: "url", Message: "must be a valid URL"})
	}
	if len(issues) > 0 {
		writeJSON(w, http.StatusBadRequest, messageResp{Message: "invalid data", Issues: issues})
		return false
	}
	return true
}

func (h *AdminHandler) productAction(w http.ResponseWriter, r *http.Request) {
	var a productAction
	if err := decodeJSON(w, r, &a); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid data")
		return
	}
	if !h.check(w, a, a.ImageURL) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var (
		id  int64
		err error
	)
	switch a.Action {
	case "create":
		if a.Name == nil || a.Description == nil || a.Price == nil || a.Stock == nil {
			writeMessage(w, http.StatusBadRequest, "missing required fields")
			return
		}
		p := a.patch()
		in := catalog.NewProduct{
			Name:        *p.Name,
			Description: *p.Description,
			Price:       *p.Price,
			Stock:       *p.Stock,
			CategoryID:  p.CategoryID,
		}
		if p.ImageURL != nil {
			in.ImageURL = *p.ImageURL
		}
		id, err = h.Catalog.CreateProduct(ctx, in)
	case "update":
		if a.ID == nil {
			writeMessage(w, http.StatusBadRequest, "id is required for update")
			return
		}
		id = *a.ID
		err = h.Catalog.UpdateProduct(ctx, id, a.patch())
	case "delete":
		if a.ID == nil {
			writeMessage(w, http.StatusBadRequest, "id is required for delete")
			return
		}
		id = *a.ID
		err = h.Catalog.DeleteProduct(ctx, id)
	}
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("product %d not found", id))
		return
	case errors.Is(err, catalog.ErrUnknownCategory):
		writeMessage(w, http.StatusBadRequest, "category does not exist")
		return
	case err != nil:
		h.Log.Error("admin product action", "action", a.Action, "product_id", id, "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.afterProductChange(ctx, r, id)
	h.writeProducts(ctx, w)
}

func (h *AdminHandler) afterProductChange(ctx context.Context, r *http.Request, id int64) {
	ctx = context.WithoutCancel(ctx)
	if h.Cache != nil {
		h.Cache.Invalidate(ctx, id)
	}
	if h.LowStock != nil {
		if err := h.LowStock.Refresh(ctx, middleware.GetReqID(r.Context()), id); err != nil {
			h.Log.Warn("low stock refresh", "product_id", id, "error", err)
		}
	}
}

func (h *AdminHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	h.writeProducts(ctx, w)
}

func (h *AdminHandler) writeProducts(ctx context.Context, w http.ResponseWriter) {
	ps, err := h.Catalog.ListProducts(ctx)
	if err != nil {
		h.Log.Error("admin list products", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, productsResp{Products: ps})
}

type categoryAction struct {
	Action string  `json:"action" validate:"required,oneof=create delete"`
	ID     *int64  `json:"id" validate:"omitnil,gt=0"`
	Name   *string `json:"name" validate:"omitnil,min=1,max=255"`
}

func (h *AdminHandler) categoryAction(w http.ResponseWriter, r *http.Request) {
	var a categoryAction
	if err := decodeJSON(w, r, &a); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid data")
		return
	}
	if !h.check(w, a, nil) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var err error
	switch a.Action {
	case "create":
		if a.Name == nil {
			writeMessage(w, http.StatusBadRequest, "category name is required")
			return
		}
		_, err = h.Catalog.CreateCategory(ctx, *a.Name)
	case "delete":
		if a.ID == nil {
			writeMessage(w, http.StatusBadRequest, "category id is required for delete")
			return
		}
		err = h.Catalog.DeleteCategory(ctx, *a.ID)
		if err == nil && h.Cache != nil {
			// product rows lost their category
			h.Cache.Invalidate(context.WithoutCancel(ctx))
		}
	}
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "category not found")
		return
	case err != nil:
		h.Log.Error("admin category action", "action", a.Action, "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeCategories(ctx, w)
}

func (h *AdminHandler) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	h.writeCategories(ctx, w)
}

func (h *AdminHandler) writeCategories(ctx context.Context, w http.ResponseWriter) {
	cs, err := h.Catalog.ListCategories(ctx)
	if err != nil {
		h.Log.Error("admin list categories", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, categoriesResp{Categories: cs})
}

func (h *AdminHandler) uploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxImageSize+1<<20)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "missing or invalid file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, storage.MaxImageSize+1))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "missing or invalid file")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	url, err := h.Images.Upload(ctx, hdr.Filename, hdr.Header.Get("Content-Type"), data)
	switch {
	case errors.Is(err, storage.ErrEmptyFile), errors.Is(err, storage.ErrTooLarge), errors.Is(err, storage.ErrUnsupportedType):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.Log.Error("image upload", "filename", hdr.Filename, "error", err)
		writeMessage(w, http.StatusInternalServerError, "could not upload the image")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

type ordersResp struct {
	Orders []orders.OrderWithItems `json:"orders"`
}

func (h *AdminHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Orders.ListWithItems(ctx)
	if err != nil {
		h.Log.Error("admin list orders", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, ordersResp{Orders: list})
}

func (h *AdminHandler) analytics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	a, err := h.Orders.Analytics(ctx)
	if err != nil {
		h.Log.Error("admin analytics", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type lowStockResp struct {
	Products []stockwatch.Entry `json:"products"`
}

func (h *AdminHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	if h.LowStock == nil {
		writeJSON(w, http.StatusOK, lowStockResp{Products: []stockwatch.Entry{}})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.LowStock.List(ctx)
	if err != nil {
		h.Log.Error("admin low stock", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, lowStockResp{Products: list})
}
