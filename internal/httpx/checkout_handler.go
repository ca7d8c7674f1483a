package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-storefront/internal/checkout"
	kafkax "github.com/ariefcatur/go-storefront/internal/kafka"
	"github.com/ariefcatur/go-storefront/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

type Placer interface {
	Place(ctx context.Context, req checkout.Request) (checkout.Result, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header) error
}

// Invalidator drops cached catalog entries after stock or product changes.
type Invalidator interface {
	Invalidate(ctx context.Context, ids ...int64)
}

type CheckoutHandler struct {
	Checkout  Placer
	Cache     Invalidator // optional
	Publisher Publisher   // optional
	Service   string
	Log       *slog.Logger

	// Limit wraps the checkout route, typically a ratelimit.Middleware.
	Limit func(http.Handler) http.Handler
}

type checkoutResp struct {
	OK      bool  `json:"ok"`
	OrderID int64 `json:"order_id"`
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.Limit != nil {
			r.Use(h.Limit)
		}
		r.Post("/api/checkout", h.placeOrder)
	})
}

func (h *CheckoutHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request data")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Checkout.Place(ctx, req)
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}

	ids := make([]int64, 0, len(res.Items))
	for _, it := range res.Items {
		ids = append(ids, it.ProductID)
	}
	if h.Cache != nil {
		h.Cache.Invalidate(context.WithoutCancel(ctx), ids...)
	}
	h.publishPlaced(r, res)

	writeJSON(w, http.StatusOK, checkoutResp{OK: true, OrderID: res.Order.ID})
}

func (h *CheckoutHandler) writeCheckoutError(w http.ResponseWriter, err error) {
	var (
		ve *checkout.ValidationError
		se *checkout.StockError
		pe *checkout.PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, messageResp{Message: "invalid request data", Issues: ve.Issues})
	case errors.As(err, &se):
		writeMessage(w, http.StatusBadRequest, se.Error())
	case errors.As(err, &pe):
		h.Log.Error("checkout failed", "op", pe.Op, "order_id", pe.OrderID, "error", pe.Err)
		writeMessage(w, http.StatusInternalServerError, pe.Message())
	default:
		h.Log.Error("checkout failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

// publishPlaced is best effort; the order is already committed.
func (h *CheckoutHandler) publishPlaced(r *http.Request, res checkout.Result) {
	if h.Publisher == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderPlaced,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       middleware.GetReqID(r.Context()),
		CorrelationID: strconv.FormatInt(res.Order.ID, 10),
		Payload: kafkax.MustMarshal(orders.OrderPlacedPayload{
			OrderID: res.Order.ID,
			Items:   orders.SumByProduct(res.Items),
			Total:   res.Total.StringFixed(2),
		}),
	}
	if err := h.Publisher.Publish(orders.PartitionKey(res.Order.ID), kafkax.MustMarshal(ev),
		kafkax.EventHeaders(orders.EventOrderPlaced, 1)...); err != nil {
		h.Log.Warn("order event dropped", "order_id", res.Order.ID, "error", err)
	}
}
