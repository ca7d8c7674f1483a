package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-storefront/internal/storage"
	"github.com/go-chi/chi/v5"
)

type ImageOpener interface {
	Open(ctx context.Context, name string) (storage.Object, error)
}

// ImagesHandler serves uploaded product images.
type ImagesHandler struct {
	Images ImageOpener
	Log    *slog.Logger
}

func (h *ImagesHandler) Register(r chi.Router) {
	r.Get("/images/{name}", h.get)
}

func (h *ImagesHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	obj, err := h.Images.Open(ctx, chi.URLParam(r, "name"))
	if errors.Is(err, storage.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		h.Log.Error("open image", "name", chi.URLParam(r, "name"), "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}
