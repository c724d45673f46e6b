package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

// Store is a Catalog that can also enumerate its products.
type Store interface {
	Catalog
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/stock", h.HandleListStock)
	r.Get("/stock/{productId}", h.HandleGetStock)
	r.Post("/stock/{productId}/adjust", h.HandleAdjust)
}

func (h *Handler) HandleListStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListProducts(r.Context())
	if err != nil {
		h.logger.Error("failed to list stock", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if products == nil {
		products = []domain.Product{}
	}

	h.logger.Info("stock listed", "count", len(products))
	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	product, err := h.store.FindProduct(r.Context(), productID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			h.writeError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("failed to get stock", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, product)
}

type adjustRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

// HandleAdjust applies a signed stock correction (restock or shrinkage).
func (h *Handler) HandleAdjust(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Delta == 0 {
		h.writeError(w, http.StatusBadRequest, "delta must not be zero")
		return
	}

	product, err := h.store.AdjustStock(r.Context(), productID, req.Delta)
	if err != nil {
		var stockErr *InsufficientStockError
		switch {
		case errors.Is(err, ErrProductNotFound):
			h.writeError(w, http.StatusNotFound, "product not found")
		case errors.Is(err, ErrProductInactive):
			h.writeError(w, http.StatusConflict, "product is no longer available")
		case errors.As(err, &stockErr):
			h.writeError(w, http.StatusConflict, stockErr.Error())
		default:
			h.logger.Error("failed to adjust stock", "error", err, "product_id", productID, "delta", req.Delta)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.logger.Info("stock adjusted", "product_id", productID, "delta", req.Delta, "stock", product.Stock, "reason", req.Reason)
	h.writeJSON(w, http.StatusOK, product)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
