package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/inventory"
)

const (
	headerUserID         = "X-User-ID"
	headerUserRole       = "X-User-Role"
	headerIdempotencyKey = "Idempotency-Key"
	roleAdmin            = "admin"
)

type ctxKey struct{}

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Routes mounts the customer and admin order endpoints. Caller identity comes
// from headers set by the upstream gateway.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.requireUser)
		r.Post("/orders", h.HandleCreate)
		r.Get("/orders/my", h.HandleListMine)
		r.Get("/orders/my/stats", h.HandleMyStats)
		r.Get("/orders/{id}", h.HandleGet)
		r.Patch("/orders/{id}/cancel", h.HandleCancel)
		r.Delete("/orders/{id}/lines/{productId}", h.HandleRemoveLine)
	})

	r.Route("/admin/orders", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/", h.HandleListAll)
		r.Get("/stats", h.HandleAllStats)
		r.Patch("/{id}/status", h.HandleUpdateStatus)
		r.Patch("/{id}/cancel", h.HandleAdminCancel)
	})
}

func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(headerUserID)
		if userID == "" {
			h.writeError(w, http.StatusUnauthorized, "missing user id")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerUserRole) != roleAdmin {
			h.writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFrom(ctx context.Context) string {
	userID, _ := ctx.Value(ctxKey{}).(string)
	return userID
}

type createOrderRequest struct {
	Products        []CartItem           `json:"products"`
	ShippingAddress domain.Address       `json:"shippingAddress"`
	BillingAddress  *domain.Address      `json:"billingAddress,omitempty"`
	PaymentMethod   domain.PaymentMethod `json:"paymentMethod"`
	Subtotal        decimal.Decimal      `json:"subtotal"`
	Tax             decimal.Decimal      `json:"tax"`
	Shipping        decimal.Decimal      `json:"shipping"`
	Discount        decimal.Decimal      `json:"discount"`
	TotalPrice      decimal.Decimal      `json:"totalPrice"`
	Notes           string               `json:"notes"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.PlaceOrder(r.Context(), PlaceOrderInput{
		UserID:          userFrom(r.Context()),
		Items:           req.Products,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PaymentMethod:   req.PaymentMethod,
		Subtotal:        req.Subtotal,
		Tax:             req.Tax,
		Shipping:        req.Shipping,
		Discount:        req.Discount,
		TotalPrice:      req.TotalPrice,
		Notes:           req.Notes,
		IdempotencyKey:  r.Header.Get(headerIdempotencyKey),
	})
	if err != nil {
		h.fail(w, err, "failed to place order")
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"), userFrom(r.Context()))
	if err != nil {
		h.fail(w, err, "failed to get order")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

type listResponse struct {
	Orders []domain.Order `json:"orders"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
}

func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, userFrom(r.Context()))
}

func (h *Handler) HandleListAll(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "")
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, userID string) {
	query := r.URL.Query()
	page, err := intParam(query.Get("page"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	limit, err := intParam(query.Get("limit"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	q := ListQuery{
		UserID: userID,
		Status: domain.OrderStatus(query.Get("status")),
		Page:   page,
		Limit:  limit,
	}
	orders, err := h.service.ListOrders(r.Context(), q)
	if err != nil {
		h.fail(w, err, "failed to list orders")
		return
	}

	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultPageSize
	}
	h.logger.Info("orders listed", "count", len(orders), "user_id", userID)
	h.writeJSON(w, http.StatusOK, listResponse{Orders: orders, Page: q.Page, Limit: min(q.Limit, maxPageSize)})
}

func (h *Handler) HandleMyStats(w http.ResponseWriter, r *http.Request) {
	h.stats(w, r, userFrom(r.Context()))
}

func (h *Handler) HandleAllStats(w http.ResponseWriter, r *http.Request) {
	h.stats(w, r, "")
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request, userID string) {
	summary, err := h.service.Stats(r.Context(), userID)
	if err != nil {
		h.fail(w, err, "failed to compute order stats")
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, userFrom(r.Context()))
}

func (h *Handler) HandleAdminCancel(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, "")
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request, userID string) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	order, err := h.service.CancelOrder(r.Context(), CancelInput{
		OrderID: chi.URLParam(r, "id"),
		UserID:  userID,
		Reason:  req.Reason,
	})
	if err != nil {
		h.fail(w, err, "failed to cancel order")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleRemoveLine(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.RemoveLine(r.Context(), RemoveLineInput{
		OrderID:   chi.URLParam(r, "id"),
		UserID:    userFrom(r.Context()),
		ProductID: chi.URLParam(r, "productId"),
	})
	if err != nil {
		h.fail(w, err, "failed to remove order line")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status            domain.OrderStatus `json:"status"`
	TrackingNumber    string             `json:"trackingNumber"`
	EstimatedDelivery *time.Time         `json:"estimatedDelivery"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.TransitionStatus(r.Context(), TransitionInput{
		OrderID:           chi.URLParam(r, "id"),
		Status:            req.Status,
		TrackingNumber:    req.TrackingNumber,
		EstimatedDelivery: req.EstimatedDelivery,
	})
	if err != nil {
		h.fail(w, err, "failed to update order status")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

// fail maps workflow errors onto HTTP statuses. Inconsistencies are checked
// first because they can be joined with the error that triggered them.
func (h *Handler) fail(w http.ResponseWriter, err error, msg string) {
	var (
		stockErr    *inventory.InsufficientStockError
		mismatchErr *MismatchError
	)

	switch {
	case errors.Is(err, ErrInconsistency):
		h.logger.Error(msg, "error", err, "inconsistency", true)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	case errors.Is(err, ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, ErrLineNotFound), errors.Is(err, inventory.ErrProductNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &stockErr):
		h.writeError(w, http.StatusConflict, stockErr.Error())
	case errors.As(err, &mismatchErr):
		h.writeError(w, http.StatusBadRequest, mismatchErr.Error())
	case errors.Is(err, inventory.ErrProductInactive),
		errors.Is(err, ErrIllegalTransition),
		errors.Is(err, ErrNotCancellable),
		errors.Is(err, ErrNotModifiable),
		errors.Is(err, ErrLastLine),
		errors.Is(err, ErrRequestInFlight):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, ErrInvalidPaymentMethod),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidAddress):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error(msg, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
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
