package email

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/mail"
	"strings"
	"time"
)

type Handler struct {
	logger   *slog.Logger
	minDelay time.Duration
	jitter   time.Duration
}

// NewHandler returns a mock mail sink. Each send sleeps between minDelay and
// minDelay+jitter to imitate a slow provider.
func NewHandler(logger *slog.Logger, minDelay, jitter time.Duration) *Handler {
	return &Handler{
		logger:   logger,
		minDelay: minDelay,
		jitter:   jitter,
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := mail.ParseAddress(req.To); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid recipient")
		return
	}
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Body) == "" {
		h.writeError(w, http.StatusBadRequest, "subject and body are required")
		return
	}

	delay := h.minDelay
	if h.jitter > 0 {
		delay += rand.N(h.jitter)
	}
	select {
	case <-r.Context().Done():
		return
	case <-time.After(delay):
	}

	h.logger.Info("email sent", "to", req.To, "subject", req.Subject)

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
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
