package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

type NotificationHandler struct {
	emailServiceURL string
	recipientDomain string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL, recipientDomain string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: strings.TrimRight(emailServiceURL, "/"),
		recipientDomain: recipientDomain,
		httpClient:      client,
		logger:          logger,
	}
}

type emailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Handle turns an order event into a customer email. Events that do not
// concern the customer are acknowledged without sending anything.
func (h *NotificationHandler) Handle(ctx context.Context, eventType string, payload []byte) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order event: %w", err)
	}
	if event.Type == "" {
		event.Type = domain.OrderEventType(eventType)
	}

	logger := h.logger.With("order_id", event.OrderID, "event_type", event.Type)

	msg, ok := h.compose(event)
	if !ok {
		logger.Debug("event needs no notification")
		return nil
	}

	if err := h.sendEmail(ctx, msg); err != nil {
		logger.Error("failed to send notification", "error", err)
		return fmt.Errorf("send %s notification: %w", event.Type, err)
	}

	logger.Info("notification sent", "to", msg.To)
	return nil
}

func (h *NotificationHandler) compose(event domain.OrderEvent) (emailMessage, bool) {
	msg := emailMessage{To: event.UserID + "@" + h.recipientDomain}

	switch event.Type {
	case domain.OrderEventCreated:
		msg.Subject = "Order Confirmation: " + event.OrderNumber
		msg.Body = fmt.Sprintf("We received your order %s with %d products. Total: %s.",
			event.OrderNumber, len(event.Lines), event.TotalPrice.StringFixed(2))
	case domain.OrderEventCancelled:
		msg.Subject = "Order Cancelled: " + event.OrderNumber
		msg.Body = fmt.Sprintf("Your order %s has been cancelled.", event.OrderNumber)
		if event.Reason != "" {
			msg.Body += " Reason: " + event.Reason
		}
	case domain.OrderEventLineRemoved:
		msg.Subject = "Order Updated: " + event.OrderNumber
		msg.Body = fmt.Sprintf("Your order %s was updated. New total: %s.",
			event.OrderNumber, event.TotalPrice.StringFixed(2))
	case domain.OrderEventStatusChanged:
		switch event.Status {
		case domain.OrderStatusShipped:
			msg.Subject = "Order Shipped: " + event.OrderNumber
			msg.Body = fmt.Sprintf("Your order %s is on its way.", event.OrderNumber)
			if event.TrackingNumber != "" {
				msg.Body += " Tracking number: " + event.TrackingNumber
			}
		case domain.OrderStatusDelivered:
			msg.Subject = "Order Delivered: " + event.OrderNumber
			msg.Body = fmt.Sprintf("Your order %s has been delivered.", event.OrderNumber)
		default:
			return emailMessage{}, false
		}
	default:
		return emailMessage{}, false
	}

	return msg, true
}

func (h *NotificationHandler) sendEmail(ctx context.Context, msg emailMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
