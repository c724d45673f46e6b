package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderEventType string

const (
	OrderEventCreated       OrderEventType = "order.created"
	OrderEventStatusChanged OrderEventType = "order.status_changed"
	OrderEventCancelled     OrderEventType = "order.cancelled"
	OrderEventLineRemoved   OrderEventType = "order.line_removed"
)

type OrderEvent struct {
	Type           OrderEventType  `json:"type"`
	OrderID        string          `json:"order_id"`
	OrderNumber    string          `json:"order_number"`
	UserID         string          `json:"user_id"`
	Status         OrderStatus     `json:"status"`
	PreviousStatus OrderStatus     `json:"previous_status,omitempty"`
	Lines          []OrderLine     `json:"lines,omitempty"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOrderEvent(eventType OrderEventType, order *Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Status:         order.Status,
		Lines:          order.Lines,
		TotalPrice:     order.TotalPrice,
		TrackingNumber: order.TrackingNumber,
		Timestamp:      at,
	}
}

func (e OrderEvent) EventType() string { return string(e.Type) }
