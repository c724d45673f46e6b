package orders

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/inventory"
)

type metrics struct {
	placed            metric.Int64Counter
	placementFailures metric.Int64Counter
	rollbacks         metric.Int64Counter
	cancelled         metric.Int64Counter
	transitions       metric.Int64Counter
	inconsistencies   metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	var m metrics
	var err error

	if m.placed, err = meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders successfully placed")); err != nil {
		return nil, err
	}
	if m.placementFailures, err = meter.Int64Counter("orders.placement_failures",
		metric.WithDescription("Order placements rejected or failed, by reason")); err != nil {
		return nil, err
	}
	if m.rollbacks, err = meter.Int64Counter("orders.reservation_rollbacks",
		metric.WithDescription("Placements whose partial stock reservations were released")); err != nil {
		return nil, err
	}
	if m.cancelled, err = meter.Int64Counter("orders.cancelled",
		metric.WithDescription("Orders cancelled with stock restored")); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("orders.status_transitions",
		metric.WithDescription("Order status transitions applied")); err != nil {
		return nil, err
	}
	if m.inconsistencies, err = meter.Int64Counter("orders.inventory_inconsistencies",
		metric.WithDescription("Stock changes that could not be matched by an order change")); err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *metrics) placementFailed(ctx context.Context, err error) {
	m.placementFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", failureReason(err))))
}

func (m *metrics) transitioned(ctx context.Context, from, to domain.OrderStatus) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func (m *metrics) inconsistent(ctx context.Context, operation string) {
	m.inconsistencies.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInconsistency):
		return "inconsistency"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, inventory.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, inventory.ErrProductInactive):
		return "product_inactive"
	case errors.Is(err, inventory.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrSubtotalMismatch):
		return "subtotal_mismatch"
	case errors.Is(err, ErrTotalMismatch):
		return "total_mismatch"
	case errors.Is(err, ErrRequestInFlight):
		return "request_in_flight"
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidPaymentMethod),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAddress):
		return "invalid_request"
	default:
		return "internal"
	}
}
