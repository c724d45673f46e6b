package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

type TransitionInput struct {
	OrderID           string
	Status            domain.OrderStatus
	TrackingNumber    string
	EstimatedDelivery *time.Time
}

// TransitionStatus moves an order along the status table. Reaching cancelled
// this way never touches stock; use CancelOrder for that.
func (s *Service) TransitionStatus(ctx context.Context, in TransitionInput) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "orders.transition", trace.WithAttributes(
		attribute.String("order.id", in.OrderID),
		attribute.String("order.status.requested", string(in.Status)),
	))
	defer span.End()

	if !in.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}

	var previous domain.OrderStatus
	now := s.now().UTC()
	order, err := s.store.Update(ctx, in.OrderID, func(o *domain.Order, _ Ledger) error {
		if !domain.CanTransition(o.Status, in.Status) {
			return &IllegalTransitionError{From: o.Status, To: in.Status}
		}
		previous = o.Status
		applyTransition(o, in, now)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.metrics.transitioned(ctx, previous, order.Status)
	logger := s.logger.With("order_id", order.ID)
	logger.Info("order status changed", "from", previous, "to", order.Status)

	event := domain.NewOrderEvent(domain.OrderEventStatusChanged, order, now)
	event.PreviousStatus = previous
	s.publish(ctx, logger, event)
	return order, nil
}

func applyTransition(o *domain.Order, in TransitionInput, now time.Time) {
	o.Status = in.Status
	switch in.Status {
	case domain.OrderStatusPaid:
		o.PaymentStatus = domain.PaymentStatusCompleted
	case domain.OrderStatusRefunded:
		o.PaymentStatus = domain.PaymentStatusRefunded
	}
	if in.TrackingNumber != "" {
		o.TrackingNumber = in.TrackingNumber
	}
	if in.EstimatedDelivery != nil {
		eta := in.EstimatedDelivery.UTC()
		o.EstimatedDelivery = &eta
	}
	o.UpdatedAt = now
}

type CancelInput struct {
	OrderID string
	// UserID scopes the cancellation to the order owner. Empty means a
	// privileged caller.
	UserID string
	Reason string
}

// CancelOrder releases the stock of every line and then marks the order
// cancelled. The releases go through the store's ledger, so with a
// transactional store they are kept only if the status change commits. If any
// release fails the order keeps its status and an InconsistencyError is
// returned.
func (s *Service) CancelOrder(ctx context.Context, in CancelInput) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "orders.cancel", trace.WithAttributes(
		attribute.String("order.id", in.OrderID),
	))
	defer span.End()

	// Once releases start they must run to completion together with the
	// status change, regardless of the caller.
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.With("order_id", in.OrderID)

	var previous domain.OrderStatus
	now := s.now().UTC()
	order, err := s.store.Update(ctx, in.OrderID, func(o *domain.Order, stock Ledger) error {
		if in.UserID != "" && o.UserID != in.UserID {
			return errNotOwner
		}
		if !o.Status.Cancellable() {
			return fmt.Errorf("%w: order %s is %s", ErrNotCancellable, o.OrderNumber, o.Status)
		}
		if stock == nil {
			return errNoStoreLedger
		}
		if failed := releaseLines(ctx, stock, o.Lines); len(failed) > 0 {
			return &InconsistencyError{OrderID: o.ID, Operation: "cancellation", Failed: failed}
		}

		previous = o.Status
		if in.Reason != "" {
			o.AppendNote("Cancellation reason: " + in.Reason)
		}
		o.Status = domain.OrderStatusCancelled
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInconsistency) {
			s.metrics.inconsistent(ctx, "cancellation")
			logger.Error("order cancellation could not release every line", "error", err, "inconsistency", true)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.metrics.cancelled.Add(ctx, 1)
	logger.Info("order cancelled", "from", previous, "lines_released", len(order.Lines))

	event := domain.NewOrderEvent(domain.OrderEventCancelled, order, now)
	event.PreviousStatus = previous
	event.Reason = in.Reason
	s.publish(ctx, logger, event)
	return order, nil
}

// releaseLines releases every line concurrently and waits for all of them.
func releaseLines(ctx context.Context, stock Ledger, lines []domain.OrderLine) []LineFailure {
	errs := make([]error, len(lines))
	var g errgroup.Group
	for i, line := range lines {
		g.Go(func() error {
			errs[i] = stock.Release(ctx, line.ProductID, line.Quantity)
			return errs[i]
		})
	}
	_ = g.Wait()

	var failed []LineFailure
	for i, err := range errs {
		if err != nil {
			failed = append(failed, LineFailure{ProductID: lines[i].ProductID, Quantity: lines[i].Quantity, Err: err})
		}
	}
	return failed
}

type RemoveLineInput struct {
	OrderID   string
	UserID    string
	ProductID string
}

// RemoveLine drops one product from an unpaid order, returns its stock and
// recomputes the totals from the remaining snapshot prices.
func (s *Service) RemoveLine(ctx context.Context, in RemoveLineInput) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "orders.remove_line", trace.WithAttributes(
		attribute.String("order.id", in.OrderID),
		attribute.String("product.id", in.ProductID),
	))
	defer span.End()

	ctx = context.WithoutCancel(ctx)
	logger := s.logger.With("order_id", in.OrderID)

	var removed domain.OrderLine
	now := s.now().UTC()
	order, err := s.store.Update(ctx, in.OrderID, func(o *domain.Order, stock Ledger) error {
		if in.UserID != "" && o.UserID != in.UserID {
			return errNotOwner
		}
		if !o.Status.Cancellable() {
			return fmt.Errorf("%w: order %s is %s", ErrNotModifiable, o.OrderNumber, o.Status)
		}
		idx := o.LineIndex(in.ProductID)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrLineNotFound, in.ProductID)
		}
		if len(o.Lines) == 1 {
			return ErrLastLine
		}

		remaining := make([]domain.OrderLine, 0, len(o.Lines)-1)
		remaining = append(remaining, o.Lines[:idx]...)
		remaining = append(remaining, o.Lines[idx+1:]...)
		subtotal := domain.LinesSubtotal(remaining)
		total := domain.ComputeTotal(subtotal, o.Tax, o.Shipping, o.Discount)
		if total.IsNegative() {
			return fmt.Errorf("%w: removing %s leaves a negative total", ErrInvalidAmount, in.ProductID)
		}

		if stock == nil {
			return errNoStoreLedger
		}
		removed = o.Lines[idx]
		if err := stock.Release(ctx, removed.ProductID, removed.Quantity); err != nil {
			return fmt.Errorf("release removed line: %w", err)
		}

		o.Lines = remaining
		o.Subtotal = subtotal
		o.TotalPrice = total
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	logger.Info("order line removed", "product_id", removed.ProductID, "quantity", removed.Quantity, "total", order.TotalPrice.StringFixed(2))
	s.publish(ctx, logger, domain.NewOrderEvent(domain.OrderEventLineRemoved, order, now))
	return order, nil
}
