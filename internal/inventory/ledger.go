package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

var tracer = otel.Tracer("inventory")

// Catalog is the product catalog as seen by the ledger. AdjustStock must apply
// delta atomically and refuse, with ErrInsufficientStock, any change that would
// leave stock negative.
type Catalog interface {
	FindProduct(ctx context.Context, productID string) (*domain.Product, error)
	AdjustStock(ctx context.Context, productID string, delta int) (*domain.Product, error)
}

// Ledger is the only writer of product stock on behalf of orders.
type Ledger struct {
	catalog Catalog
	logger  *slog.Logger
}

func NewLedger(catalog Catalog, logger *slog.Logger) *Ledger {
	return &Ledger{
		catalog: catalog,
		logger:  logger,
	}
}

// Reserve decrements stock by quantity and returns the price and title to
// snapshot into the order line.
func (l *Ledger) Reserve(ctx context.Context, productID string, quantity int) (domain.Reservation, error) {
	ctx, span := tracer.Start(ctx, "inventory.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("product.id", productID),
		attribute.Int("inventory.quantity", quantity),
	)

	res, err := l.reserve(ctx, productID, quantity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Reservation{}, err
	}
	return res, nil
}

func (l *Ledger) reserve(ctx context.Context, productID string, quantity int) (domain.Reservation, error) {
	if quantity < 1 {
		return domain.Reservation{}, ErrInvalidQuantity
	}

	product, err := l.catalog.FindProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return domain.Reservation{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return domain.Reservation{}, err
	}
	if !product.IsActive {
		return domain.Reservation{}, fmt.Errorf("%w: %s", ErrProductInactive, productID)
	}
	if quantity > product.Stock {
		return domain.Reservation{}, &InsufficientStockError{ProductID: productID, Requested: quantity, Available: product.Stock}
	}

	// The read above is only a fast path; AdjustStock re-checks under its own guard.
	updated, err := l.catalog.AdjustStock(ctx, productID, -quantity)
	if err != nil {
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) {
			stockErr.Requested = quantity
		}
		return domain.Reservation{}, err
	}

	l.logger.Debug("stock reserved", "product_id", productID, "quantity", quantity, "remaining", updated.Stock)

	return domain.Reservation{
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: updated.Price,
		Title:     updated.Title,
	}, nil
}

// Release returns quantity units to stock. Callers own idempotency: a
// reservation must be released at most once.
func (l *Ledger) Release(ctx context.Context, productID string, quantity int) error {
	ctx, span := tracer.Start(ctx, "inventory.release")
	defer span.End()
	span.SetAttributes(
		attribute.String("product.id", productID),
		attribute.Int("inventory.quantity", quantity),
	)

	if quantity < 1 {
		return ErrInvalidQuantity
	}

	updated, err := l.catalog.AdjustStock(ctx, productID, quantity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("release %d of %s: %w", quantity, productID, err)
	}

	l.logger.Debug("stock released", "product_id", productID, "quantity", quantity, "available", updated.Stock)
	return nil
}
