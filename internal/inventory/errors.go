package inventory

import (
	"errors"
	"fmt"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrProductInactive   = errors.New("product is no longer available")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
)

// InsufficientStockError carries the stock that was available when a
// reservation or adjustment was refused.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	if e.Available <= 0 {
		return fmt.Sprintf("product %s is out of stock", e.ProductID)
	}
	return fmt.Sprintf("only %d left in stock for product %s", e.Available, e.ProductID)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// refusal explains why delta could not be applied to current.
func refusal(current *domain.Product, delta int) error {
	if delta < 0 && !current.IsActive {
		return fmt.Errorf("%w: %s", ErrProductInactive, current.ID)
	}
	return &InsufficientStockError{ProductID: current.ID, Requested: -delta, Available: current.Stock}
}
