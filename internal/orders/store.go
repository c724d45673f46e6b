package orders

import (
	"context"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

// Store persists orders. Update must serialize concurrent mutations of the same
// order: mutate runs against the latest state, and nothing is written when it
// returns an error. Stock for an existing order is changed only through the
// Ledger handed to mutate. A transactional store binds that Ledger to the
// same transaction as the order row, so the stock changes are kept exactly
// when the order write commits.
type Store interface {
	Create(ctx context.Context, order *domain.Order) error
	Get(ctx context.Context, id string) (*domain.Order, error)
	Update(ctx context.Context, id string, mutate func(*domain.Order, Ledger) error) (*domain.Order, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Order, error)
	StatusTotals(ctx context.Context, userID string) ([]domain.StatusTotal, error)
}

type ListFilter struct {
	UserID string
	Status domain.OrderStatus
	Limit  int
	Offset int
}

// Ledger reserves and releases product stock.
type Ledger interface {
	Reserve(ctx context.Context, productID string, quantity int) (domain.Reservation, error)
	Release(ctx context.Context, productID string, quantity int) error
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// IdempotencyStore remembers which order a client-supplied key produced.
// Claim returns claimed=true when the caller now owns key. Otherwise orderID
// is the order already placed for key, or empty while that placement is
// still running.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string) (orderID string, claimed bool, err error)
	Complete(ctx context.Context, key, orderID string) error
	Abandon(ctx context.Context, key string) error
}
