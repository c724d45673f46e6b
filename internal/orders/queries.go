package orders

import (
	"context"
	"fmt"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// GetOrder returns an order. A non-empty userID restricts the lookup to
// orders owned by that user.
func (s *Service) GetOrder(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if userID != "" && order.UserID != userID {
		return nil, errNotOwner
	}
	return order, nil
}

type ListQuery struct {
	UserID string
	Status domain.OrderStatus
	Page   int
	Limit  int
}

// ListOrders returns one page of orders, newest first.
func (s *Service) ListOrders(ctx context.Context, q ListQuery) ([]domain.Order, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, q.Status)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.Limit < 1:
		q.Limit = defaultPageSize
	case q.Limit > maxPageSize:
		q.Limit = maxPageSize
	}

	orders, err := s.store.List(ctx, ListFilter{
		UserID: q.UserID,
		Status: q.Status,
		Limit:  q.Limit,
		Offset: (q.Page - 1) * q.Limit,
	})
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

// Stats summarizes orders, optionally for a single user. It reads whatever
// the store returns and may lag concurrent writes.
func (s *Service) Stats(ctx context.Context, userID string) (domain.StatsSummary, error) {
	totals, err := s.store.StatusTotals(ctx, userID)
	if err != nil {
		return domain.StatsSummary{}, err
	}
	return domain.Summarize(totals), nil
}
