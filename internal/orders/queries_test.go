package orders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

func TestGetOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.place(t, "u1", item("p1", 1))

	got, err := f.service.GetOrder(ctx, order.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = f.service.GetOrder(ctx, order.ID, "u2")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.ErrorIs(t, err, ErrUnauthorized)

	admin, err := f.service.GetOrder(ctx, order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "u1", admin.UserID)

	_, err = f.service.GetOrder(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var placed []*domain.Order
	for range 5 {
		placed = append(placed, f.place(t, "u1", item("p1", 1)))
	}
	f.place(t, "u2", item("p1", 1))
	f.transition(t, placed[0].ID, domain.OrderStatusProcessing)

	t.Run("newest first, scoped to user", func(t *testing.T) {
		orders, err := f.service.ListOrders(ctx, ListQuery{UserID: "u1"})
		require.NoError(t, err)
		require.Len(t, orders, 5)
		assert.Equal(t, placed[4].ID, orders[0].ID)
		assert.Equal(t, placed[0].ID, orders[4].ID)
	})

	t.Run("pagination", func(t *testing.T) {
		page2, err := f.service.ListOrders(ctx, ListQuery{UserID: "u1", Page: 2, Limit: 2})
		require.NoError(t, err)
		require.Len(t, page2, 2)
		assert.Equal(t, placed[2].ID, page2[0].ID)

		beyond, err := f.service.ListOrders(ctx, ListQuery{UserID: "u1", Page: 10, Limit: 2})
		require.NoError(t, err)
		assert.NotNil(t, beyond)
		assert.Empty(t, beyond)
	})

	t.Run("status filter", func(t *testing.T) {
		orders, err := f.service.ListOrders(ctx, ListQuery{Status: domain.OrderStatusProcessing})
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, placed[0].ID, orders[0].ID)
	})

	t.Run("all users", func(t *testing.T) {
		orders, err := f.service.ListOrders(ctx, ListQuery{Limit: 500})
		require.NoError(t, err)
		assert.Len(t, orders, 6)
	})

	t.Run("invalid status", func(t *testing.T) {
		_, err := f.service.ListOrders(ctx, ListQuery{Status: "lost"})
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})
}

type limitRecorder struct {
	*MemoryStore
	last ListFilter
}

func (r *limitRecorder) List(ctx context.Context, filter ListFilter) ([]domain.Order, error) {
	r.last = filter
	return nil, nil
}

func TestListOrdersNormalizesPaging(t *testing.T) {
	store := &limitRecorder{MemoryStore: NewMemoryStore(nil)}
	svc, err := NewService(store, nil, testLogger())
	require.NoError(t, err)

	tests := []struct {
		name       string
		query      ListQuery
		wantLimit  int
		wantOffset int
	}{
		{"defaults", ListQuery{}, 10, 0},
		{"capped limit", ListQuery{Page: 3, Limit: 1000}, 100, 200},
		{"negative page", ListQuery{Page: -4, Limit: 5}, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders, err := svc.ListOrders(context.Background(), tt.query)
			require.NoError(t, err)
			assert.NotNil(t, orders)
			assert.Equal(t, tt.wantLimit, store.last.Limit)
			assert.Equal(t, tt.wantOffset, store.last.Offset)
		})
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := f.place(t, "u1", item("p1", 1))           // 17.00
	f.place(t, "u1", item("p1", 2))                // 27.00
	c := f.place(t, "u1", item("p2", 1))           // 12.50
	f.place(t, "u2", item("p1", 1), item("p2", 2)) // 28.00

	_, err := f.service.CancelOrder(ctx, CancelInput{OrderID: c.ID, UserID: "u1"})
	require.NoError(t, err)
	f.transition(t, a.ID, domain.OrderStatusProcessing)

	mine, err := f.service.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, mine.TotalOrders)
	assert.True(t, mine.TotalRevenue.Equal(dec("44")), "revenue %s", mine.TotalRevenue)
	assert.True(t, mine.AverageOrderValue.Equal(dec("22")), "average %s", mine.AverageOrderValue)
	assert.Equal(t, 1, mine.StatusCounts[domain.OrderStatusCancelled])
	assert.Equal(t, 1, mine.StatusCounts[domain.OrderStatusProcessing])
	assert.Equal(t, 1, mine.StatusCounts[domain.OrderStatusPending])

	all, err := f.service.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 4, all.TotalOrders)
	assert.True(t, all.TotalRevenue.Equal(dec("72")), "revenue %s", all.TotalRevenue)
	assert.True(t, all.AverageOrderValue.Equal(dec("24")), "average %s", all.AverageOrderValue)

	none, err := f.service.Stats(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, none.TotalOrders)
	assert.True(t, none.AverageOrderValue.IsZero())
}
