package orders

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

func (f *fixture) place(t *testing.T, userID string, items ...CartItem) *domain.Order {
	t.Helper()
	order, err := f.service.PlaceOrder(context.Background(), cart(userID, items...))
	require.NoError(t, err)
	return order
}

func (f *fixture) transition(t *testing.T, orderID string, status domain.OrderStatus) *domain.Order {
	t.Helper()
	order, err := f.service.TransitionStatus(context.Background(), TransitionInput{OrderID: orderID, Status: status})
	require.NoError(t, err)
	return order
}

func TestTransitionStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("full lifecycle to refund", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 1))

		f.transition(t, order.ID, domain.OrderStatusProcessing)
		paid := f.transition(t, order.ID, domain.OrderStatusPaid)
		assert.Equal(t, domain.PaymentStatusCompleted, paid.PaymentStatus)

		eta := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
		shipped, err := f.service.TransitionStatus(ctx, TransitionInput{
			OrderID:           order.ID,
			Status:            domain.OrderStatusShipped,
			TrackingNumber:    "TRK-123",
			EstimatedDelivery: &eta,
		})
		require.NoError(t, err)
		assert.Equal(t, "TRK-123", shipped.TrackingNumber)
		require.NotNil(t, shipped.EstimatedDelivery)
		assert.True(t, shipped.EstimatedDelivery.Equal(eta))

		f.transition(t, order.ID, domain.OrderStatusDelivered)
		refunded := f.transition(t, order.ID, domain.OrderStatusRefunded)
		assert.Equal(t, domain.PaymentStatusRefunded, refunded.PaymentStatus)
		assert.True(t, refunded.UpdatedAt.After(order.UpdatedAt))

		stored, err := f.store.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusRefunded, stored.Status)
		assert.Equal(t, "TRK-123", stored.TrackingNumber)

		types := f.publisher.types()
		require.Len(t, types, 6)
		assert.Equal(t, domain.OrderEventStatusChanged, types[5])
		assert.Equal(t, domain.OrderStatusDelivered, f.publisher.events[5].PreviousStatus)
	})

	t.Run("skipping a step is illegal", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 1))

		_, err := f.service.TransitionStatus(ctx, TransitionInput{OrderID: order.ID, Status: domain.OrderStatusShipped})

		var illegal *IllegalTransitionError
		require.ErrorAs(t, err, &illegal)
		assert.ErrorIs(t, err, ErrIllegalTransition)
		assert.Equal(t, domain.OrderStatusPending, illegal.From)
		assert.Equal(t, domain.OrderStatusShipped, illegal.To)
		assert.Equal(t, "cannot change status from pending to shipped", err.Error())

		stored, err := f.store.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusPending, stored.Status)
	})

	t.Run("terminal states accept nothing", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 1))
		for _, s := range []domain.OrderStatus{
			domain.OrderStatusProcessing, domain.OrderStatusPaid, domain.OrderStatusShipped,
			domain.OrderStatusDelivered, domain.OrderStatusRefunded,
		} {
			f.transition(t, order.ID, s)
		}

		for _, target := range domain.AllStatuses {
			_, err := f.service.TransitionStatus(ctx, TransitionInput{OrderID: order.ID, Status: target})
			assert.ErrorIs(t, err, ErrIllegalTransition, "refunded -> %s", target)
		}
	})

	t.Run("same status is not a transition", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 1))

		_, err := f.service.TransitionStatus(ctx, TransitionInput{OrderID: order.ID, Status: domain.OrderStatusPending})
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})

	t.Run("unknown status", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 1))

		_, err := f.service.TransitionStatus(ctx, TransitionInput{OrderID: order.ID, Status: "lost"})
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.TransitionStatus(ctx, TransitionInput{OrderID: "nope", Status: domain.OrderStatusProcessing})
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("transition to cancelled leaves stock alone", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 3))
		f.transition(t, order.ID, domain.OrderStatusProcessing)
		f.transition(t, order.ID, domain.OrderStatusPaid)

		cancelled := f.transition(t, order.ID, domain.OrderStatusCancelled)
		assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
		assert.Equal(t, 7, f.stock(t, "p1"))
		assert.Zero(t, f.ledger.releases.Load())
	})
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("restores stock and records the reason", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 3), item("p2", 2))
		require.Equal(t, 7, f.stock(t, "p1"))

		cancelled, err := f.service.CancelOrder(ctx, CancelInput{OrderID: order.ID, UserID: "u1", Reason: "found it cheaper"})
		require.NoError(t, err)

		assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
		assert.Contains(t, cancelled.Notes, "Cancellation reason: found it cheaper")
		assert.Equal(t, 10, f.stock(t, "p1"))
		assert.Equal(t, 5, f.stock(t, "p2"))

		types := f.publisher.types()
		require.Len(t, types, 2)
		assert.Equal(t, domain.OrderEventCancelled, types[1])
		assert.Equal(t, "found it cheaper", f.publisher.events[1].Reason)
	})

	t.Run("processing orders can be cancelled", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 1))
		f.transition(t, order.ID, domain.OrderStatusProcessing)

		_, err := f.service.CancelOrder(ctx, CancelInput{OrderID: order.ID})
		require.NoError(t, err)
		assert.Equal(t, 10, f.stock(t, "p1"))
	})

	t.Run("second cancel is refused and stock is released once", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 3))

		_, err := f.service.CancelOrder(ctx, CancelInput{OrderID: order.ID, UserID: "u1"})
		require.NoError(t, err)
		_, err = f.service.CancelOrder(ctx, CancelInput{OrderID: order.ID, UserID: "u1"})
		require.ErrorIs(t, err, ErrNotCancellable)

		assert.Equal(t, 10, f.stock(t, "p1"))
	})

	t.Run("paid orders cannot be cancelled", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 1))
		f.transition(t, order.ID, domain.OrderStatusProcessing)
		f.transition(t, order.ID, domain.OrderStatusPaid)

		_, err := f.service.CancelOrder(ctx, CancelInput{OrderID: order.ID, UserID: "u1"})
		require.ErrorIs(t, err, ErrNotCancellable)
		assert.Equal(t, 9, f.stock(t, "p1"))
	})

	t.Run("other users see not found", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 2))

		_, err := f.service.CancelOrder(ctx, CancelInput{OrderID: order.ID, UserID: "intruder"})
		require.ErrorIs(t, err, ErrOrderNotFound)
		require.ErrorIs(t, err, ErrUnauthorized)

		stored, err := f.store.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusPending, stored.Status)
		assert.Equal(t, 8, f.stock(t, "p1"))
	})

	t.Run("partial release failure keeps the order and reports inconsistency", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 2), item("p2", 1))
		f.ledger.failRelease["p2"] = true

		_, err := f.service.CancelOrder(ctx, CancelInput{OrderID: order.ID, UserID: "u1"})

		require.ErrorIs(t, err, ErrInconsistency)
		var inconsistency *InconsistencyError
		require.ErrorAs(t, err, &inconsistency)
		assert.Equal(t, order.ID, inconsistency.OrderID)
		require.Len(t, inconsistency.Failed, 1)
		assert.Equal(t, "p2", inconsistency.Failed[0].ProductID)

		stored, err := f.store.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusPending, stored.Status)
		assert.Equal(t, 10, f.stock(t, "p1"))
		assert.Equal(t, 4, f.stock(t, "p2"))
		assert.Equal(t, []domain.OrderEventType{domain.OrderEventCreated}, f.publisher.types())
	})

	t.Run("concurrent cancels release stock exactly once", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 4))

		var (
			wg        sync.WaitGroup
			succeeded atomic.Int64
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.service.CancelOrder(ctx, CancelInput{OrderID: order.ID, UserID: "u1"})
				if err == nil {
					succeeded.Add(1)
					return
				}
				assert.ErrorIs(t, err, ErrNotCancellable)
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 1, succeeded.Load())
		assert.EqualValues(t, 1, f.ledger.releases.Load())
		assert.Equal(t, 10, f.stock(t, "p1"))
	})

	t.Run("cancelled caller context does not abort compensation", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 2))

		cancelledCtx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := f.service.CancelOrder(cancelledCtx, CancelInput{OrderID: order.ID, UserID: "u1"})
		require.NoError(t, err)
		assert.Equal(t, 10, f.stock(t, "p1"))
	})
}

func TestRemoveLine(t *testing.T) {
	ctx := context.Background()

	t.Run("releases the line and recomputes totals", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 2), item("p2", 2))

		updated, err := f.service.RemoveLine(ctx, RemoveLineInput{OrderID: order.ID, UserID: "u1", ProductID: "p2"})
		require.NoError(t, err)

		require.Len(t, updated.Lines, 1)
		assert.Equal(t, "p1", updated.Lines[0].ProductID)
		assert.True(t, updated.Subtotal.Equal(dec("20")), "subtotal %s", updated.Subtotal)
		assert.True(t, updated.TotalPrice.Equal(dec("27")), "total %s", updated.TotalPrice)
		assert.Equal(t, 5, f.stock(t, "p2"))
		assert.Equal(t, 8, f.stock(t, "p1"))

		stored, err := f.store.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Len(t, stored.Lines, 1)
		assert.Contains(t, f.publisher.types(), domain.OrderEventLineRemoved)
	})

	t.Run("last line must be cancelled instead", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 2))

		_, err := f.service.RemoveLine(ctx, RemoveLineInput{OrderID: order.ID, UserID: "u1", ProductID: "p1"})
		require.ErrorIs(t, err, ErrLastLine)
		assert.Equal(t, 8, f.stock(t, "p1"))
	})

	t.Run("unknown line", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 1), item("p2", 1))

		_, err := f.service.RemoveLine(ctx, RemoveLineInput{OrderID: order.ID, UserID: "u1", ProductID: "p9"})
		require.ErrorIs(t, err, ErrLineNotFound)
	})

	t.Run("paid orders are frozen", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 1), item("p2", 1))
		f.transition(t, order.ID, domain.OrderStatusProcessing)
		f.transition(t, order.ID, domain.OrderStatusPaid)

		_, err := f.service.RemoveLine(ctx, RemoveLineInput{OrderID: order.ID, UserID: "u1", ProductID: "p2"})
		require.ErrorIs(t, err, ErrNotModifiable)
		assert.Equal(t, 4, f.stock(t, "p2"))
	})

	t.Run("other users see not found", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 1), item("p2", 1))

		_, err := f.service.RemoveLine(ctx, RemoveLineInput{OrderID: order.ID, UserID: "u2", ProductID: "p2"})
		require.ErrorIs(t, err, ErrOrderNotFound)
		assert.Equal(t, 4, f.stock(t, "p2"))
	})

	t.Run("failed release leaves the order untouched", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, "u1", item("p1", 1), item("p2", 1))
		f.ledger.failRelease["p2"] = true

		_, err := f.service.RemoveLine(ctx, RemoveLineInput{OrderID: order.ID, UserID: "u1", ProductID: "p2"})
		require.Error(t, err)

		stored, err := f.store.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Len(t, stored.Lines, 2)
	})
}
