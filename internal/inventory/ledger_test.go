package inventory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func product(id string, stock int, price string) domain.Product {
	return domain.Product{ID: id, Title: "Product " + id, Price: decimal.RequireFromString(price), Stock: stock, IsActive: true}
}

func stockOf(t *testing.T, c *MemoryCatalog, id string) int {
	t.Helper()
	p, err := c.FindProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestLedgerReserve(t *testing.T) {
	ctx := context.Background()

	t.Run("decrements stock and snapshots price", func(t *testing.T) {
		catalog := NewMemoryCatalog(product("p1", 5, "10.00"))
		ledger := NewLedger(catalog, testLogger())

		res, err := ledger.Reserve(ctx, "p1", 2)
		require.NoError(t, err)

		assert.Equal(t, "p1", res.ProductID)
		assert.Equal(t, 2, res.Quantity)
		assert.True(t, res.UnitPrice.Equal(decimal.RequireFromString("10")))
		assert.Equal(t, "Product p1", res.Title)
		assert.Equal(t, 3, stockOf(t, catalog, "p1"))
	})

	t.Run("insufficient stock leaves stock unchanged", func(t *testing.T) {
		catalog := NewMemoryCatalog(product("p1", 3, "10.00"))
		ledger := NewLedger(catalog, testLogger())

		_, err := ledger.Reserve(ctx, "p1", 4)
		require.ErrorIs(t, err, ErrInsufficientStock)

		var stockErr *InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, 3, stockErr.Available)
		assert.Equal(t, 4, stockErr.Requested)
		assert.Equal(t, "only 3 left in stock for product p1", stockErr.Error())
		assert.Equal(t, 3, stockOf(t, catalog, "p1"))
	})

	t.Run("unknown product", func(t *testing.T) {
		ledger := NewLedger(NewMemoryCatalog(), testLogger())
		_, err := ledger.Reserve(ctx, "ghost", 1)
		assert.ErrorIs(t, err, ErrProductNotFound)
	})

	t.Run("inactive product", func(t *testing.T) {
		p := product("p1", 5, "1")
		p.IsActive = false
		catalog := NewMemoryCatalog(p)
		ledger := NewLedger(catalog, testLogger())

		_, err := ledger.Reserve(ctx, "p1", 1)
		assert.ErrorIs(t, err, ErrProductInactive)
		assert.Equal(t, 5, stockOf(t, catalog, "p1"))
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		catalog := NewMemoryCatalog(product("p1", 5, "1"))
		ledger := NewLedger(catalog, testLogger())

		for _, qty := range []int{0, -2} {
			_, err := ledger.Reserve(ctx, "p1", qty)
			assert.ErrorIs(t, err, ErrInvalidQuantity)
		}
		assert.Equal(t, 5, stockOf(t, catalog, "p1"))
	})
}

func TestLedgerRelease(t *testing.T) {
	ctx := context.Background()
	catalog := NewMemoryCatalog(product("p1", 1, "1"))
	ledger := NewLedger(catalog, testLogger())

	require.NoError(t, ledger.Release(ctx, "p1", 4))
	assert.Equal(t, 5, stockOf(t, catalog, "p1"))

	assert.ErrorIs(t, ledger.Release(ctx, "p1", 0), ErrInvalidQuantity)
	assert.ErrorIs(t, ledger.Release(ctx, "ghost", 1), ErrProductNotFound)
}

func TestLedgerConcurrentReservations(t *testing.T) {
	ctx := context.Background()
	catalog := NewMemoryCatalog(product("p1", 50, "1"))
	ledger := NewLedger(catalog, testLogger())

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		refused   atomic.Int64
	)
	for range 80 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Reserve(ctx, "p1", 1)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrInsufficientStock):
				refused.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 50, succeeded.Load())
	assert.EqualValues(t, 30, refused.Load())
	assert.Equal(t, 0, stockOf(t, catalog, "p1"))
}

// raceCatalog reports plenty of stock on read but refuses the adjustment, the
// way a concurrent reservation would between the two calls.
type raceCatalog struct {
	*MemoryCatalog
}

func (r raceCatalog) AdjustStock(_ context.Context, productID string, delta int) (*domain.Product, error) {
	return nil, &InsufficientStockError{ProductID: productID, Requested: -delta, Available: 0}
}

func TestLedgerReserveLosesRace(t *testing.T) {
	ledger := NewLedger(raceCatalog{NewMemoryCatalog(product("p1", 10, "1"))}, testLogger())

	_, err := ledger.Reserve(context.Background(), "p1", 2)

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 2, stockErr.Requested)
	assert.Equal(t, "product p1 is out of stock", stockErr.Error())
}

// retiringCatalog serves a stale active read, then retires the product before
// the adjustment lands.
type retiringCatalog struct {
	*MemoryCatalog
}

func (r retiringCatalog) FindProduct(ctx context.Context, productID string) (*domain.Product, error) {
	p, err := r.MemoryCatalog.FindProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	retired := *p
	retired.IsActive = false
	r.Put(retired)
	return p, nil
}

func TestLedgerReserveAfterDeactivation(t *testing.T) {
	ctx := context.Background()
	catalog := NewMemoryCatalog(product("p1", 5, "1"))
	ledger := NewLedger(retiringCatalog{catalog}, testLogger())

	_, err := ledger.Reserve(ctx, "p1", 2)

	require.ErrorIs(t, err, ErrProductInactive)
	assert.Equal(t, 5, stockOf(t, catalog, "p1"))

	require.NoError(t, ledger.Release(ctx, "p1", 1), "returning stock to a retired product is allowed")
	assert.Equal(t, 6, stockOf(t, catalog, "p1"))
}
