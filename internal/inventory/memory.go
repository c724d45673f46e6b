package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

// MemoryCatalog is a Catalog held in process memory. A single mutex makes every
// stock adjustment a compare-and-adjust.
type MemoryCatalog struct {
	mu       sync.Mutex
	products map[string]domain.Product
}

func NewMemoryCatalog(products ...domain.Product) *MemoryCatalog {
	c := &MemoryCatalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *MemoryCatalog) Put(product domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	product.UpdatedAt = time.Now().UTC()
	c.products[product.ID] = product
}

func (c *MemoryCatalog) FindProduct(_ context.Context, productID string) (*domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

func (c *MemoryCatalog) AdjustStock(_ context.Context, productID string, delta int) (*domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	if p.Stock+delta < 0 || (delta < 0 && !p.IsActive) {
		return nil, refusal(&p, delta)
	}

	p.Stock += delta
	p.UpdatedAt = time.Now().UTC()
	c.products[productID] = p
	return &p, nil
}

func (c *MemoryCatalog) ListProducts(_ context.Context) ([]domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	products := make([]domain.Product, 0, len(c.products))
	for _, p := range c.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}
