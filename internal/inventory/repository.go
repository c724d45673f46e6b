package inventory

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ProductRepository is the Postgres-backed Catalog.
type ProductRepository struct {
	db DBTX
	// mu is set when db is a transaction. A transaction owns one connection,
	// which runs one statement at a time.
	mu *sync.Mutex
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// WithTx returns a repository whose statements run inside tx, so stock changes
// commit or roll back together with whatever else tx writes.
func (r *ProductRepository) WithTx(tx *sql.Tx) *ProductRepository {
	return &ProductRepository{db: tx, mu: &sync.Mutex{}}
}

func (r *ProductRepository) lock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *ProductRepository) ListProducts(ctx context.Context) ([]domain.Product, error) {
	defer r.lock()()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, price, stock, is_active, updated_at
		FROM products
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Title, &p.Price, &p.Stock, &p.IsActive, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (r *ProductRepository) FindProduct(ctx context.Context, productID string) (*domain.Product, error) {
	defer r.lock()()
	return r.findProduct(ctx, productID)
}

func (r *ProductRepository) findProduct(ctx context.Context, productID string) (*domain.Product, error) {
	p := &domain.Product{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, price, stock, is_active, updated_at
		FROM products
		WHERE id = $1
	`, productID).Scan(&p.ID, &p.Title, &p.Price, &p.Stock, &p.IsActive, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	return p, nil
}

// AdjustStock applies delta in a single guarded UPDATE so concurrent callers can
// never drive stock below zero or take stock from an inactive product.
func (r *ProductRepository) AdjustStock(ctx context.Context, productID string, delta int) (*domain.Product, error) {
	defer r.lock()()

	p := &domain.Product{}
	err := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1 AND stock + $2 >= 0 AND (is_active OR $2 > 0)
		RETURNING id, title, price, stock, is_active, updated_at
	`, productID, delta).Scan(&p.ID, &p.Title, &p.Price, &p.Stock, &p.IsActive, &p.UpdatedAt)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	current, err := r.findProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return nil, refusal(current, delta)
}

// UpsertProduct inserts a product or overwrites its catalog fields and stock.
func (r *ProductRepository) UpsertProduct(ctx context.Context, p domain.Product) error {
	defer r.lock()()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, title, price, stock, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
	`, p.ID, p.Title, p.Price, p.Stock, p.IsActive)
	return err
}
