package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

const uniqueViolation = "23505"

const orderColumns = `id, user_id, order_number, status, payment_method, payment_status,
	shipping_address, billing_address, subtotal, tax, shipping, discount, total_price,
	tracking_number, estimated_delivery, notes, created_at, updated_at`

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// TxLedger builds a Ledger whose stock changes run inside tx.
type TxLedger func(tx *sql.Tx) Ledger

type OrderRepository struct {
	db        *sql.DB
	ledgerFor TxLedger
}

func NewOrderRepository(db *sql.DB, ledgerFor TxLedger) *OrderRepository {
	return &OrderRepository{db: db, ledgerFor: ledgerFor}
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	shipping, billing, err := encodeAddresses(order)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, order_number, status, payment_method, payment_status,
			shipping_address, billing_address, subtotal, tax, shipping, discount, total_price,
			tracking_number, estimated_delivery, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, order.ID, order.UserID, order.OrderNumber, order.Status, order.PaymentMethod, order.PaymentStatus,
		shipping, billing, order.Subtotal, order.Tax, order.Shipping, order.Discount, order.TotalPrice,
		nullString(order.TrackingNumber), order.EstimatedDelivery, order.Notes, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "orders_order_number_key" {
			return ErrDuplicateOrderNumber
		}
		return err
	}

	if err := insertLines(ctx, tx, order); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, r.db, id, false)
}

// Update locks the order row for the duration of mutate, so concurrent
// transitions and cancellations of one order run one after another. Stock
// released through the ledger handed to mutate shares the transaction: it
// commits with the order write or not at all, and needs no second connection.
func (r *OrderRepository) Update(ctx context.Context, id string, mutate func(*domain.Order, Ledger) error) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := getOrder(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	lineCount := len(order.Lines)

	var stock Ledger
	if r.ledgerFor != nil {
		stock = r.ledgerFor(tx)
	}
	if err := mutate(order, stock); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, payment_status = $3, tracking_number = $4, estimated_delivery = $5,
			notes = $6, subtotal = $7, total_price = $8, updated_at = $9
		WHERE id = $1
	`, order.ID, order.Status, order.PaymentStatus, nullString(order.TrackingNumber), order.EstimatedDelivery,
		order.Notes, order.Subtotal, order.TotalPrice, order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(order.Lines) != lineCount {
		if _, err := tx.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = $1`, order.ID); err != nil {
			return nil, err
		}
		if err := insertLines(ctx, tx, order); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit order %s: %w", order.ID, err)
	}
	return order, nil
}

func (r *OrderRepository) List(ctx context.Context, filter ListFilter) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4
	`, filter.UserID, filter.Status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		order.Lines = []domain.OrderLine{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	lineRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, title, quantity, unit_price
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = lineRows.Close() }()

	for lineRows.Next() {
		var orderID string
		var line domain.OrderLine
		if err := lineRows.Scan(&orderID, &line.ProductID, &line.Title, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Lines = append(order.Lines, line)
	}

	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

func (r *OrderRepository) StatusTotals(ctx context.Context, userID string) ([]domain.StatusTotal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(total_price), 0)
		FROM orders
		WHERE ($1 = '' OR user_id = $1)
		GROUP BY status
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var totals []domain.StatusTotal
	for rows.Next() {
		var t domain.StatusTotal
		if err := rows.Scan(&t.Status, &t.Count, &t.Total); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return totals, nil
}

func getOrder(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, title, quantity, unit_price
		FROM order_lines
		WHERE order_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ProductID, &line.Title, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, err
		}
		order.Lines = append(order.Lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order    domain.Order
		shipping []byte
		billing  []byte
		tracking sql.NullString
		eta      sql.NullTime
	)

	err := row.Scan(&order.ID, &order.UserID, &order.OrderNumber, &order.Status, &order.PaymentMethod, &order.PaymentStatus,
		&shipping, &billing, &order.Subtotal, &order.Tax, &order.Shipping, &order.Discount, &order.TotalPrice,
		&tracking, &eta, &order.Notes, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(shipping, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address of order %s: %w", order.ID, err)
	}
	if billing != nil {
		order.BillingAddress = &domain.Address{}
		if err := json.Unmarshal(billing, order.BillingAddress); err != nil {
			return nil, fmt.Errorf("decode billing address of order %s: %w", order.ID, err)
		}
	}
	order.TrackingNumber = tracking.String
	if eta.Valid {
		t := eta.Time.UTC()
		order.EstimatedDelivery = &t
	}

	return &order, nil
}

func insertLines(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	for i, line := range order.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, position, product_id, title, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, order.ID, i, line.ProductID, line.Title, line.Quantity, line.UnitPrice)
		if err != nil {
			return err
		}
	}
	return nil
}

// encodeAddresses returns the JSONB parameters as strings; lib/pq would send
// []byte as bytea.
func encodeAddresses(order *domain.Order) (string, any, error) {
	shipping, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return "", nil, err
	}
	if order.BillingAddress == nil {
		return string(shipping), nil, nil
	}
	billing, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return "", nil, err
	}
	return string(shipping), string(billing), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
