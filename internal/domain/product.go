package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	IsActive  bool            `json:"isActive"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Reservation is the result of decrementing a product's stock for one order line.
type Reservation struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	Title     string
}
