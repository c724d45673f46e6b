package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceTolerance is the largest difference between a client-declared amount and
// the server-computed amount that is still accepted.
var PriceTolerance = decimal.New(1, -2)

var ErrInvalidAddress = errors.New("invalid address")

type PaymentMethod string

const (
	PaymentMethodCreditCard     PaymentMethod = "credit_card"
	PaymentMethodDebitCard      PaymentMethod = "debit_card"
	PaymentMethodPayPal         PaymentMethod = "paypal"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodPayPal, PaymentMethodCashOnDelivery:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

type Address struct {
	FullName     string `json:"fullName"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postalCode"`
	Country      string `json:"country"`
	Phone        string `json:"phone,omitempty"`
}

// Validate reports every required field that is blank.
func (a Address) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"fullName", a.FullName},
		{"addressLine1", a.AddressLine1},
		{"city", a.City},
		{"state", a.State},
		{"postalCode", a.PostalCode},
		{"country", a.Country},
	}

	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &AddressError{Missing: missing}
	}
	return nil
}

type AddressError struct {
	Missing []string
}

func (e *AddressError) Error() string {
	return "address is missing " + strings.Join(e.Missing, ", ")
}

func (e *AddressError) Unwrap() error { return ErrInvalidAddress }

// OrderLine is a snapshot of a product taken when the order was placed.
type OrderLine struct {
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"price"`
}

func (l OrderLine) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	OrderNumber       string          `json:"orderNumber"`
	Lines             []OrderLine     `json:"products"`
	Status            OrderStatus     `json:"status"`
	ShippingAddress   Address         `json:"shippingAddress"`
	BillingAddress    *Address        `json:"billingAddress,omitempty"`
	PaymentMethod     PaymentMethod   `json:"paymentMethod"`
	PaymentStatus     PaymentStatus   `json:"paymentStatus"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Tax               decimal.Decimal `json:"tax"`
	Shipping          decimal.Decimal `json:"shipping"`
	Discount          decimal.Decimal `json:"discount"`
	TotalPrice        decimal.Decimal `json:"totalPrice"`
	TrackingNumber    string          `json:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimatedDelivery,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// LinesSubtotal sums the snapshot amount of every line.
func LinesSubtotal(lines []OrderLine) decimal.Decimal {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Amount())
	}
	return subtotal
}

// ComputeTotal returns subtotal + tax + shipping - discount.
func ComputeTotal(subtotal, tax, shipping, discount decimal.Decimal) decimal.Decimal {
	return subtotal.Add(tax).Add(shipping).Sub(discount)
}

// WithinTolerance reports whether a and b differ by at most PriceTolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(PriceTolerance)
}

// LineIndex returns the position of the first line for productID, or -1.
func (o *Order) LineIndex(productID string) int {
	for i, line := range o.Lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

// AppendNote adds a line of text to the order notes.
func (o *Order) AppendNote(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	if o.Notes == "" {
		o.Notes = note
		return
	}
	o.Notes += "\n" + note
}

// Clone returns a deep copy so stores never share slices or pointers with callers.
func (o *Order) Clone() *Order {
	c := *o
	c.Lines = append([]OrderLine(nil), o.Lines...)
	if o.BillingAddress != nil {
		billing := *o.BillingAddress
		c.BillingAddress = &billing
	}
	if o.EstimatedDelivery != nil {
		eta := *o.EstimatedDelivery
		c.EstimatedDelivery = &eta
	}
	return &c
}
