package orders

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrUnauthorized         = errors.New("order belongs to another user")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInvalidQuantity      = errors.New("quantity must be at least 1")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidAmount        = errors.New("amounts must not be negative")
	ErrSubtotalMismatch     = errors.New("subtotal mismatch")
	ErrTotalMismatch        = errors.New("total mismatch")
	ErrInvalidStatus        = errors.New("invalid order status")
	ErrIllegalTransition    = errors.New("illegal status transition")
	ErrNotCancellable       = errors.New("order cannot be cancelled")
	ErrNotModifiable        = errors.New("order can no longer be modified")
	ErrLineNotFound         = errors.New("product not found in order")
	ErrLastLine             = errors.New("cannot remove the last product, cancel the order instead")
	ErrDuplicateOrderNumber = errors.New("duplicate order number")
	ErrRequestInFlight      = errors.New("an order for this idempotency key is still being placed")
	ErrInconsistency        = errors.New("inventory inconsistency")
)

// errNotOwner hides the existence of orders owned by someone else.
var errNotOwner = fmt.Errorf("%w: %w", ErrOrderNotFound, ErrUnauthorized)

var errNoStoreLedger = errors.New("order store has no ledger for stock changes")

// MismatchError reports a client-declared amount that disagrees with the
// amount computed from reserved prices. Kind is ErrSubtotalMismatch or
// ErrTotalMismatch.
type MismatchError struct {
	Kind       error
	Declared   decimal.Decimal
	Calculated decimal.Decimal
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: declared %s, calculated %s", e.Kind, e.Declared.StringFixed(2), e.Calculated.StringFixed(2))
}

func (e *MismatchError) Unwrap() error { return e.Kind }

type IllegalTransitionError struct {
	From domain.OrderStatus
	To   domain.OrderStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot change status from %s to %s", e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

type LineFailure struct {
	ProductID string
	Quantity  int
	Err       error
}

// InconsistencyError means stock was reserved or released but the matching
// order change could not be completed. It needs an operator.
type InconsistencyError struct {
	OrderID   string
	Operation string
	Failed    []LineFailure
}

func (e *InconsistencyError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s x%d: %v", f.ProductID, f.Quantity, f.Err))
	}
	msg := fmt.Sprintf("%s failed during %s", ErrInconsistency, e.Operation)
	if e.OrderID != "" {
		msg += " of order " + e.OrderID
	}
	return msg + " (" + strings.Join(parts, "; ") + ")"
}

func (e *InconsistencyError) Unwrap() error { return ErrInconsistency }
