package domain

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusPaid,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

var transitions = map[OrderStatus]map[OrderStatus]struct{}{
	OrderStatusPending:    {OrderStatusProcessing: {}, OrderStatusCancelled: {}},
	OrderStatusProcessing: {OrderStatusPaid: {}, OrderStatusCancelled: {}},
	OrderStatusPaid:       {OrderStatusShipped: {}, OrderStatusCancelled: {}},
	OrderStatusShipped:    {OrderStatusDelivered: {}, OrderStatusCancelled: {}},
	OrderStatusDelivered:  {OrderStatusRefunded: {}},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
}

func (s OrderStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s OrderStatus) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Cancellable reports whether the cancellation workflow may run from s.
// It is narrower than the transition table: only orders that have not been
// paid for can have their stock released.
func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing
}

func CanTransition(from, to OrderStatus) bool {
	_, ok := transitions[from][to]
	return ok
}

// NextStatuses returns the statuses reachable from s in lifecycle order.
func NextStatuses(s OrderStatus) []OrderStatus {
	var next []OrderStatus
	for _, candidate := range AllStatuses {
		if CanTransition(s, candidate) {
			next = append(next, candidate)
		}
	}
	return next
}
