package orders

import "github.com/oklog/ulid/v2"

// NewOrderNumber returns a human-readable order number built from a ULID: a
// millisecond timestamp followed by monotonic per-process entropy.
func NewOrderNumber() string {
	return "ORD-" + ulid.Make().String()
}
