package enum

// OrderStatus none, open, partial filled, cancelled, cancelled partial filled, filled
type OrderStatus uint8

const (
	// OrderStatusNone means no exchange confirmation has been seen yet.
	OrderStatusNone OrderStatus = iota
	OrderStatusOpen
	OrderStatusPartiallyFilled
	OrderStatusCancelled
	OrderStatusCancelledPartiallyFilled
	OrderStatusFilled
	_order_status_end
)

func (s OrderStatus) IsAvailable() bool {
	return s > OrderStatusNone && s < _order_status_end
}

// IsOpen reports whether an order in this status is resting at the exchange.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusOpen || s == OrderStatusPartiallyFilled
}

// IsTerminal reports whether this status frees the order slot for reuse.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCancelled, OrderStatusCancelledPartiallyFilled, OrderStatusFilled:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusOpen:
		return "open"
	case OrderStatusPartiallyFilled:
		return "partially_filled"
	case OrderStatusCancelled:
		return "cancelled"
	case OrderStatusCancelledPartiallyFilled:
		return "cancelled_partially_filled"
	case OrderStatusFilled:
		return "filled"
	default:
		return "none"
	}
}

// ParseOrderStatus maps the wire value of an order status.
func ParseOrderStatus(s string) OrderStatus {
	switch s {
	case "open":
		return OrderStatusOpen
	case "partially_filled":
		return OrderStatusPartiallyFilled
	case "cancelled":
		return OrderStatusCancelled
	case "cancelled_partially_filled":
		return OrderStatusCancelledPartiallyFilled
	case "filled":
		return OrderStatusFilled
	default:
		return OrderStatusNone
	}
}
