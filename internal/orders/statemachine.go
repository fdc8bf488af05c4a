package orders

import "github.com/angelmondragon/campusstore-backend/pkg/enums"

// transitions lists every legal status change. Terminal statuses have no entry.
var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:    {enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
	enums.OrderStatusConfirmed:  {enums.OrderStatusProcessing, enums.OrderStatusCancelled},
	enums.OrderStatusProcessing: {enums.OrderStatusShipped, enums.OrderStatusCancelled},
	enums.OrderStatusShipped:    {enums.OrderStatusDelivered},
	enums.OrderStatusDelivered:  {enums.OrderStatusCompleted},
}

// advanceTargets are the statuses an admin may move an order to directly.
var advanceTargets = map[enums.OrderStatus]bool{
	enums.OrderStatusProcessing: true,
	enums.OrderStatusShipped:    true,
	enums.OrderStatusDelivered:  true,
}

// CanTransition reports whether an order in from may move to to.
func CanTransition(from, to enums.OrderStatus) bool {
	if from.IsTerminal() {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsCancellable reports whether stock and payment can still be unwound.
func IsCancellable(status enums.OrderStatus) bool {
	return CanTransition(status, enums.OrderStatusCancelled)
}

// holdsDeductedStock reports whether confirmation already converted the reservations.
func holdsDeductedStock(status enums.OrderStatus) bool {
	switch status {
	case enums.OrderStatusConfirmed, enums.OrderStatusProcessing:
		return true
	default:
		return false
	}
}
