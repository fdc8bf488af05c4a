package errors

import "fmt"

// InsufficientStock reports that a product cannot cover the requested quantity.
func InsufficientStock(productID string, requested, available int) *Error {
	return New(CodeInsufficientStock, fmt.Sprintf("Only %d units available", available)).
		WithDetails(map[string]any{
			"product_id": productID,
			"requested":  requested,
			"available":  available,
		})
}

// OverRelease reports a release larger than the quantity currently held.
func OverRelease(productID string, requested, reserved int) *Error {
	return New(CodeOverRelease, fmt.Sprintf("cannot release %d units, only %d reserved", requested, reserved)).
		WithDetails(map[string]any{
			"product_id": productID,
			"requested":  requested,
			"reserved":   reserved,
		})
}

// InvalidTransition reports an order event that is illegal for the current status.
func InvalidTransition(from, to string) *Error {
	return New(CodeInvalidTransition, fmt.Sprintf("order cannot move from %s to %s", from, to)).
		WithDetails(map[string]any{
			"from": from,
			"to":   to,
		})
}

func InvalidSignature() *Error {
	return New(CodeInvalidSignature, "payment signature verification failed")
}

// RefundExceedsAmount reports a refund request above what is still refundable.
func RefundExceedsAmount(requested, refundable int64) *Error {
	return New(CodeRefundExceedsAmount, fmt.Sprintf("refund of %d exceeds refundable amount %d", requested, refundable)).
		WithDetails(map[string]any{
			"requested":  requested,
			"refundable": refundable,
		})
}

func OrderNotFound(orderID string) *Error {
	return New(CodeOrderNotFound, "order not found").WithDetails(map[string]any{"order_id": orderID})
}

func ReservationNotFound(orderID string) *Error {
	return New(CodeReservationNotFound, "reservation not found").WithDetails(map[string]any{"order_id": orderID})
}
