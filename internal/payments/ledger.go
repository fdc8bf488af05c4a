package payments

import (
	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

// RefundableAmount is the payment amount minus completed and pending refunds.
// Pending refunds hold their share so concurrent initiations cannot overshoot.
func RefundableAmount(payment models.Payment, refunds []models.Refund) int64 {
	return payment.AmountCents - committedRefunds(refunds)
}

// StatusFor derives the payment status implied by its refund rows. Only
// payments that were captured are affected.
func StatusFor(payment models.Payment, refunds []models.Refund) enums.PaymentStatus {
	if !payment.Status.IsRefundable() {
		return payment.Status
	}
	committed := committedRefunds(refunds)
	switch {
	case committed <= 0:
		return enums.PaymentStatusCompleted
	case committed >= payment.AmountCents:
		return enums.PaymentStatusRefunded
	default:
		return enums.PaymentStatusPartiallyRefunded
	}
}

func committedRefunds(refunds []models.Refund) int64 {
	var total int64
	for _, r := range refunds {
		if r.Status == enums.RefundStatusCompleted || r.Status == enums.RefundStatusPending {
			total += r.AmountCents
		}
	}
	return total
}
