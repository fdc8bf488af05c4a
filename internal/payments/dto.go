package payments

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

type CreatePaymentInput struct {
	OrderID        uuid.UUID
	AmountCents    int64
	Currency       string
	GatewayOrderID string
}

// RefundInput targets a payment directly or through its order.
type RefundInput struct {
	PaymentID   uuid.UUID
	OrderID     uuid.UUID
	AmountCents int64
	Reason      string
	Actor       uuid.UUID
}

type PaymentView struct {
	ID               uuid.UUID           `json:"id"`
	OrderID          uuid.UUID           `json:"order_id"`
	AmountCents      int64               `json:"amount_cents"`
	Currency         string              `json:"currency"`
	Status           enums.PaymentStatus `json:"status"`
	GatewayOrderID   string              `json:"gateway_order_id"`
	GatewayPaymentID *string             `json:"gateway_payment_id,omitempty"`
	RefundableCents  int64               `json:"refundable_cents"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	Refunds          []RefundView        `json:"refunds"`
}

type RefundView struct {
	ID              uuid.UUID          `json:"id"`
	PaymentID       uuid.UUID          `json:"payment_id"`
	AmountCents     int64              `json:"amount_cents"`
	Reason          string             `json:"reason"`
	Status          enums.RefundStatus `json:"status"`
	GatewayRefundID *string            `json:"gateway_refund_id,omitempty"`
	FailureReason   *string            `json:"failure_reason,omitempty"`
	ActorID         uuid.UUID          `json:"actor_id"`
	CreatedAt       time.Time          `json:"created_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
}

func newPaymentView(p models.Payment, refunds []models.Refund) *PaymentView {
	views := make([]RefundView, 0, len(refunds))
	for _, r := range refunds {
		views = append(views, newRefundView(r))
	}
	refundable := int64(0)
	if p.Status.IsRefundable() {
		refundable = RefundableAmount(p, refunds)
	}
	return &PaymentView{
		ID:               p.ID,
		OrderID:          p.OrderID,
		AmountCents:      p.AmountCents,
		Currency:         p.Currency,
		Status:           p.Status,
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: p.GatewayPaymentID,
		RefundableCents:  refundable,
		CompletedAt:      p.CompletedAt,
		Refunds:          views,
	}
}

func newRefundView(r models.Refund) RefundView {
	return RefundView{
		ID:              r.ID,
		PaymentID:       r.PaymentID,
		AmountCents:     r.AmountCents,
		Reason:          r.Reason,
		Status:          r.Status,
		GatewayRefundID: r.GatewayRefundID,
		FailureReason:   r.FailureReason,
		ActorID:         r.ActorID,
		CreatedAt:       r.CreatedAt,
		CompletedAt:     r.CompletedAt,
	}
}
