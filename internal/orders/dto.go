package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusstore-backend/internal/payments"
	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	"github.com/angelmondragon/campusstore-backend/pkg/gateway"
	"github.com/angelmondragon/campusstore-backend/pkg/types"
)

// Actor is the authenticated caller of an order operation.
type Actor struct {
	ID   uuid.UUID
	Role enums.ActorRole
}

func (a Actor) IsAdmin() bool {
	return a.Role == enums.ActorRoleAdmin
}

type LineItemInput struct {
	ProductID uuid.UUID
	Variant   string
	Quantity  int
}

type CreateOrderInput struct {
	Actor      Actor
	Items      []LineItemInput
	Shipping   types.Address
	Billing    *types.Address
	CouponCode string
	Currency   string
}

type CreateOrderResult struct {
	Order         *OrderView     `json:"order"`
	PaymentIntent gateway.Intent `json:"payment_intent"`
}

type VerifyPaymentInput struct {
	OrderID          uuid.UUID
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	Actor            Actor
}

type AdvanceInput struct {
	OrderID  uuid.UUID
	Status   enums.OrderStatus
	Tracking *types.Tracking
	Note     string
	Actor    Actor
}

type CancelInput struct {
	OrderID uuid.UUID
	Reason  string
	Actor   Actor
}

type ReturnInput struct {
	OrderID uuid.UUID
	Items   []LineItemInput
	Reason  string
	Actor   Actor
}

type DecideReturnInput struct {
	OrderID  uuid.UUID
	ReturnID uuid.UUID
	Approve  bool
	Note     string
	Actor    Actor
}

type ListInput struct {
	Actor  Actor
	Status *enums.OrderStatus
	Limit  int
	Cursor string
}

type OrderView struct {
	ID              uuid.UUID             `json:"id"`
	OrderNumber     string                `json:"order_number"`
	CustomerID      uuid.UUID             `json:"customer_id"`
	Status          enums.OrderStatus     `json:"status"`
	SubtotalCents   int64                 `json:"subtotal_cents"`
	DiscountCents   int64                 `json:"discount_cents"`
	TotalCents      int64                 `json:"total_cents"`
	Currency        string                `json:"currency"`
	CouponCode      *string               `json:"coupon_code,omitempty"`
	ShippingAddress types.Address         `json:"shipping_address"`
	BillingAddress  *types.Address        `json:"billing_address,omitempty"`
	Tracking        *types.Tracking       `json:"tracking,omitempty"`
	CancelReason    *string               `json:"cancel_reason,omitempty"`
	CancelledBy     *uuid.UUID            `json:"cancelled_by,omitempty"`
	CancelledAt     *time.Time            `json:"cancelled_at,omitempty"`
	DeliveredAt     *time.Time            `json:"delivered_at,omitempty"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
	Version         int64                 `json:"version"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	Items           []ItemView            `json:"items"`
	Timeline        []TimelineView        `json:"timeline,omitempty"`
	Payment         *payments.PaymentView `json:"payment,omitempty"`
	Returns         []ReturnView          `json:"returns,omitempty"`
	Reservations    []ReservationView     `json:"reservations,omitempty"`
}

type ItemView struct {
	ID             uuid.UUID `json:"id"`
	ProductID      uuid.UUID `json:"product_id"`
	ProductName    string    `json:"product_name"`
	Variant        string    `json:"variant,omitempty"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	LineTotalCents int64     `json:"line_total_cents"`
}

type TimelineView struct {
	Status    enums.OrderStatus `json:"status"`
	Note      string            `json:"note,omitempty"`
	ActorID   uuid.UUID         `json:"actor_id"`
	CreatedAt time.Time         `json:"created_at"`
}

type ReturnView struct {
	ID           uuid.UUID          `json:"id"`
	OrderID      uuid.UUID          `json:"order_id"`
	Status       enums.ReturnStatus `json:"status"`
	Reason       string             `json:"reason"`
	Items        models.ReturnItems `json:"items"`
	AmountCents  int64              `json:"amount_cents"`
	RequestedBy  uuid.UUID          `json:"requested_by"`
	RefundID     *uuid.UUID         `json:"refund_id,omitempty"`
	DecidedBy    *uuid.UUID         `json:"decided_by,omitempty"`
	DecidedAt    *time.Time         `json:"decided_at,omitempty"`
	DecisionNote *string            `json:"decision_note,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

type ReservationView struct {
	ProductID uuid.UUID               `json:"product_id"`
	Variant   string                  `json:"variant,omitempty"`
	Quantity  int                     `json:"quantity"`
	Status    enums.ReservationStatus `json:"status"`
	ExpiresAt time.Time               `json:"expires_at"`
}

type OrderList struct {
	Orders     []OrderView `json:"orders"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

func newOrderView(o models.Order) *OrderView {
	items := make([]ItemView, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, ItemView{
			ID:             item.ID,
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			Variant:        item.Variant,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.LineTotalCents(),
		})
	}
	return &OrderView{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		CustomerID:      o.CustomerID,
		Status:          o.Status,
		SubtotalCents:   o.SubtotalCents,
		DiscountCents:   o.DiscountCents,
		TotalCents:      o.TotalCents,
		Currency:        o.Currency,
		CouponCode:      o.CouponCode,
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		Tracking:        o.Tracking,
		CancelReason:    o.CancelReason,
		CancelledBy:     o.CancelledBy,
		CancelledAt:     o.CancelledAt,
		DeliveredAt:     o.DeliveredAt,
		CompletedAt:     o.CompletedAt,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Items:           items,
	}
}

func newReturnView(r models.ReturnRequest) ReturnView {
	return ReturnView{
		ID:           r.ID,
		OrderID:      r.OrderID,
		Status:       r.Status,
		Reason:       r.Reason,
		Items:        r.Items,
		AmountCents:  r.AmountCents,
		RequestedBy:  r.RequestedBy,
		RefundID:     r.RefundID,
		DecidedBy:    r.DecidedBy,
		DecidedAt:    r.DecidedAt,
		DecisionNote: r.DecisionNote,
		CreatedAt:    r.CreatedAt,
	}
}
