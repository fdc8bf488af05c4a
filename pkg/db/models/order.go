package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	"github.com/angelmondragon/campusstore-backend/pkg/types"
)

// Order is the fulfillment aggregate root. Status only changes through the state machine.
type Order struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber     string            `gorm:"column:order_number;not null;uniqueIndex:ux_orders_order_number"`
	CustomerID      uuid.UUID         `gorm:"column:customer_id;type:uuid;not null;index"`
	Status          enums.OrderStatus `gorm:"column:status;type:text;not null"`
	SubtotalCents   int64             `gorm:"column:subtotal_cents;not null"`
	DiscountCents   int64             `gorm:"column:discount_cents;not null;default:0"`
	TotalCents      int64             `gorm:"column:total_cents;not null"`
	Currency        string            `gorm:"column:currency;not null"`
	CouponCode      *string           `gorm:"column:coupon_code"`
	ShippingAddress types.Address     `gorm:"column:shipping_address;type:jsonb;not null"`
	BillingAddress  *types.Address    `gorm:"column:billing_address;type:jsonb"`
	Tracking        *types.Tracking   `gorm:"column:tracking;type:jsonb"`
	CancelReason    *string           `gorm:"column:cancel_reason"`
	CancelledBy     *uuid.UUID        `gorm:"column:cancelled_by;type:uuid"`
	CancelledAt     *time.Time        `gorm:"column:cancelled_at"`
	DeliveredAt     *time.Time        `gorm:"column:delivered_at"`
	CompletedAt     *time.Time        `gorm:"column:completed_at"`
	Version         int64             `gorm:"column:version;not null;default:1"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`

	Items []OrderItem `gorm:"foreignKey:OrderID;references:ID"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}
