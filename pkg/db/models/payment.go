package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

// Payment tracks the gateway payment for an order.
type Payment struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID          uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_payments_order"`
	AmountCents      int64               `gorm:"column:amount_cents;not null"`
	Currency         string              `gorm:"column:currency;not null"`
	Status           enums.PaymentStatus `gorm:"column:status;type:text;not null"`
	GatewayOrderID   string              `gorm:"column:gateway_order_id;not null;uniqueIndex:ux_payments_gateway_order"`
	GatewayPaymentID *string             `gorm:"column:gateway_payment_id;uniqueIndex:ux_payments_gateway_payment"`
	CompletedAt      *time.Time          `gorm:"column:completed_at"`
	Version          int64               `gorm:"column:version;not null;default:1"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
