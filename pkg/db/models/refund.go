package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

// Refund is an entry of a payment's refund sub-ledger.
type Refund struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	PaymentID       uuid.UUID          `gorm:"column:payment_id;type:uuid;not null;index"`
	AmountCents     int64              `gorm:"column:amount_cents;not null"`
	Reason          string             `gorm:"column:reason;not null"`
	Status          enums.RefundStatus `gorm:"column:status;type:text;not null"`
	GatewayRefundID *string            `gorm:"column:gateway_refund_id"`
	FailureReason   *string            `gorm:"column:failure_reason"`
	ActorID         uuid.UUID          `gorm:"column:actor_id;type:uuid;not null"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
	CompletedAt     *time.Time         `gorm:"column:completed_at"`
}

func (Refund) TableName() string { return "refunds" }

func (r *Refund) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
