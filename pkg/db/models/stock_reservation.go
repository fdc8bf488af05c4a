package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

// StockReservation is a time-bounded hold keyed by (product, order, variant).
type StockReservation struct {
	ID        uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	ProductID uuid.UUID               `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_stock_reservations_key,priority:1"`
	OrderID   uuid.UUID               `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_stock_reservations_key,priority:2"`
	Variant   string                  `gorm:"column:variant;not null;default:'';uniqueIndex:ux_stock_reservations_key,priority:3"`
	Quantity  int                     `gorm:"column:quantity;not null"`
	Status    enums.ReservationStatus `gorm:"column:status;type:text;not null"`
	ActorID   uuid.UUID               `gorm:"column:actor_id;type:uuid;not null"`
	ExpiresAt time.Time               `gorm:"column:expires_at;not null"`
	CreatedAt time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (StockReservation) TableName() string { return "stock_reservations" }

func (r *StockReservation) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
