package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

// OrderTimelineEntry is an append-only audit row written with every transition.
type OrderTimelineEntry struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	Status    enums.OrderStatus `gorm:"column:status;type:text;not null"`
	Note      string            `gorm:"column:note;not null;default:''"`
	ActorID   uuid.UUID         `gorm:"column:actor_id;type:uuid;not null"`
	CreatedAt time.Time         `gorm:"column:created_at;not null"`
}

func (OrderTimelineEntry) TableName() string { return "order_timeline" }

func (e *OrderTimelineEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
