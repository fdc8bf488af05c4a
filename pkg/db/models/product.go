package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is the read-only slice of the catalog this service needs to price orders.
type Product struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name       string    `gorm:"column:name;not null"`
	PriceCents int64     `gorm:"column:price_cents;not null"`
	Currency   string    `gorm:"column:currency;not null"`
	IsActive   bool      `gorm:"column:is_active;not null;default:true"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Product) TableName() string { return "products" }
