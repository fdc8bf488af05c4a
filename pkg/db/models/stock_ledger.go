package models

import (
	"time"

	"github.com/google/uuid"
)

// StockLedger holds the per-product stock quantities. Available stock is derived.
type StockLedger struct {
	ProductID         uuid.UUID  `gorm:"column:product_id;type:uuid;primaryKey"`
	CurrentStock      int        `gorm:"column:current_stock;not null;default:0"`
	ReservedStock     int        `gorm:"column:reserved_stock;not null;default:0"`
	LowStockThreshold int        `gorm:"column:low_stock_threshold;not null;default:0"`
	ReorderLevel      int        `gorm:"column:reorder_level;not null;default:0"`
	MaxStockLevel     int        `gorm:"column:max_stock_level;not null;default:0"`
	ExpiresAt         *time.Time `gorm:"column:expires_at"`
	Version           int64      `gorm:"column:version;not null;default:1"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (StockLedger) TableName() string { return "stock_ledgers" }
