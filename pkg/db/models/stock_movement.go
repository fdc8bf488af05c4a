package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

// StockMovement is an immutable ledger fact. RunningBalance is current stock
// after the movement; (LedgerVersion, Position) orders movements per product.
type StockMovement struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ProductID      uuid.UUID          `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_stock_movements_sequence,priority:1"`
	LedgerVersion  int64              `gorm:"column:ledger_version;not null;uniqueIndex:ux_stock_movements_sequence,priority:2"`
	Position       int                `gorm:"column:position;not null;uniqueIndex:ux_stock_movements_sequence,priority:3"`
	Type           enums.MovementType `gorm:"column:type;type:text;not null"`
	Quantity       int                `gorm:"column:quantity;not null"`
	Reason         string             `gorm:"column:reason;not null;default:''"`
	Reference      string             `gorm:"column:reference;not null;default:''"`
	ActorID        uuid.UUID          `gorm:"column:actor_id;type:uuid;not null"`
	RunningBalance int                `gorm:"column:running_balance;not null"`
	CreatedAt      time.Time          `gorm:"column:created_at;not null"`
}

func (StockMovement) TableName() string { return "stock_movements" }

func (m *StockMovement) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	return nil
}
