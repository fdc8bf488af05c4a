package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

// StockAlert is one active alert of a ledger; the set is replaced on every mutation.
type StockAlert struct {
	ProductID uuid.UUID           `gorm:"column:product_id;type:uuid;primaryKey"`
	Kind      enums.AlertKind     `gorm:"column:kind;type:text;primaryKey"`
	Severity  enums.AlertSeverity `gorm:"column:severity;type:text;not null"`
	Active    bool                `gorm:"column:active;not null;default:true"`
	RaisedAt  time.Time           `gorm:"column:raised_at;not null"`
}

func (StockAlert) TableName() string { return "stock_alerts" }
