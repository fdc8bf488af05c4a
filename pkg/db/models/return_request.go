package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

// ReturnItem is one returned line.
type ReturnItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Variant   string    `json:"variant,omitempty"`
	Quantity  int       `json:"quantity"`
}

// ReturnItems is stored as a jsonb array.
type ReturnItems []ReturnItem

func (r ReturnItems) Value() (driver.Value, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (r *ReturnItems) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	default:
		return fmt.Errorf("return items: unsupported scan type %T", value)
	}
}

// ReturnRequest is a sub-entity of a completed order.
type ReturnRequest struct {
	ID           uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID      uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	Status       enums.ReturnStatus `gorm:"column:status;type:text;not null"`
	Reason       string             `gorm:"column:reason;not null"`
	Items        ReturnItems        `gorm:"column:items;type:jsonb;not null"`
	AmountCents  int64              `gorm:"column:amount_cents;not null"`
	RequestedBy  uuid.UUID          `gorm:"column:requested_by;type:uuid;not null"`
	RefundID     *uuid.UUID         `gorm:"column:refund_id;type:uuid"`
	DecidedBy    *uuid.UUID         `gorm:"column:decided_by;type:uuid"`
	DecidedAt    *time.Time         `gorm:"column:decided_at"`
	DecisionNote *string            `gorm:"column:decision_note"`
	CreatedAt    time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (ReturnRequest) TableName() string { return "return_requests" }

func (r *ReturnRequest) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
