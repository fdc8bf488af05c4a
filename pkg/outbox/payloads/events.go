package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

// OrderStatusChangedEvent is emitted after every committed order transition.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	CustomerID  uuid.UUID         `json:"customer_id"`
	From        enums.OrderStatus `json:"from,omitempty"`
	Status      enums.OrderStatus `json:"status"`
	Note        string            `json:"note,omitempty"`
	ChangedAt   time.Time         `json:"changed_at"`
}

// StockAlertRaisedEvent tells purchasing that a product needs attention.
type StockAlertRaisedEvent struct {
	ProductID      uuid.UUID           `json:"product_id"`
	Kind           enums.AlertKind     `json:"kind"`
	Severity       enums.AlertSeverity `json:"severity"`
	AvailableStock int                 `json:"available_stock"`
	RaisedAt       time.Time           `json:"raised_at"`
}
