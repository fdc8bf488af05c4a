package inventory

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

// SystemActor attributes movements made by background jobs.
var SystemActor = uuid.MustParse("00000000-0000-0000-0000-00000000c0de")

// CreateLedgerInput seeds a ledger for a catalog product.
type CreateLedgerInput struct {
	ProductID         uuid.UUID
	InitialStock      int
	LowStockThreshold int
	ReorderLevel      int
	MaxStockLevel     int
	ExpiresAt         *time.Time
	Actor             uuid.UUID
}

// StockChangeInput drives add, remove, reserve, release and deduct.
type StockChangeInput struct {
	ProductID uuid.UUID
	Quantity  int
	Reason    string
	Reference string
	Actor     uuid.UUID
}

type AdjustInput struct {
	ProductID   uuid.UUID
	NewQuantity int
	Reason      string
	Actor       uuid.UUID
}

type ThresholdsInput struct {
	ProductID         uuid.UUID
	LowStockThreshold int
	ReorderLevel      int
	MaxStockLevel     int
	ExpiresAt         *time.Time
	Actor             uuid.UUID
}

// Snapshot is the ledger state returned by every operation.
type Snapshot struct {
	ProductID         uuid.UUID   `json:"product_id"`
	CurrentStock      int         `json:"current_stock"`
	ReservedStock     int         `json:"reserved_stock"`
	AvailableStock    int         `json:"available_stock"`
	LowStockThreshold int         `json:"low_stock_threshold"`
	ReorderLevel      int         `json:"reorder_level"`
	MaxStockLevel     int         `json:"max_stock_level"`
	NeedsReorder      bool        `json:"needs_reorder"`
	ExpiresAt         *time.Time  `json:"expires_at,omitempty"`
	Version           int64       `json:"version"`
	Alerts            []AlertView `json:"alerts"`
	UpdatedAt         time.Time   `json:"updated_at"`

	// Raised holds alerts that became active with this mutation and have not
	// been announced yet. Only populated by services bound to a transaction.
	Raised []models.StockAlert `json:"-"`
}

type AlertView struct {
	ProductID uuid.UUID           `json:"product_id"`
	Kind      enums.AlertKind     `json:"kind"`
	Severity  enums.AlertSeverity `json:"severity"`
	RaisedAt  time.Time           `json:"raised_at"`
}

type MovementView struct {
	ID             uuid.UUID          `json:"id"`
	Type           enums.MovementType `json:"type"`
	Quantity       int                `json:"quantity"`
	Reason         string             `json:"reason"`
	Reference      string             `json:"reference"`
	ActorID        uuid.UUID          `json:"actor_id"`
	RunningBalance int                `json:"running_balance"`
	LedgerVersion  int64              `json:"ledger_version"`
	CreatedAt      time.Time          `json:"created_at"`
}

type MovementList struct {
	Movements  []MovementView `json:"movements"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func newSnapshot(l models.StockLedger, alerts []models.StockAlert) *Snapshot {
	views := make([]AlertView, 0, len(alerts))
	for _, a := range alerts {
		views = append(views, alertView(a))
	}
	return &Snapshot{
		ProductID:         l.ProductID,
		CurrentStock:      l.CurrentStock,
		ReservedStock:     l.ReservedStock,
		AvailableStock:    Available(l),
		LowStockThreshold: l.LowStockThreshold,
		ReorderLevel:      l.ReorderLevel,
		MaxStockLevel:     l.MaxStockLevel,
		NeedsReorder:      NeedsReorder(l),
		ExpiresAt:         l.ExpiresAt,
		Version:           l.Version,
		Alerts:            views,
		UpdatedAt:         l.UpdatedAt,
	}
}

func alertView(a models.StockAlert) AlertView {
	return AlertView{
		ProductID: a.ProductID,
		Kind:      a.Kind,
		Severity:  a.Severity,
		RaisedAt:  a.RaisedAt,
	}
}

func movementView(m models.StockMovement) MovementView {
	return MovementView{
		ID:             m.ID,
		Type:           m.Type,
		Quantity:       m.Quantity,
		Reason:         m.Reason,
		Reference:      m.Reference,
		ActorID:        m.ActorID,
		RunningBalance: m.RunningBalance,
		LedgerVersion:  m.LedgerVersion,
		CreatedAt:      m.CreatedAt,
	}
}
