package inventory

import (
	"time"

	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

// ComputeAlerts derives the full active alert set from the ledger fields.
// The result replaces whatever was stored before.
func ComputeAlerts(l models.StockLedger, now time.Time) []models.StockAlert {
	available := Available(l)
	var kinds []enums.AlertKind

	switch {
	case available <= 0:
		kinds = append(kinds, enums.AlertOutOfStock)
	case available <= l.LowStockThreshold:
		kinds = append(kinds, enums.AlertLowStock)
	}
	if l.MaxStockLevel > 0 && l.CurrentStock > l.MaxStockLevel {
		kinds = append(kinds, enums.AlertOverstock)
	}
	if l.ExpiresAt != nil && !now.Before(*l.ExpiresAt) {
		kinds = append(kinds, enums.AlertExpired)
	}

	alerts := make([]models.StockAlert, 0, len(kinds))
	for _, kind := range kinds {
		alerts = append(alerts, models.StockAlert{
			ProductID: l.ProductID,
			Kind:      kind,
			Severity:  kind.Severity(),
			Active:    true,
			RaisedAt:  now,
		})
	}
	return alerts
}

// NeedsReorder reports whether available stock has fallen to the reorder level.
func NeedsReorder(l models.StockLedger) bool {
	return l.ReorderLevel > 0 && Available(l) <= l.ReorderLevel
}

// newlyRaised returns the stock-level alerts present in next but not in prev.
func newlyRaised(prev, next []models.StockAlert) []models.StockAlert {
	seen := make(map[enums.AlertKind]struct{}, len(prev))
	for _, a := range prev {
		seen[a.Kind] = struct{}{}
	}
	var raised []models.StockAlert
	for _, a := range next {
		if _, ok := seen[a.Kind]; ok {
			continue
		}
		raised = append(raised, a)
	}
	return raised
}
