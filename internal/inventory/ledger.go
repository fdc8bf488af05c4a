package inventory

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
)

// Meta is the audit context attached to every movement.
type Meta struct {
	Reason    string
	Reference string
	Actor     uuid.UUID
}

// Operation mutates a ledger copy and returns the movements it produced.
// Operations never touch storage; Apply decides whether the result is kept.
type Operation func(l *models.StockLedger) ([]models.StockMovement, error)

// Available returns current minus reserved stock.
func Available(l models.StockLedger) int {
	return l.CurrentStock - l.ReservedStock
}

// Apply runs op against a copy of l. On success the returned ledger carries the
// bumped version and every movement is stamped with that version, its position,
// and now. On failure l is returned unchanged.
func Apply(l models.StockLedger, op Operation, now time.Time) (models.StockLedger, []models.StockMovement, error) {
	next := l
	movements, err := op(&next)
	if err != nil {
		return l, nil, err
	}
	next.Version = l.Version + 1
	for i := range movements {
		movements[i].ProductID = l.ProductID
		movements[i].LedgerVersion = next.Version
		movements[i].Position = i
		movements[i].CreatedAt = now
	}
	return next, movements, nil
}

func AddStock(qty int, meta Meta) Operation {
	return func(l *models.StockLedger) ([]models.StockMovement, error) {
		if err := requirePositive(qty); err != nil {
			return nil, err
		}
		l.CurrentStock += qty
		return []models.StockMovement{movement(l, enums.MovementInbound, qty, meta)}, nil
	}
}

func RemoveStock(qty int, meta Meta) Operation {
	return func(l *models.StockLedger) ([]models.StockMovement, error) {
		if err := requirePositive(qty); err != nil {
			return nil, err
		}
		if qty > Available(*l) {
			return nil, pkgerrors.InsufficientStock(l.ProductID.String(), qty, Available(*l))
		}
		l.CurrentStock -= qty
		return []models.StockMovement{movement(l, enums.MovementOutbound, -qty, meta)}, nil
	}
}

func ReserveStock(qty int, meta Meta) Operation {
	return func(l *models.StockLedger) ([]models.StockMovement, error) {
		if err := requirePositive(qty); err != nil {
			return nil, err
		}
		if qty > Available(*l) {
			return nil, pkgerrors.InsufficientStock(l.ProductID.String(), qty, Available(*l))
		}
		l.ReservedStock += qty
		return []models.StockMovement{movement(l, enums.MovementReserved, qty, meta)}, nil
	}
}

func ReleaseReservedStock(qty int, meta Meta) Operation {
	return func(l *models.StockLedger) ([]models.StockMovement, error) {
		if err := requirePositive(qty); err != nil {
			return nil, err
		}
		if qty > l.ReservedStock {
			return nil, pkgerrors.OverRelease(l.ProductID.String(), qty, l.ReservedStock)
		}
		l.ReservedStock -= qty
		return []models.StockMovement{movement(l, enums.MovementReleased, -qty, meta)}, nil
	}
}

// DeductReserved converts a hold into a permanent deduction in one step.
func DeductReserved(qty int, meta Meta) Operation {
	release := ReleaseReservedStock(qty, meta)
	remove := RemoveStock(qty, meta)
	return func(l *models.StockLedger) ([]models.StockMovement, error) {
		released, err := release(l)
		if err != nil {
			return nil, err
		}
		removed, err := remove(l)
		if err != nil {
			return nil, err
		}
		return append(released, removed...), nil
	}
}

// AdjustStock sets current stock to newQty. Dropping below the reserved
// quantity is reported as insufficient stock.
func AdjustStock(newQty int, meta Meta) Operation {
	return func(l *models.StockLedger) ([]models.StockMovement, error) {
		if newQty < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be zero or greater")
		}
		if newQty < l.ReservedStock {
			return nil, pkgerrors.InsufficientStock(l.ProductID.String(), l.ReservedStock, newQty)
		}
		delta := newQty - l.CurrentStock
		l.CurrentStock = newQty
		return []models.StockMovement{movement(l, enums.MovementAdjustment, delta, meta)}, nil
	}
}

func requirePositive(qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero")
	}
	return nil
}

func movement(l *models.StockLedger, kind enums.MovementType, qty int, meta Meta) models.StockMovement {
	return models.StockMovement{
		Type:           kind,
		Quantity:       qty,
		Reason:         meta.Reason,
		Reference:      meta.Reference,
		ActorID:        meta.Actor,
		RunningBalance: l.CurrentStock,
	}
}
