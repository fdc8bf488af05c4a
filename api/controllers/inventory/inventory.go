package inventory

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusstore-backend/api/middleware"
	"github.com/angelmondragon/campusstore-backend/api/responses"
	"github.com/angelmondragon/campusstore-backend/api/validators"
	internalinventory "github.com/angelmondragon/campusstore-backend/internal/inventory"
	"github.com/angelmondragon/campusstore-backend/internal/reservations"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
	"github.com/angelmondragon/campusstore-backend/pkg/pagination"
)

type createLedgerRequest struct {
	ProductID         uuid.UUID  `json:"product_id" validate:"required"`
	InitialStock      int        `json:"initial_stock" validate:"min=0"`
	LowStockThreshold int        `json:"low_stock_threshold" validate:"min=0"`
	ReorderLevel      int        `json:"reorder_level" validate:"min=0"`
	MaxStockLevel     int        `json:"max_stock_level" validate:"min=0"`
	ExpiresAt         *time.Time `json:"expires_at"`
}

type stockChangeRequest struct {
	Quantity  int    `json:"quantity" validate:"gt=0"`
	Reason    string `json:"reason" validate:"required,max=200"`
	Reference string `json:"reference" validate:"max=200"`
}

type adjustRequest struct {
	Quantity int    `json:"quantity" validate:"min=0"`
	Reason   string `json:"reason" validate:"required,max=200"`
}

type thresholdsRequest struct {
	LowStockThreshold int        `json:"low_stock_threshold" validate:"min=0"`
	ReorderLevel      int        `json:"reorder_level" validate:"min=0"`
	MaxStockLevel     int        `json:"max_stock_level" validate:"min=0"`
	ExpiresAt         *time.Time `json:"expires_at"`
}

type reserveRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	OrderID   uuid.UUID `json:"order_id" validate:"required"`
	Variant   string    `json:"variant" validate:"max=64"`
	Quantity  int       `json:"quantity" validate:"gt=0"`
}

type deductRequest struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
}

func CreateLedger(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorID(w, r, logg)
		if !ok {
			return
		}
		var req createLedgerRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.CreateLedger(r.Context(), internalinventory.CreateLedgerInput{
			ProductID:         req.ProductID,
			InitialStock:      req.InitialStock,
			LowStockThreshold: req.LowStockThreshold,
			ReorderLevel:      req.ReorderLevel,
			MaxStockLevel:     req.MaxStockLevel,
			ExpiresAt:         req.ExpiresAt,
			Actor:             actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, snap)
	}
}

func Get(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.URLUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.Get(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

func Movements(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.URLUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.QueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListMovements(r.Context(), productID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

type stockFunc func(ctx context.Context, input internalinventory.StockChangeInput) (*internalinventory.Snapshot, error)

func AddStock(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return stockChange(svc.AddStock, logg)
}

func RemoveStock(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return stockChange(svc.RemoveStock, logg)
}

func stockChange(apply stockFunc, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorID(w, r, logg)
		if !ok {
			return
		}
		productID, err := validators.URLUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req stockChangeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := apply(r.Context(), internalinventory.StockChangeInput{
			ProductID: productID,
			Quantity:  req.Quantity,
			Reason:    validators.CleanText(req.Reason, 200),
			Reference: validators.CleanText(req.Reference, 200),
			Actor:     actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

func AdjustStock(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorID(w, r, logg)
		if !ok {
			return
		}
		productID, err := validators.URLUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req adjustRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.AdjustStock(r.Context(), internalinventory.AdjustInput{
			ProductID:   productID,
			NewQuantity: req.Quantity,
			Reason:      validators.CleanText(req.Reason, 200),
			Actor:       actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

func UpdateThresholds(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorID(w, r, logg)
		if !ok {
			return
		}
		productID, err := validators.URLUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req thresholdsRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.UpdateThresholds(r.Context(), internalinventory.ThresholdsInput{
			ProductID:         productID,
			LowStockThreshold: req.LowStockThreshold,
			ReorderLevel:      req.ReorderLevel,
			MaxStockLevel:     req.MaxStockLevel,
			ExpiresAt:         req.ExpiresAt,
			Actor:             actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

// LowStockAlerts lists active low_stock and out_of_stock alerts across all ledgers.
func LowStockAlerts(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alerts, err := svc.ListActiveAlerts(r.Context(), []enums.AlertKind{enums.AlertLowStock, enums.AlertOutOfStock})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"alerts": alerts})
	}
}

func Reserve(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorID(w, r, logg)
		if !ok {
			return
		}
		var req reserveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := svc.Reserve(r.Context(), reservations.ReserveInput{
			ProductID: req.ProductID,
			OrderID:   req.OrderID,
			Variant:   strings.TrimSpace(req.Variant),
			Quantity:  req.Quantity,
			Actor:     actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, row)
	}
}

// Release frees every active hold of the order. Releasing twice is a no-op.
func Release(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorID(w, r, logg)
		if !ok {
			return
		}
		orderID, err := validators.URLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		released, err := svc.Release(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"released": len(released), "reservations": released})
	}
}

func Deduct(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorID(w, r, logg)
		if !ok {
			return
		}
		var req deductRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snaps, err := svc.Deduct(r.Context(), req.OrderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"ledgers": snaps})
	}
}

func actorID(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	id, _, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor missing"))
		return uuid.Nil, false
	}
	return id, true
}
