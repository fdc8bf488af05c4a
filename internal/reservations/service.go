package reservations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/internal/inventory"
	"github.com/angelmondragon/campusstore-backend/pkg/db"
	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
)

const (
	DefaultTTL          = 15 * time.Minute
	defaultCleanupBatch = 200

	reasonReserved = "order_reserved"
	reasonReleased = "reservation_released"
	reasonExpired  = "reservation_expired"
	reasonSold     = "order_confirmed"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type reservationRecorder interface {
	AddReservations(action string, n int)
}

// Service manages order-scoped stock holds on top of the inventory ledgers.
type Service interface {
	Reserve(ctx context.Context, input ReserveInput) (*models.StockReservation, error)
	// Release frees every active hold of the order. It is a no-op when none remain.
	Release(ctx context.Context, orderID, actor uuid.UUID) ([]models.StockReservation, error)
	ReleaseItem(ctx context.Context, key Key, actor uuid.UUID) error
	// Convert turns the order's holds into permanent deductions inside tx.
	// The returned snapshots must be announced once tx commits.
	Convert(ctx context.Context, tx *gorm.DB, orderID, actor uuid.UUID) ([]*inventory.Snapshot, error)
	// Deduct runs Convert in its own transaction and announces the result.
	Deduct(ctx context.Context, orderID, actor uuid.UUID) ([]*inventory.Snapshot, error)
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error)
	Get(ctx context.Context, key Key) (*models.StockReservation, error)
}

// Key identifies a reservation row.
type Key struct {
	ProductID uuid.UUID
	OrderID   uuid.UUID
	Variant   string
}

type ReserveInput struct {
	ProductID uuid.UUID
	OrderID   uuid.UUID
	Variant   string
	Quantity  int
	Actor     uuid.UUID
}

type ServiceParams struct {
	Repo         Repository
	Inventory    inventory.Service
	Tx           txRunner
	Logger       *logger.Logger
	Metrics      reservationRecorder
	TTL          time.Duration
	CleanupBatch int
	Now          func() time.Time
}

type service struct {
	repo      Repository
	inventory inventory.Service
	tx        txRunner
	logg      *logger.Logger
	metrics   reservationRecorder
	ttl       time.Duration
	batch     int
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("reservations repository required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	batch := params.CleanupBatch
	if batch <= 0 {
		batch = defaultCleanupBatch
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:      params.Repo,
		inventory: params.Inventory,
		tx:        params.Tx,
		logg:      params.Logger,
		metrics:   params.Metrics,
		ttl:       ttl,
		batch:     batch,
		now:       now,
	}, nil
}

func (s *service) Reserve(ctx context.Context, input ReserveInput) (*models.StockReservation, error) {
	input.Variant = strings.TrimSpace(input.Variant)
	if input.ProductID == uuid.Nil || input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id and order id required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero")
	}
	if input.Actor == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}

	var (
		result  *models.StockReservation
		snap    *inventory.Snapshot
		created bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindByKey(ctx, input.ProductID, input.OrderID, input.Variant)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
		}
		if existing != nil {
			switch existing.Status {
			case enums.ReservationActive:
				if existing.Quantity == input.Quantity {
					result = existing
					return nil
				}
				return pkgerrors.New(pkgerrors.CodeConflict, "reservation already exists with a different quantity").
					WithDetails(map[string]any{"reserved": existing.Quantity, "requested": input.Quantity})
			case enums.ReservationConverted:
				return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation already converted into a sale")
			}
		}

		snap, err = s.inventory.WithTx(tx).ReserveStock(ctx, inventory.StockChangeInput{
			ProductID: input.ProductID,
			Quantity:  input.Quantity,
			Reason:    reasonReserved,
			Reference: input.OrderID.String(),
			Actor:     input.Actor,
		})
		if err != nil {
			return err
		}

		expiresAt := s.now().Add(s.ttl)
		if existing != nil {
			ok, err := repo.Reactivate(ctx, existing.ID, input.Quantity, input.Actor, expiresAt)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reactivate reservation")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeConflict, "reservation changed concurrently")
			}
			existing.Status = enums.ReservationActive
			existing.Quantity = input.Quantity
			existing.ActorID = input.Actor
			existing.ExpiresAt = expiresAt
			result = existing
			created = true
			return nil
		}

		row := &models.StockReservation{
			ProductID: input.ProductID,
			OrderID:   input.OrderID,
			Variant:   input.Variant,
			Quantity:  input.Quantity,
			Status:    enums.ReservationActive,
			ActorID:   input.Actor,
			ExpiresAt: expiresAt,
		}
		if err := repo.Create(ctx, row); err != nil {
			if db.IsUniqueViolation(err, "ux_stock_reservations_key") {
				return pkgerrors.New(pkgerrors.CodeConflict, "reservation already exists")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reservation")
		}
		result = row
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.inventory.Announce(ctx, snap)
		s.record("created", 1)
	}
	return result, nil
}

func (s *service) Release(ctx context.Context, orderID, actor uuid.UUID) ([]models.StockReservation, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if actor == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reservations")
	}

	var (
		released []models.StockReservation
		errs     error
	)
	for _, row := range rows {
		if row.Status != enums.ReservationActive {
			continue
		}
		ok, err := s.releaseRow(ctx, row, enums.ReservationReleased, reasonReleased, actor)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			row.Status = enums.ReservationReleased
			released = append(released, row)
		}
	}
	s.record("released", len(released))
	return released, errs
}

func (s *service) ReleaseItem(ctx context.Context, key Key, actor uuid.UUID) error {
	if actor == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	row, err := s.repo.FindByKey(ctx, key.ProductID, key.OrderID, strings.TrimSpace(key.Variant))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
	}
	if row.Status != enums.ReservationActive {
		return nil
	}
	ok, err := s.releaseRow(ctx, *row, enums.ReservationReleased, reasonReleased, actor)
	if err != nil {
		return err
	}
	if ok {
		s.record("released", 1)
	}
	return nil
}

func (s *service) Convert(ctx context.Context, tx *gorm.DB, orderID, actor uuid.UUID) ([]*inventory.Snapshot, error) {
	if tx == nil {
		return nil, fmt.Errorf("convert requires a transaction")
	}
	repo := s.repo.WithTx(tx)
	ledger := s.inventory.WithTx(tx)
	rows, err := repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reservations")
	}

	snaps := make([]*inventory.Snapshot, 0, len(rows))
	converted := 0
	for _, row := range rows {
		if row.Status == enums.ReservationConverted {
			continue
		}
		change := inventory.StockChangeInput{
			ProductID: row.ProductID,
			Quantity:  row.Quantity,
			Reason:    reasonSold,
			Reference: orderID.String(),
			Actor:     actor,
		}

		claimed, err := repo.Transition(ctx, row.ID, enums.ReservationActive, enums.ReservationConverted)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim reservation")
		}
		var snap *inventory.Snapshot
		if claimed {
			snap, err = ledger.DeductReserved(ctx, change)
		} else {
			// Only a hold lost to the expiry job sells from free stock. A hold
			// released on purpose stays released.
			lapsed, err := repo.Transition(ctx, row.ID, enums.ReservationExpired, enums.ReservationConverted)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark reservation converted")
			}
			if !lapsed {
				return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "reservation was released before payment").
					WithDetails(map[string]any{"product_id": row.ProductID.String(), "variant": row.Variant})
			}
			snap, err = ledger.RemoveStock(ctx, change)
			if err != nil {
				return nil, err
			}
		}
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
		converted++
	}
	s.record("converted", converted)
	return snaps, nil
}

func (s *service) Deduct(ctx context.Context, orderID, actor uuid.UUID) ([]*inventory.Snapshot, error) {
	var snaps []*inventory.Snapshot
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		snaps, err = s.Convert(ctx, tx, orderID, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, pkgerrors.ReservationNotFound(orderID.String())
	}
	s.inventory.Announce(ctx, snaps...)
	return snaps, nil
}

func (s *service) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.repo.ListExpired(ctx, now, s.batch)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired reservations")
	}
	count := 0
	var errs error
	for _, row := range rows {
		ok, err := s.releaseRow(ctx, row, enums.ReservationExpired, reasonExpired, inventory.SystemActor)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reservation %s: %w", row.ID, err))
			continue
		}
		if ok {
			count++
		}
	}
	s.record("expired", count)
	return count, errs
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error) {
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reservations")
	}
	return rows, nil
}

func (s *service) Get(ctx context.Context, key Key) (*models.StockReservation, error) {
	row, err := s.repo.FindByKey(ctx, key.ProductID, key.OrderID, strings.TrimSpace(key.Variant))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ReservationNotFound(key.OrderID.String())
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
	}
	return row, nil
}

// releaseRow claims an active row into status `to` and returns its hold to
// the ledger in the same transaction. A row claimed elsewhere yields false.
func (s *service) releaseRow(ctx context.Context, row models.StockReservation, to enums.ReservationStatus, reason string, actor uuid.UUID) (bool, error) {
	var (
		claimed bool
		snap    *inventory.Snapshot
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).Transition(ctx, row.ID, enums.ReservationActive, to)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim reservation")
		}
		if !ok {
			return nil
		}
		snap, err = s.inventory.WithTx(tx).ReleaseReservedStock(ctx, inventory.StockChangeInput{
			ProductID: row.ProductID,
			Quantity:  row.Quantity,
			Reason:    reason,
			Reference: row.OrderID.String(),
			Actor:     actor,
		})
		if err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		lctx := s.logg.WithOrderID(ctx, row.OrderID.String())
		lctx = s.logg.WithProductID(lctx, row.ProductID.String())
		s.logg.Error(lctx, "release reservation failed", err)
		return false, err
	}
	if claimed {
		s.inventory.Announce(ctx, snap)
	}
	return claimed, nil
}

func (s *service) record(action string, n int) {
	if s.metrics == nil {
		return
	}
	s.metrics.AddReservations(action, n)
}
