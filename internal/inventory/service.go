package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/db"
	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
	"github.com/angelmondragon/campusstore-backend/pkg/pagination"
)

const maxCASAttempts = 5

var errVersionMoved = errors.New("stock ledger version moved")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// AlertNotifier is signalled for low and out of stock alerts once they are committed.
type AlertNotifier interface {
	StockAlertRaised(ctx context.Context, alert models.StockAlert, available int)
}

type retryRecorder interface {
	IncLedgerRetry()
}

// Service owns every read and write of the stock ledgers.
type Service interface {
	CreateLedger(ctx context.Context, input CreateLedgerInput) (*Snapshot, error)
	Get(ctx context.Context, productID uuid.UUID) (*Snapshot, error)
	AddStock(ctx context.Context, input StockChangeInput) (*Snapshot, error)
	RemoveStock(ctx context.Context, input StockChangeInput) (*Snapshot, error)
	ReserveStock(ctx context.Context, input StockChangeInput) (*Snapshot, error)
	ReleaseReservedStock(ctx context.Context, input StockChangeInput) (*Snapshot, error)
	DeductReserved(ctx context.Context, input StockChangeInput) (*Snapshot, error)
	AdjustStock(ctx context.Context, input AdjustInput) (*Snapshot, error)
	UpdateThresholds(ctx context.Context, input ThresholdsInput) (*Snapshot, error)
	ListMovements(ctx context.Context, productID uuid.UUID, params pagination.Params) (*MovementList, error)
	ListActiveAlerts(ctx context.Context, kinds []enums.AlertKind) ([]AlertView, error)
	// WithTx binds the service to a caller-owned transaction. Bound services
	// never notify; callers pass the returned snapshots to Announce after commit.
	WithTx(tx *gorm.DB) Service
	Announce(ctx context.Context, snapshots ...*Snapshot)
}

type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Notifier AlertNotifier
	Metrics  retryRecorder
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	bound    *gorm.DB
	notifier AlertNotifier
	metrics  retryRecorder
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		notifier: params.Notifier,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      now,
	}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	clone := *s
	clone.bound = tx
	return &clone
}

func (s *service) CreateLedger(ctx context.Context, input CreateLedgerInput) (*Snapshot, error) {
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if input.Actor == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	if input.InitialStock < 0 || input.LowStockThreshold < 0 || input.ReorderLevel < 0 || input.MaxStockLevel < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock levels must be zero or greater")
	}

	now := s.now()
	ledger := models.StockLedger{
		ProductID:         input.ProductID,
		CurrentStock:      input.InitialStock,
		LowStockThreshold: input.LowStockThreshold,
		ReorderLevel:      input.ReorderLevel,
		MaxStockLevel:     input.MaxStockLevel,
		ExpiresAt:         input.ExpiresAt,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	var snap *Snapshot
	err := s.run(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, &ledger); err != nil {
			if db.IsUniqueViolation(err, "stock_ledgers_pkey") {
				return pkgerrors.New(pkgerrors.CodeConflict, "stock ledger already exists")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stock ledger")
		}
		if input.InitialStock > 0 {
			m := movement(&ledger, enums.MovementInbound, input.InitialStock, Meta{Reason: "initial_stock", Actor: input.Actor})
			m.ProductID = ledger.ProductID
			m.LedgerVersion = ledger.Version
			m.CreatedAt = now
			if err := repo.AppendMovements(ctx, []models.StockMovement{m}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append stock movement")
			}
		}
		alerts := ComputeAlerts(ledger, now)
		if err := repo.ReplaceAlerts(ctx, ledger.ProductID, alerts); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store stock alerts")
		}
		snap = newSnapshot(ledger, alerts)
		snap.Raised = notifiable(alerts)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, snap)
	return snap, nil
}

func (s *service) Get(ctx context.Context, productID uuid.UUID) (*Snapshot, error) {
	repo := s.repo
	if s.bound != nil {
		repo = repo.WithTx(s.bound)
	}
	ledger, err := s.load(ctx, repo, productID)
	if err != nil {
		return nil, err
	}
	alerts, err := repo.AlertsFor(ctx, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock alerts")
	}
	return newSnapshot(*ledger, alerts), nil
}

func (s *service) AddStock(ctx context.Context, input StockChangeInput) (*Snapshot, error) {
	return s.change(ctx, input, AddStock)
}

func (s *service) RemoveStock(ctx context.Context, input StockChangeInput) (*Snapshot, error) {
	return s.change(ctx, input, RemoveStock)
}

func (s *service) ReserveStock(ctx context.Context, input StockChangeInput) (*Snapshot, error) {
	return s.change(ctx, input, ReserveStock)
}

func (s *service) ReleaseReservedStock(ctx context.Context, input StockChangeInput) (*Snapshot, error) {
	return s.change(ctx, input, ReleaseReservedStock)
}

func (s *service) DeductReserved(ctx context.Context, input StockChangeInput) (*Snapshot, error) {
	return s.change(ctx, input, DeductReserved)
}

func (s *service) AdjustStock(ctx context.Context, input AdjustInput) (*Snapshot, error) {
	if input.Actor == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	meta := Meta{Reason: strings.TrimSpace(input.Reason), Actor: input.Actor}
	return s.mutate(ctx, input.ProductID, AdjustStock(input.NewQuantity, meta))
}

func (s *service) UpdateThresholds(ctx context.Context, input ThresholdsInput) (*Snapshot, error) {
	if input.Actor == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	if input.LowStockThreshold < 0 || input.ReorderLevel < 0 || input.MaxStockLevel < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "thresholds must be zero or greater")
	}
	return s.mutate(ctx, input.ProductID, func(l *models.StockLedger) ([]models.StockMovement, error) {
		l.LowStockThreshold = input.LowStockThreshold
		l.ReorderLevel = input.ReorderLevel
		l.MaxStockLevel = input.MaxStockLevel
		l.ExpiresAt = input.ExpiresAt
		return nil, nil
	})
}

func (s *service) ListMovements(ctx context.Context, productID uuid.UUID, params pagination.Params) (*MovementList, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	cursor, err := pagination.ParseSequenceCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListMovements(ctx, productID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock movements")
	}

	list := &MovementList{Movements: make([]MovementView, 0, len(rows))}
	if len(rows) > limit {
		last := rows[limit-1]
		list.NextCursor = pagination.EncodeSequenceCursor(pagination.SequenceCursor{
			Version:  last.LedgerVersion,
			Position: last.Position,
		})
		rows = rows[:limit]
	}
	for _, row := range rows {
		list.Movements = append(list.Movements, movementView(row))
	}
	return list, nil
}

func (s *service) ListActiveAlerts(ctx context.Context, kinds []enums.AlertKind) ([]AlertView, error) {
	filter := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		if !kind.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown alert kind %q", kind))
		}
		filter = append(filter, kind.String())
	}
	rows, err := s.repo.ListActiveAlerts(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock alerts")
	}
	views := make([]AlertView, 0, len(rows))
	for _, row := range rows {
		views = append(views, alertView(row))
	}
	return views, nil
}

func (s *service) Announce(ctx context.Context, snapshots ...*Snapshot) {
	if s.notifier == nil {
		return
	}
	for _, snap := range snapshots {
		if snap == nil {
			continue
		}
		for _, alert := range snap.Raised {
			s.notifier.StockAlertRaised(ctx, alert, snap.AvailableStock)
		}
		snap.Raised = nil
	}
}

func (s *service) change(ctx context.Context, input StockChangeInput, build func(int, Meta) Operation) (*Snapshot, error) {
	if input.Actor == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	meta := Meta{
		Reason:    strings.TrimSpace(input.Reason),
		Reference: strings.TrimSpace(input.Reference),
		Actor:     input.Actor,
	}
	return s.mutate(ctx, input.ProductID, build(input.Quantity, meta))
}

// mutate is the read-modify-write loop shared by every ledger write. A lost
// version race reloads and retries; domain errors are returned immediately.
func (s *service) mutate(ctx context.Context, productID uuid.UUID, op Operation) (*Snapshot, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		var snap *Snapshot
		err := s.run(ctx, func(tx *gorm.DB) error {
			var err error
			snap, err = s.applyOnce(ctx, s.repo.WithTx(tx), productID, op)
			return err
		})
		if errors.Is(err, errVersionMoved) {
			if s.metrics != nil {
				s.metrics.IncLedgerRetry()
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		s.afterCommit(ctx, snap)
		return snap, nil
	}

	ctx = s.logg.WithProductID(ctx, productID.String())
	s.logg.Warn(ctx, "stock ledger write gave up after repeated version conflicts")
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "stock ledger is busy, retry the request").
		WithDetails(map[string]any{"product_id": productID.String()})
}

func (s *service) applyOnce(ctx context.Context, repo Repository, productID uuid.UUID, op Operation) (*Snapshot, error) {
	ledger, err := s.load(ctx, repo, productID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	next, movements, err := Apply(*ledger, op, now)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = now

	swapped, err := repo.CompareAndSwap(ctx, next, ledger.Version)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update stock ledger")
	}
	if !swapped {
		return nil, errVersionMoved
	}
	if err := repo.AppendMovements(ctx, movements); err != nil {
		if db.IsUniqueViolation(err, "ux_stock_movements_sequence") {
			return nil, errVersionMoved
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append stock movements")
	}

	previous, err := repo.AlertsFor(ctx, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock alerts")
	}
	alerts := keepRaisedAt(previous, ComputeAlerts(next, now))
	if err := repo.ReplaceAlerts(ctx, productID, alerts); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store stock alerts")
	}

	snap := newSnapshot(next, alerts)
	snap.Raised = notifiable(newlyRaised(previous, alerts))
	return snap, nil
}

func (s *service) load(ctx context.Context, repo Repository, productID uuid.UUID) (*models.StockLedger, error) {
	ledger, err := repo.FindByProductID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock ledger not found").
				WithDetails(map[string]any{"product_id": productID.String()})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock ledger")
	}
	return ledger, nil
}

func (s *service) run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.bound != nil {
		return fn(s.bound)
	}
	return s.tx.WithTx(ctx, fn)
}

func (s *service) afterCommit(ctx context.Context, snap *Snapshot) {
	if s.bound != nil {
		return
	}
	s.Announce(ctx, snap)
}

// keepRaisedAt preserves the original raise time of alerts that stay active.
func keepRaisedAt(previous, next []models.StockAlert) []models.StockAlert {
	raised := make(map[enums.AlertKind]time.Time, len(previous))
	for _, a := range previous {
		raised[a.Kind] = a.RaisedAt
	}
	for i := range next {
		if at, ok := raised[next[i].Kind]; ok {
			next[i].RaisedAt = at
		}
	}
	return next
}

func notifiable(alerts []models.StockAlert) []models.StockAlert {
	var out []models.StockAlert
	for _, a := range alerts {
		if a.Kind == enums.AlertLowStock || a.Kind == enums.AlertOutOfStock {
			out = append(out, a)
		}
	}
	return out
}
