package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/db"
	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
	"github.com/angelmondragon/campusstore-backend/pkg/pagination"
)

func TestReserveStockScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t, nil)
	product := seedLedger(t, svc, 10, 0)
	actor := uuid.New()

	snap, err := svc.ReserveStock(ctx, StockChangeInput{ProductID: product, Quantity: 4, Reference: "orderA", Actor: actor})
	if err != nil {
		t.Fatalf("reserve 4: %v", err)
	}
	if snap.ReservedStock != 4 || snap.AvailableStock != 6 || snap.CurrentStock != 10 {
		t.Fatalf("unexpected snapshot after reserve: %+v", snap)
	}

	_, err = svc.ReserveStock(ctx, StockChangeInput{ProductID: product, Quantity: 7, Reference: "orderB", Actor: actor})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	details, _ := typed.Details().(map[string]any)
	if details["available"] != 6 || details["requested"] != 7 {
		t.Fatalf("unexpected details: %+v", details)
	}

	after, err := svc.Get(ctx, product)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.ReservedStock != 4 || after.Version != snap.Version {
		t.Fatalf("failed reserve must not mutate the ledger: %+v", after)
	}
}

func TestRunningBalanceTracksCurrentStock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t, nil)
	product := seedLedger(t, svc, 20, 0)
	actor := uuid.New()
	in := func(qty int) StockChangeInput {
		return StockChangeInput{ProductID: product, Quantity: qty, Actor: actor}
	}

	steps := []func() (*Snapshot, error){
		func() (*Snapshot, error) { return svc.AddStock(ctx, in(5)) },
		func() (*Snapshot, error) { return svc.ReserveStock(ctx, in(8)) },
		func() (*Snapshot, error) { return svc.DeductReserved(ctx, in(3)) },
		func() (*Snapshot, error) { return svc.ReleaseReservedStock(ctx, in(2)) },
		func() (*Snapshot, error) { return svc.RemoveStock(ctx, in(4)) },
		func() (*Snapshot, error) {
			return svc.AdjustStock(ctx, AdjustInput{ProductID: product, NewQuantity: 30, Reason: "recount", Actor: actor})
		},
	}
	var last *Snapshot
	for i, step := range steps {
		snap, err := step()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if snap.ReservedStock < 0 || snap.ReservedStock > snap.CurrentStock {
			t.Fatalf("step %d broke the reserve invariant: %+v", i, snap)
		}
		last = snap
	}
	if last.CurrentStock != 30 || last.ReservedStock != 3 {
		t.Fatalf("unexpected final ledger: %+v", last)
	}

	list, err := svc.ListMovements(ctx, product, pagination.Params{Limit: 50})
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	// initial + add + reserve + (release, outbound) + release + outbound + adjustment
	if len(list.Movements) != 8 {
		t.Fatalf("expected 8 movements, got %d", len(list.Movements))
	}
	newest := list.Movements[0]
	if newest.Type != enums.MovementAdjustment || newest.Quantity != 12 {
		t.Fatalf("unexpected newest movement: %+v", newest)
	}
	if newest.RunningBalance != last.CurrentStock {
		t.Fatalf("running balance %d != current stock %d", newest.RunningBalance, last.CurrentStock)
	}
}

func TestReleaseMoreThanReserved(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t, nil)
	product := seedLedger(t, svc, 5, 0)
	actor := uuid.New()

	if _, err := svc.ReserveStock(ctx, StockChangeInput{ProductID: product, Quantity: 2, Actor: actor}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_, err := svc.ReleaseReservedStock(ctx, StockChangeInput{ProductID: product, Quantity: 3, Actor: actor})
	if !pkgerrors.Is(err, pkgerrors.CodeOverRelease) {
		t.Fatalf("expected over release, got %v", err)
	}
}

func TestAdjustBelowReservedRejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t, nil)
	product := seedLedger(t, svc, 5, 0)
	actor := uuid.New()

	if _, err := svc.ReserveStock(ctx, StockChangeInput{ProductID: product, Quantity: 4, Actor: actor}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_, err := svc.AdjustStock(ctx, AdjustInput{ProductID: product, NewQuantity: 3, Actor: actor})
	if !pkgerrors.Is(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestAlertsAreReplacedNotAccumulated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	notifier := &recordingNotifier{}
	svc, _, _ := newTestService(t, notifier)
	product := seedLedger(t, svc, 10, 3)
	actor := uuid.New()

	snap, err := svc.RemoveStock(ctx, StockChangeInput{ProductID: product, Quantity: 8, Actor: actor})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(snap.Alerts) != 1 || snap.Alerts[0].Kind != enums.AlertLowStock {
		t.Fatalf("expected a single low stock alert, got %+v", snap.Alerts)
	}

	snap, err = svc.RemoveStock(ctx, StockChangeInput{ProductID: product, Quantity: 2, Actor: actor})
	if err != nil {
		t.Fatalf("remove to zero: %v", err)
	}
	if len(snap.Alerts) != 1 || snap.Alerts[0].Kind != enums.AlertOutOfStock {
		t.Fatalf("expected out of stock to replace low stock, got %+v", snap.Alerts)
	}

	snap, err = svc.AddStock(ctx, StockChangeInput{ProductID: product, Quantity: 50, Actor: actor})
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if len(snap.Alerts) != 0 {
		t.Fatalf("expected alerts cleared after restock, got %+v", snap.Alerts)
	}

	if len(notifier.kinds) != 2 || notifier.kinds[0] != enums.AlertLowStock || notifier.kinds[1] != enums.AlertOutOfStock {
		t.Fatalf("unexpected notifications: %+v", notifier.kinds)
	}
}

func TestBoundServiceDefersNotifications(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	notifier := &recordingNotifier{}
	svc, client, _ := newTestService(t, notifier)
	product := seedLedger(t, svc, 2, 1)

	var snap *Snapshot
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		snap, err = svc.WithTx(tx).RemoveStock(ctx, StockChangeInput{ProductID: product, Quantity: 2, Actor: uuid.New()})
		return err
	})
	if err != nil {
		t.Fatalf("bound remove: %v", err)
	}
	if len(notifier.kinds) != 0 {
		t.Fatalf("bound service must not notify before commit")
	}
	if len(snap.Raised) != 1 {
		t.Fatalf("expected pending alert on snapshot, got %+v", snap.Raised)
	}
	svc.Announce(ctx, snap)
	if len(notifier.kinds) != 1 || notifier.kinds[0] != enums.AlertOutOfStock {
		t.Fatalf("unexpected notifications: %+v", notifier.kinds)
	}
}

func TestVersionConflictIsRetried(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, repo := newTestService(t, nil)
	product := seedLedger(t, svc, 10, 0)

	repo.failSwaps = 2
	snap, err := svc.AddStock(ctx, StockChangeInput{ProductID: product, Quantity: 1, Actor: uuid.New()})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if snap.CurrentStock != 11 {
		t.Fatalf("unexpected stock %d", snap.CurrentStock)
	}

	repo.failSwaps = maxCASAttempts
	_, err = svc.AddStock(ctx, StockChangeInput{ProductID: product, Quantity: 1, Actor: uuid.New()})
	if !pkgerrors.Is(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict after exhausting retries, got %v", err)
	}
}

func TestMovementPagination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t, nil)
	product := seedLedger(t, svc, 1, 0)
	for i := 0; i < 4; i++ {
		if _, err := svc.AddStock(ctx, StockChangeInput{ProductID: product, Quantity: 1, Actor: uuid.New()}); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	first, err := svc.ListMovements(ctx, product, pagination.Params{Limit: 3})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Movements) != 3 || first.NextCursor == "" {
		t.Fatalf("unexpected first page: %+v", first)
	}
	second, err := svc.ListMovements(ctx, product, pagination.Params{Limit: 3, Cursor: first.NextCursor})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Movements) != 2 || second.NextCursor != "" {
		t.Fatalf("unexpected second page: %+v", second)
	}
	if second.Movements[1].Reason != "initial_stock" {
		t.Fatalf("expected the oldest movement last, got %+v", second.Movements[1])
	}
}

func TestListActiveAlertsFiltersKinds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t, nil)
	seedLedger(t, svc, 0, 0)
	low := seedLedger(t, svc, 2, 5)

	alerts, err := svc.ListActiveAlerts(ctx, []enums.AlertKind{enums.AlertLowStock})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].ProductID != low {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}

	if _, err := svc.ListActiveAlerts(ctx, []enums.AlertKind{"bogus"}); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateLedgerTwiceConflicts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t, nil)
	product := seedLedger(t, svc, 1, 0)

	_, err := svc.CreateLedger(ctx, CreateLedgerInput{ProductID: product, Actor: uuid.New()})
	if !pkgerrors.Is(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

type recordingNotifier struct {
	kinds []enums.AlertKind
}

func (r *recordingNotifier) StockAlertRaised(_ context.Context, alert models.StockAlert, _ int) {
	r.kinds = append(r.kinds, alert.Kind)
}

type flakyRepo struct {
	Repository
	failSwaps int
}

func (f *flakyRepo) WithTx(tx *gorm.DB) Repository {
	return &flakyTxRepo{Repository: f.Repository.WithTx(tx), parent: f}
}

type flakyTxRepo struct {
	Repository
	parent *flakyRepo
}

func (f *flakyTxRepo) CompareAndSwap(ctx context.Context, next models.StockLedger, expected int64) (bool, error) {
	if f.parent.failSwaps > 0 {
		f.parent.failSwaps--
		return false, nil
	}
	return f.Repository.CompareAndSwap(ctx, next, expected)
}

func newTestService(t *testing.T, notifier AlertNotifier) (Service, *db.Client, *flakyRepo) {
	t.Helper()
	conn := newTestDB(t)
	client := db.NewWithConn(conn)
	repo := &flakyRepo{Repository: NewRepository(conn)}
	svc, err := NewService(ServiceParams{
		Repo:     repo,
		Tx:       client,
		Notifier: notifier,
		Logger:   logger.New(logger.Options{ServiceName: "inventory-test"}),
		Now:      func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, client, repo
}

func seedLedger(t *testing.T, svc Service, stock, lowThreshold int) uuid.UUID {
	t.Helper()
	product := uuid.New()
	if _, err := svc.CreateLedger(context.Background(), CreateLedgerInput{
		ProductID:         product,
		InitialStock:      stock,
		LowStockThreshold: lowThreshold,
		Actor:             uuid.New(),
	}); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	return product
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}
