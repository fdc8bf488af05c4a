package inventory

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
)

func TestApplyLeavesLedgerUntouchedOnFailure(t *testing.T) {
	l := models.StockLedger{ProductID: uuid.New(), CurrentStock: 5, ReservedStock: 3, Version: 4}

	got, movements, err := Apply(l, ReserveStock(3, Meta{}), time.Now())
	if !pkgerrors.Is(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got != l || movements != nil {
		t.Fatalf("ledger changed on failure: %+v", got)
	}
}

func TestApplyStampsMovements(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	actor := uuid.New()
	l := models.StockLedger{ProductID: uuid.New(), CurrentStock: 10, ReservedStock: 4, Version: 2}

	got, movements, err := Apply(l, DeductReserved(4, Meta{Reason: "sale", Reference: "order-1", Actor: actor}), now)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.CurrentStock != 6 || got.ReservedStock != 0 || got.Version != 3 {
		t.Fatalf("unexpected ledger %+v", got)
	}
	if len(movements) != 2 {
		t.Fatalf("expected release and outbound movements, got %d", len(movements))
	}
	wantTypes := []enums.MovementType{enums.MovementReleased, enums.MovementOutbound}
	for i, m := range movements {
		if m.Type != wantTypes[i] || m.Position != i || m.LedgerVersion != 3 {
			t.Fatalf("movement %d: %+v", i, m)
		}
		if m.ProductID != l.ProductID || m.ActorID != actor || !m.CreatedAt.Equal(now) {
			t.Fatalf("movement %d missing audit fields: %+v", i, m)
		}
	}
	if movements[1].RunningBalance != 6 {
		t.Fatalf("running balance = %d, want 6", movements[1].RunningBalance)
	}
}

func TestOperationsRejectNonPositiveQuantities(t *testing.T) {
	l := models.StockLedger{ProductID: uuid.New(), CurrentStock: 10}
	ops := map[string]Operation{
		"add":     AddStock(0, Meta{}),
		"remove":  RemoveStock(-1, Meta{}),
		"reserve": ReserveStock(0, Meta{}),
		"release": ReleaseReservedStock(0, Meta{}),
		"adjust":  AdjustStock(-2, Meta{}),
	}
	for name, op := range ops {
		if _, _, err := Apply(l, op, time.Now()); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestReleaseBeyondHeldIsOverRelease(t *testing.T) {
	l := models.StockLedger{ProductID: uuid.New(), CurrentStock: 10, ReservedStock: 2}
	_, _, err := Apply(l, ReleaseReservedStock(3, Meta{}), time.Now())
	if !pkgerrors.Is(err, pkgerrors.CodeOverRelease) {
		t.Fatalf("expected over release, got %v", err)
	}
}

func TestAdjustRecordsSignedDelta(t *testing.T) {
	l := models.StockLedger{ProductID: uuid.New(), CurrentStock: 10, ReservedStock: 2}
	got, movements, err := Apply(l, AdjustStock(7, Meta{Reason: "count"}), time.Now())
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if got.CurrentStock != 7 || movements[0].Quantity != -3 {
		t.Fatalf("unexpected adjust result %+v %+v", got, movements[0])
	}
}

func TestComputeAlerts(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	cases := []struct {
		name   string
		ledger models.StockLedger
		want   []enums.AlertKind
	}{
		{"healthy", models.StockLedger{CurrentStock: 50, LowStockThreshold: 5}, nil},
		{"low", models.StockLedger{CurrentStock: 8, ReservedStock: 3, LowStockThreshold: 5}, []enums.AlertKind{enums.AlertLowStock}},
		{"out", models.StockLedger{CurrentStock: 3, ReservedStock: 3, LowStockThreshold: 5}, []enums.AlertKind{enums.AlertOutOfStock}},
		{"overstock", models.StockLedger{CurrentStock: 120, MaxStockLevel: 100}, []enums.AlertKind{enums.AlertOverstock}},
		{"expired", models.StockLedger{CurrentStock: 20, ExpiresAt: &past}, []enums.AlertKind{enums.AlertExpired}},
	}
	for _, tc := range cases {
		got := ComputeAlerts(tc.ledger, now)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %d alerts, want %d", tc.name, len(got), len(tc.want))
		}
		for i, kind := range tc.want {
			if got[i].Kind != kind || !got[i].Active || !got[i].RaisedAt.Equal(now) {
				t.Fatalf("%s: alert %d = %+v", tc.name, i, got[i])
			}
		}
	}
}

func TestNewlyRaisedIgnoresStandingAlerts(t *testing.T) {
	prev := []models.StockAlert{{Kind: enums.AlertLowStock}}
	next := []models.StockAlert{{Kind: enums.AlertLowStock}, {Kind: enums.AlertOverstock}}

	raised := newlyRaised(prev, next)
	if len(raised) != 1 || raised[0].Kind != enums.AlertOverstock {
		t.Fatalf("unexpected raised set %+v", raised)
	}
	if !NeedsReorder(models.StockLedger{CurrentStock: 4, ReorderLevel: 5}) {
		t.Fatalf("expected reorder at level")
	}
	if NeedsReorder(models.StockLedger{CurrentStock: 4}) {
		t.Fatalf("zero reorder level never reorders")
	}
}
