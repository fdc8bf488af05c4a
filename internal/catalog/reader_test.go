package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
)

func TestProducts(t *testing.T) {
	conn := newTestDB(t)
	active := models.Product{ID: uuid.New(), Name: "Notebook", PriceCents: 12000, Currency: "inr", IsActive: true}
	retired := models.Product{ID: uuid.New(), Name: "Old planner", PriceCents: 500, Currency: "inr", IsActive: true}
	for _, p := range []*models.Product{&active, &retired} {
		if err := conn.Create(p).Error; err != nil {
			t.Fatalf("seed product: %v", err)
		}
	}
	if err := conn.Model(&models.Product{}).Where("id = ?", retired.ID).Update("is_active", false).Error; err != nil {
		t.Fatalf("retire product: %v", err)
	}

	r := NewReader(conn)
	ctx := context.Background()

	got, err := r.Products(ctx, []uuid.UUID{active.ID})
	if err != nil {
		t.Fatalf("products: %v", err)
	}
	if got[active.ID].PriceCents != 12000 {
		t.Fatalf("unexpected product %+v", got[active.ID])
	}

	if _, err := r.Products(ctx, []uuid.UUID{active.ID, uuid.New()}); !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := r.Products(ctx, []uuid.UUID{retired.ID}); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for inactive product, got %v", err)
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:catalog_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&models.Product{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}
