package migrate

import (
	"context"
	"io"
	"io/fs"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/config"
	"github.com/angelmondragon/campusstore-backend/pkg/db"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
)

func TestMaybeRunDevSkipsOutsideDev(t *testing.T) {
	cfg := &config.Config{
		App:          config.AppConfig{Env: "prod"},
		FeatureFlags: config.FeatureFlagsConfig{AutoMigrate: true},
	}
	// a nil client would panic if the guard did not return early
	if err := MaybeRunDev(context.Background(), cfg, logger.New(logger.Options{ServiceName: "migrate-test", Output: io.Discard}), nil); err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
}

func TestMaybeRunDevAutoMigratesSQLite(t *testing.T) {
	dsn := "file:migrate_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	cfg := &config.Config{
		App:          config.AppConfig{Env: config.AppEnvDev},
		DB:           config.DBConfig{Driver: "sqlite"},
		FeatureFlags: config.FeatureFlagsConfig{AutoMigrate: true, UseSQLite: true},
	}
	logg := logger.New(logger.Options{ServiceName: "migrate-test", Output: io.Discard})

	if err := MaybeRunDev(context.Background(), cfg, logg, db.NewWithConn(conn)); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	for _, table := range []string{"stock_ledgers", "stock_reservations", "orders", "payments", "refunds", "outbox_events"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
}

func TestEmbeddedMigrationsArePresent(t *testing.T) {
	embeddedFiles, err := fs.Glob(Embedded(), "*.sql")
	if err != nil {
		t.Fatalf("glob embedded: %v", err)
	}
	if len(embeddedFiles) == 0 {
		t.Fatalf("no embedded migrations")
	}
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
