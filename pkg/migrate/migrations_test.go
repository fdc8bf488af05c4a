package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/angelmondragon/campusstore-backend/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
	if err := migrate.ValidateFS(migrate.Embedded()); err != nil {
		t.Fatalf("validate embedded migrations: %v", err)
	}
}

func TestValidateFSRejectsDuplicatesAndMissingDown(t *testing.T) {
	up := &fstest.MapFile{Data: []byte("-- +goose Up\nSELECT 1;\n")}
	both := &fstest.MapFile{Data: []byte("-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n")}
	cases := map[string]fstest.MapFS{
		"duplicate version": {
			"20260101000000_a.sql": both,
			"20260101000000_b.sql": both,
		},
		"missing down": {"20260101000000_a.sql": up},
		"empty":        {"README.md": both},
	}
	for name, fsys := range cases {
		if err := migrate.ValidateFS(fsys); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestStockLedgerMigrationGuardsQuantities(t *testing.T) {
	content := readMigration(t, "*_create_stock_ledger.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS stock_ledgers",
		"CHECK (current_stock >= 0)",
		"CHECK (reserved_stock >= 0)",
		"CHECK (reserved_stock <= current_stock)",
		"ux_stock_movements_sequence",
		"ux_stock_reservations_key",
		"DROP TABLE IF EXISTS stock_ledgers",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestPaymentsMigrationKeepsGatewayIDsUnique(t *testing.T) {
	content := readMigration(t, "*_create_payments.sql")

	checks := []string{
		"ux_payments_order",
		"ux_payments_gateway_order",
		"ux_payments_gateway_payment",
		"REFERENCES payments(id)",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Coupon Limits!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_coupon_limits.sql") {
		t.Fatalf("unexpected filename %q", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration invalid: %v", err)
	}
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "init.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatalf("expected invalid filename error")
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
