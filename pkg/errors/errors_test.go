package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestMetadataOpaqueCodesHideDetails(t *testing.T) {
	for _, code := range []Code{CodeInternal, CodeUnauthorized, CodeForbidden} {
		if MetadataFor(code).DetailsAllowed {
			t.Fatalf("code %s must not expose details", code)
		}
	}
	if MetadataFor(CodeDependency).HTTPStatus != http.StatusServiceUnavailable || !MetadataFor(CodeDependency).Retryable {
		t.Fatalf("dependency failures map to a retryable 503")
	}
	if MetadataFor(CodeIdempotency).HTTPStatus != http.StatusConflict {
		t.Fatalf("idempotency reuse maps to 409")
	}
	if MetadataFor("SOMETHING_UNKNOWN") != MetadataFor(CodeInternal) {
		t.Fatalf("unknown codes fall back to internal")
	}
}

func TestIsFindsCodeThroughWrapping(t *testing.T) {
	inner := OrderNotFound("o-1")
	wrapped := fmt.Errorf("load order: %w", inner)

	if !Is(wrapped, CodeOrderNotFound) {
		t.Fatalf("expected code through fmt wrapping")
	}
	if Is(wrapped, CodeNotFound) {
		t.Fatalf("generic not found must not match the order code")
	}
	if Is(nil, CodeInternal) || As(nil) != nil {
		t.Fatalf("nil errors carry no code")
	}

	cause := stdErrors.New("connection reset")
	dep := Wrap(CodeDependency, cause, "create intent")
	if !stdErrors.Is(dep, cause) {
		t.Fatalf("Wrap must keep the cause")
	}
	if dep.Error() != "DEPENDENCY_ERROR: create intent" {
		t.Fatalf("unexpected message %q", dep.Error())
	}
}

func TestNilErrorAccessorsAreSafe(t *testing.T) {
	var e *Error
	if e.Code() != CodeInternal || e.Message() != "" || e.Details() != nil || e.WithDetails("x") != nil {
		t.Fatalf("nil receiver accessors should return zero values")
	}
}

func TestDumpReadsPostgresDetails(t *testing.T) {
	pgxErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_payments_gateway_payment", TableName: "payments"}
	d := Dump(Wrap(CodeConflict, pgxErr, "mark payment completed"))
	if d.Code != CodeConflict || d.PGCode != "23505" || d.PGConstraint != "ux_payments_gateway_payment" {
		t.Fatalf("unexpected dump %+v", d)
	}
	if len(d.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %v", d.Chain)
	}

	pqErr := &pq.Error{Code: "23514", Constraint: "stock_ledgers_reserved_le_current", Table: "stock_ledgers"}
	d = Dump(fmt.Errorf("reserve: %w", pqErr))
	if d.PGCode != "23514" || d.PGTable != "stock_ledgers" || d.Code != "" {
		t.Fatalf("unexpected dump %+v", d)
	}
}

func TestDumpFieldsCarryStepAndSkipEmpty(t *testing.T) {
	err := New(CodeDependency, "saga aborted").WithDetails(map[string]any{"step": "create intent"})
	fields := Dump(err).Fields()
	if fields["step"] != "create intent" {
		t.Fatalf("expected saga step, got %v", fields["step"])
	}
	if fields["retryable"] != true {
		t.Fatalf("expected retryable flag, got %v", fields["retryable"])
	}
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("empty pg fields should be omitted: %v", fields)
	}
	if len(Dump(nil).Fields()["error_chain"].([]string)) != 0 {
		t.Fatalf("nil dump has an empty chain")
	}
}
