package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func decode(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerCarriesDomainFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Level: zerolog.DebugLevel, Format: FormatJSON, Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithActorID(ctx, "actor-1")
	ctx = log.WithOrderID(ctx, "order-9")
	log.Error(ctx, "confirm failed", errors.New("boom"))

	entries := decode(t, buf)
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	for key, want := range map[string]string{
		"service":    "api",
		"request_id": "req-123",
		"actor_id":   "actor-1",
		"order_id":   "order-9",
		"error":      "boom",
		"level":      "error",
	} {
		if entry[key] != want {
			t.Fatalf("expected %s=%q, got %v", key, want, entry[key])
		}
	}
	if _, ok := entry["stack"]; !ok {
		t.Fatalf("expected stack on error entries")
	}
}

func TestFieldsDoNotLeakIntoParentContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Format: FormatJSON, Output: buf})

	parent := log.WithProductID(context.Background(), "p-1")
	_ = log.WithOrderID(parent, "o-1")
	log.Info(parent, "ledger read")

	entry := decode(t, buf)[0]
	if entry["product_id"] != "p-1" {
		t.Fatalf("expected product_id on parent, got %v", entry["product_id"])
	}
	if _, ok := entry["order_id"]; ok {
		t.Fatalf("child field leaked into parent: %v", entry)
	}
}

func TestWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Format: FormatJSON, Output: buf, WarnStack: true})
	log.Warn(context.Background(), "warny")
	if _, ok := decode(t, buf)[0]["stack"]; !ok {
		t.Fatalf("expected stack when warn stack enabled")
	}

	buf.Reset()
	log = New(Options{ServiceName: "test", Format: FormatJSON, Output: buf})
	log.Warn(context.Background(), "quiet")
	if _, ok := decode(t, buf)[0]["stack"]; ok {
		t.Fatalf("expected no stack by default")
	}
}

func TestDebugRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Format: FormatJSON, Output: buf})
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info level: %s", buf.String())
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
	if lvl := ParseLevel(" WARN "); lvl != zerolog.WarnLevel {
		t.Fatalf("expected warn, got %v", lvl)
	}
}
