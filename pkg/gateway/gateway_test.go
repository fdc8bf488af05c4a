package gateway_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/campusstore-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
	"github.com/angelmondragon/campusstore-backend/pkg/gateway"
	"github.com/angelmondragon/campusstore-backend/pkg/gateway/gatewaytest"
)

func TestVerifySignature(t *testing.T) {
	sig := gateway.Sign("whsec", "pi_1", "pay_1")
	if !gateway.VerifySignature("whsec", "pi_1", "pay_1", sig) {
		t.Fatal("expected signature to verify")
	}
	cases := map[string][4]string{
		"wrong secret":  {"other", "pi_1", "pay_1", sig},
		"swapped ids":   {"whsec", "pay_1", "pi_1", sig},
		"not hex":       {"whsec", "pi_1", "pay_1", "zz"},
		"empty payment": {"whsec", "pi_1", "", sig},
	}
	for name, c := range cases {
		if gateway.VerifySignature(c[0], c[1], c[2], c[3]) {
			t.Fatalf("%s: expected verification failure", name)
		}
	}
}

func TestWithTimeoutMapsDeadline(t *testing.T) {
	fake := gatewaytest.New("whsec")
	fake.Block(true)
	g := gateway.WithTimeout(fake, 20*time.Millisecond)

	_, err := g.CreateIntent(context.Background(), 500, "inr", "order-1")
	if !pkgerrors.Is(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline, got %v", err)
	}

	fake.Block(false)
	intent, err := g.CreateIntent(context.Background(), 500, "inr", "order-1")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.GatewayOrderID == "" || intent.AmountCents != 500 {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if !g.VerifySignature(intent.GatewayOrderID, "pay_9", fake.Sign(intent.GatewayOrderID, "pay_9")) {
		t.Fatal("decorator must delegate signature checks")
	}
}

func TestWithTimeoutPassesThroughOtherErrors(t *testing.T) {
	fake := gatewaytest.New("whsec")
	fake.FailRefunds(errors.New("boom"))
	g := gateway.WithTimeout(fake, time.Second)

	_, err := g.Refund(context.Background(), "pay_1", 100)
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected raw error, got %v", err)
	}
}

func TestNewStripeGatewayValidatesConfig(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		cfg  config.GatewayConfig
	}{
		{"missing key", config.GatewayConfig{SigningSecret: "s"}},
		{"missing secret", config.GatewayConfig{APIKey: "sk_test_1"}},
		{"live key in test", config.GatewayConfig{APIKey: "sk_live_1", SigningSecret: "s"}},
		{"unknown env", config.GatewayConfig{APIKey: "sk_test_1", SigningSecret: "s", Env: "staging"}},
	}
	for _, tc := range cases {
		if _, err := gateway.NewStripeGateway(ctx, tc.cfg, nil); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}

	g, err := gateway.NewStripeGateway(ctx, config.GatewayConfig{APIKey: "sk_test_1", SigningSecret: "s"}, nil)
	if err != nil {
		t.Fatalf("valid config: %v", err)
	}
	if g.Environment() != "test" {
		t.Fatalf("unexpected env %q", g.Environment())
	}
}

func TestFormatAmount(t *testing.T) {
	if got := gateway.FormatAmount(123456); got != "1234.56" {
		t.Fatalf("unexpected amount %q", got)
	}
	if got := gateway.FormatAmount(5); got != "0.05" {
		t.Fatalf("unexpected amount %q", got)
	}
}
