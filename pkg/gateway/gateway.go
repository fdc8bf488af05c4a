// Package gateway is the narrow adapter between order fulfillment and the
// external payment provider.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Intent is the provider-side payment object a customer completes.
type Intent struct {
	GatewayOrderID string `json:"gateway_order_id"`
	ClientSecret   string `json:"client_secret,omitempty"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
}

type Gateway interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, ref string) (Intent, error)
	VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool
	// Refund refunds against the intent (or charge) gatewayRef and returns
	// the provider refund id.
	Refund(ctx context.Context, gatewayRef string, amountCents int64) (string, error)
}

// Sign returns hex(HMAC-SHA256(secret, gatewayOrderID|gatewayPaymentID)).
func Sign(secret, gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature against the expected digest in constant time.
func VerifySignature(secret, gatewayOrderID, gatewayPaymentID, signature string) bool {
	if secret == "" || gatewayOrderID == "" || gatewayPaymentID == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, gatewayOrderID, gatewayPaymentID))
	return hmac.Equal(got, want)
}
