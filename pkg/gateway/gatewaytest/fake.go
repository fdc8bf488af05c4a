// Package gatewaytest provides an in-process payment gateway for tests and
// local runs without provider credentials.
package gatewaytest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
	"github.com/angelmondragon/campusstore-backend/pkg/gateway"
)

// FakeGateway records calls and signs confirmations with Secret.
type FakeGateway struct {
	Secret string

	mu         sync.Mutex
	intentErr  error
	refundErr  error
	block      bool
	intents    []gateway.Intent
	refunds    []RefundCall
	nextIntent int
	nextRefund int
}

type RefundCall struct {
	GatewayRef  string
	AmountCents int64
	RefundID    string
}

var _ gateway.Gateway = (*FakeGateway)(nil)

func New(secret string) *FakeGateway {
	return &FakeGateway{Secret: secret}
}

// FailIntents makes every CreateIntent call return err until reset with nil.
func (f *FakeGateway) FailIntents(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intentErr = err
}

func (f *FakeGateway) FailRefunds(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundErr = err
}

// Block makes network calls wait for context cancellation.
func (f *FakeGateway) Block(block bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = block
}

func (f *FakeGateway) CreateIntent(ctx context.Context, amountCents int64, currency string, ref string) (gateway.Intent, error) {
	if err := f.wait(ctx); err != nil {
		return gateway.Intent{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.intentErr != nil {
		return gateway.Intent{}, f.intentErr
	}
	f.nextIntent++
	intent := gateway.Intent{
		GatewayOrderID: fmt.Sprintf("pi_fake_%d", f.nextIntent),
		ClientSecret:   fmt.Sprintf("pi_fake_%d_secret", f.nextIntent),
		AmountCents:    amountCents,
		Currency:       currency,
	}
	f.intents = append(f.intents, intent)
	return intent, nil
}

func (f *FakeGateway) VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	return gateway.VerifySignature(f.Secret, gatewayOrderID, gatewayPaymentID, signature)
}

func (f *FakeGateway) Refund(ctx context.Context, gatewayRef string, amountCents int64) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return "", f.refundErr
	}
	f.nextRefund++
	id := fmt.Sprintf("re_fake_%d", f.nextRefund)
	f.refunds = append(f.refunds, RefundCall{GatewayRef: gatewayRef, AmountCents: amountCents, RefundID: id})
	return id, nil
}

// Sign returns the signature a client would present for the pair.
func (f *FakeGateway) Sign(gatewayOrderID, gatewayPaymentID string) string {
	return gateway.Sign(f.Secret, gatewayOrderID, gatewayPaymentID)
}

func (f *FakeGateway) Intents() []gateway.Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Intent(nil), f.intents...)
}

func (f *FakeGateway) Refunds() []RefundCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RefundCall(nil), f.refunds...)
}

func (f *FakeGateway) wait(ctx context.Context) error {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if !block {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

// ErrDeclined is a ready-made provider failure for tests.
var ErrDeclined = pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("card declined"), "payment gateway unavailable")
