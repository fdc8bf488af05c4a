package gateway

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
)

type timeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

// WithTimeout bounds every network call of g by d. A non-positive d returns g unchanged.
func WithTimeout(g Gateway, d time.Duration) Gateway {
	if d <= 0 {
		return g
	}
	return &timeoutGateway{next: g, timeout: d}
}

func (t *timeoutGateway) CreateIntent(ctx context.Context, amountCents int64, currency string, ref string) (Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	intent, err := t.next.CreateIntent(ctx, amountCents, currency, ref)
	return intent, timeoutError(ctx, err)
}

func (t *timeoutGateway) VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	return t.next.VerifySignature(gatewayOrderID, gatewayPaymentID, signature)
}

func (t *timeoutGateway) Refund(ctx context.Context, gatewayRef string, amountCents int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	id, err := t.next.Refund(ctx, gatewayRef, amountCents)
	return id, timeoutError(ctx, err)
}

func timeoutError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway unavailable")
	}
	return err
}
