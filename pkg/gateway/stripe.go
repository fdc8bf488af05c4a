package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/campusstore-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
)

// keyModes lists, per Stripe environment, the secret and restricted key
// prefixes it accepts. A live key never runs against the test environment.
var keyModes = map[string][]string{
	"test": {"sk_test_", "rk_test_"},
	"live": {"sk_live_", "rk_live_"},
}

type intentCreator interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
}

type refundCreator interface {
	Create(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error)
}

// StripeGateway opens payment intents and refunds through Stripe. Payment
// confirmations are verified with the shared signing secret.
type StripeGateway struct {
	intents       intentCreator
	refunds       refundCreator
	signingSecret string
	environment   string
	logg          *logger.Logger
}

// NewStripeGateway builds the Stripe client once with the configured key and env.
func NewStripeGateway(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger) (*StripeGateway, error) {
	env := cfg.Environment()
	apiKey := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.SigningSecret)
	if err := checkStripeKey(env, apiKey); err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, errors.New("gateway signing secret is required")
	}

	api := stripe.NewClient(apiKey)
	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe gateway ready")
	}
	return &StripeGateway{
		intents:       api.V1PaymentIntents,
		refunds:       api.V1Refunds,
		signingSecret: secret,
		environment:   env,
		logg:          logg,
	}, nil
}

func (g *StripeGateway) Environment() string {
	return g.environment
}

func (g *StripeGateway) CreateIntent(ctx context.Context, amountCents int64, currency string, ref string) (Intent, error) {
	if amountCents <= 0 {
		return Intent{}, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be greater than zero")
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
		Metadata: map[string]string{"order_id": ref},
	}
	pi, err := g.intents.Create(ctx, params)
	if err != nil {
		return Intent{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway unavailable")
	}
	if g.logg != nil {
		lctx := g.logg.WithOrderID(ctx, ref)
		g.logg.Info(lctx, fmt.Sprintf("payment intent %s opened for %s %s", pi.ID, FormatAmount(amountCents), strings.ToUpper(currency)))
	}
	return Intent{
		GatewayOrderID: pi.ID,
		ClientSecret:   pi.ClientSecret,
		AmountCents:    amountCents,
		Currency:       currency,
	}, nil
}

func (g *StripeGateway) VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	return VerifySignature(g.signingSecret, gatewayOrderID, gatewayPaymentID, signature)
}

func (g *StripeGateway) Refund(ctx context.Context, gatewayRef string, amountCents int64) (string, error) {
	gatewayRef = strings.TrimSpace(gatewayRef)
	if gatewayRef == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "gateway reference required")
	}
	if amountCents <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be greater than zero")
	}
	rf, err := g.refunds.Create(ctx, refundParams(gatewayRef, amountCents))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway refund failed")
	}
	return rf.ID, nil
}

// refundParams targets a charge for ch_ and py_ ids and a payment intent
// otherwise.
func refundParams(gatewayRef string, amountCents int64) *stripe.RefundCreateParams {
	params := &stripe.RefundCreateParams{Amount: stripe.Int64(amountCents)}
	if strings.HasPrefix(gatewayRef, "ch_") || strings.HasPrefix(gatewayRef, "py_") {
		params.Charge = stripe.String(gatewayRef)
	} else {
		params.PaymentIntent = stripe.String(gatewayRef)
	}
	return params
}

// FormatAmount renders integer cents as a two decimal major-unit string.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func checkStripeKey(env, key string) error {
	prefixes, known := keyModes[env]
	switch {
	case !known:
		return fmt.Errorf("stripe environment %q is not test or live", env)
	case key == "":
		return errors.New("stripe api key is required")
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return nil
		}
	}
	return fmt.Errorf("stripe %s environment needs a key starting with %s", env, strings.Join(prefixes, " or "))
}
