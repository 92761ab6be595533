package payments

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeConfig configures the Stripe adapter.
type StripeConfig struct {
	APIKey         string
	PublishableKey string
	Backends       *stripe.Backends
	Logger         func(ctx context.Context, event string, fields map[string]any)

	intents stripePaymentIntentAPI
}

// StripeProvider uses PaymentIntents as gateway orders.
type StripeProvider struct {
	intents        stripePaymentIntentAPI
	publishableKey string
	logger         func(ctx context.Context, event string, fields map[string]any)
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	intents := cfg.intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeProvider{
		intents:        intents,
		publishableKey: strings.TrimSpace(cfg.PublishableKey),
		logger:         logger,
	}, nil
}

func (p *StripeProvider) ClientKey() string { return p.publishableKey }

// CreateOrder creates a PaymentIntent. The client secret is returned for the browser checkout.
func (p *StripeProvider) CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error) {
	if req.Amount <= 0 {
		return GatewayOrder{}, fmt.Errorf("stripe: amount must be positive, got %d", req.Amount)
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.Receipt != "" {
		params.Description = stripe.String(req.Receipt)
		params.SetIdempotencyKey(req.Receipt)
	}
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		p.logger(ctx, "payments.stripe.intent.failed", map[string]any{"receipt": req.Receipt, "error": err.Error()})
		return GatewayOrder{}, fmt.Errorf("%w: stripe create payment intent: %v", ErrGatewayUnavailable, err)
	}
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{"paymentIntent": intent.ID, "amount": intent.Amount})

	return GatewayOrder{
		ID:           intent.ID,
		Provider:     ProviderStripe,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
		Receipt:      req.Receipt,
		Status:       string(intent.Status),
		ClientSecret: intent.ClientSecret,
		Raw:          rawIntent(intent),
	}, nil
}

// VerifyPayment fetches the intent, requires it to have succeeded and compares the supplied token with
// the intent's client secret in constant time.
func (p *StripeProvider) VerifyPayment(ctx context.Context, v Verification) error {
	if v.GatewayOrderID == "" || v.Signature == "" {
		return ErrSignatureMismatch
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := p.intents.Get(v.GatewayOrderID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return ErrSignatureMismatch
		}
		return fmt.Errorf("%w: stripe get payment intent: %v", ErrGatewayUnavailable, err)
	}
	if !hmac.Equal([]byte(intent.ClientSecret), []byte(v.Signature)) {
		return ErrSignatureMismatch
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return fmt.Errorf("%w: intent status %s", ErrPaymentIncomplete, intent.Status)
	}
	return nil
}

func rawIntent(intent *stripe.PaymentIntent) map[string]any {
	raw := map[string]any{}
	if data, err := json.Marshal(intent); err == nil {
		_ = json.Unmarshal(data, &raw)
	}
	delete(raw, "client_secret")
	return raw
}
