package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"
)

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayConfig configures the Razorpay adapter.
type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	Logger    func(ctx context.Context, event string, fields map[string]any)

	orders razorpayOrderAPI
}

// RazorpayProvider creates Razorpay orders and verifies checkout signatures.
type RazorpayProvider struct {
	keyID  string
	secret string
	orders razorpayOrderAPI
	logger func(ctx context.Context, event string, fields map[string]any)
}

var _ Provider = (*RazorpayProvider)(nil)

// NewRazorpayProvider constructs the adapter using the official SDK client.
func NewRazorpayProvider(cfg RazorpayConfig) (*RazorpayProvider, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	secret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || secret == "" {
		return nil, errors.New("razorpay: key id and key secret are required")
	}
	orders := cfg.orders
	if orders == nil {
		orders = razorpay.NewClient(keyID, secret).Order
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &RazorpayProvider{keyID: keyID, secret: secret, orders: orders, logger: logger}, nil
}

// ClientKey returns the public key id used by the checkout widget.
func (p *RazorpayProvider) ClientKey() string { return p.keyID }

// CreateOrder opens a Razorpay order. Any SDK failure is reported as ErrGatewayUnavailable.
func (p *RazorpayProvider) CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error) {
	if req.Amount <= 0 {
		return GatewayOrder{}, fmt.Errorf("razorpay: amount must be positive, got %d", req.Amount)
	}
	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": strings.ToUpper(req.Currency),
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		notes := make(map[string]interface{}, len(req.Notes))
		for k, v := range req.Notes {
			notes[k] = v
		}
		data["notes"] = notes
	}

	raw, err := p.orders.Create(data, nil)
	if err != nil {
		p.logger(ctx, "payments.razorpay.order.failed", map[string]any{"receipt": req.Receipt, "error": err.Error()})
		return GatewayOrder{}, fmt.Errorf("%w: razorpay create order: %v", ErrGatewayUnavailable, err)
	}
	id, _ := raw["id"].(string)
	if id == "" {
		return GatewayOrder{}, fmt.Errorf("%w: razorpay returned order without id", ErrGatewayUnavailable)
	}

	order := GatewayOrder{
		ID:       id,
		Provider: ProviderRazorpay,
		Amount:   req.Amount,
		Currency: strings.ToUpper(req.Currency),
		Receipt:  req.Receipt,
		Raw:      raw,
	}
	if amount, ok := numeric(raw["amount"]); ok {
		order.Amount = amount
	}
	if status, ok := raw["status"].(string); ok {
		order.Status = status
	}
	if cur, ok := raw["currency"].(string); ok && cur != "" {
		order.Currency = cur
	}

	p.logger(ctx, "payments.razorpay.order.created", map[string]any{"gatewayOrderId": id, "amount": order.Amount})
	return order, nil
}

// VerifyPayment checks the checkout signature locally with the key secret.
func (p *RazorpayProvider) VerifyPayment(_ context.Context, v Verification) error {
	if !VerifySignature(v.GatewayOrderID, v.PaymentID, v.Signature, p.secret) {
		return ErrSignatureMismatch
	}
	return nil
}

func numeric(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
