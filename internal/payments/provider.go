package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// ProviderRazorpay is the primary gateway.
	ProviderRazorpay = "razorpay"
	// ProviderStripe is the secondary gateway.
	ProviderStripe = "stripe"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrGatewayUnavailable wraps every remote gateway failure.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrSignatureMismatch indicates the payment proof did not verify.
	ErrSignatureMismatch = errors.New("payments: signature mismatch")
	// ErrPaymentIncomplete indicates the gateway does not report the payment as captured.
	ErrPaymentIncomplete = errors.New("payments: payment not completed")
)

// OrderRequest opens a payment order at the gateway. Amount is in currency minor units.
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// GatewayOrder is the gateway's view of a created payment order.
type GatewayOrder struct {
	ID           string
	Provider     string
	Amount       int64
	Currency     string
	Receipt      string
	Status       string
	ClientSecret string
	Raw          map[string]any
}

// Verification carries the payment proof returned to the client by the gateway checkout.
type Verification struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// Provider defines the contract for gateway adapters to implement.
type Provider interface {
	CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error)
	VerifyPayment(ctx context.Context, v Verification) error
	ClientKey() string
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := normalizeKey(k)
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	if _, ok := copyMap[ProviderRazorpay]; ok {
		m.defaultProvider = ProviderRazorpay
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if provider := normalizeKey(ctx.PreferredProvider); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if providerKey, ok := m.currencyRoutes[currency]; ok && currency != "" {
		provider := normalizeKey(providerKey)
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	if def := normalizeKey(m.defaultProvider); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateOrder opens a gateway order with the resolved provider.
func (m *Manager) CreateOrder(ctx context.Context, paymentCtx PaymentContext, req OrderRequest) (GatewayOrder, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return GatewayOrder{}, err
	}
	order, err := provider.CreateOrder(ctx, req)
	if err != nil {
		return GatewayOrder{}, err
	}
	order.Provider = key
	return order, nil
}

// VerifyPayment checks the payment proof against the provider that created the gateway order.
func (m *Manager) VerifyPayment(ctx context.Context, paymentCtx PaymentContext, v Verification) error {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return err
	}
	return provider.VerifyPayment(ctx, v)
}

// ClientKey returns the public key the checkout widget needs for the resolved provider.
func (m *Manager) ClientKey(paymentCtx PaymentContext) string {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return ""
	}
	return provider.ClientKey()
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
