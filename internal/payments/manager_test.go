package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp string
	order  GatewayOrder
	key    string
	err    error
}

func (f *fakeProvider) CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error) {
	f.lastOp = "create"
	return f.order, f.err
}

func (f *fakeProvider) VerifyPayment(ctx context.Context, v Verification) error {
	f.lastOp = "verify"
	return f.err
}

func (f *fakeProvider) ClientKey() string { return f.key }

func TestManagerCreateOrderUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	rzp := &fakeProvider{order: GatewayOrder{ID: "order_rzp"}}
	stp := &fakeProvider{order: GatewayOrder{ID: "pi_stripe"}}

	mgr, err := NewManager(map[string]Provider{ProviderRazorpay: rzp, ProviderStripe: stp})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	order, err := mgr.CreateOrder(ctx, PaymentContext{PreferredProvider: "Stripe"}, OrderRequest{Amount: 100, Currency: "INR"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Provider != ProviderStripe || order.ID != "pi_stripe" {
		t.Fatalf("unexpected order %+v", order)
	}
	if rzp.lastOp != "" {
		t.Fatalf("expected razorpay provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	rzp := &fakeProvider{}
	stp := &fakeProvider{key: "pk_test"}

	mgr, err := NewManager(
		map[string]Provider{ProviderRazorpay: rzp, ProviderStripe: stp},
		WithCurrencyRoutes(map[string]string{"usd": ProviderStripe}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if key := mgr.ClientKey(PaymentContext{Currency: "USD"}); key != "pk_test" {
		t.Fatalf("expected stripe key, got %q", key)
	}
	if err := mgr.VerifyPayment(ctx, PaymentContext{Currency: "INR"}, Verification{}); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if rzp.lastOp != "verify" {
		t.Fatalf("expected default razorpay provider for INR, got %q", rzp.lastOp)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{ProviderRazorpay: &fakeProvider{}, ProviderStripe: &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if _, err := mgr.CreateOrder(ctx, PaymentContext{PreferredProvider: "paypal"}, OrderRequest{}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
	if _, err := mgr.CreateOrder(ctx, PaymentContext{}, OrderRequest{}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider without default, got %v", err)
	}
}

func TestManagerPropagatesProviderErrors(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{ProviderRazorpay: &fakeProvider{err: ErrGatewayUnavailable}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.CreateOrder(context.Background(), PaymentContext{}, OrderRequest{}); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}
