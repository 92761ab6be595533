package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := New("test")
	router := chi.NewRouter()
	router.Use(m.Middleware)
	router.Get("/orders/{userId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"u1", "u2", "u3"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/"+id, nil))
	}

	got := testutil.ToFloat64(m.requestsTotal.WithLabelValues(http.MethodGet, "/orders/{userId}", "204"))
	if got != 3 {
		t.Fatalf("expected 3 requests on the route pattern, got %v", got)
	}
}

func TestBusinessCountersAndHandler(t *testing.T) {
	m := New("test")
	m.OrderInitiated("razorpay", "success")
	m.OrderInitiated("", "gateway_error")
	m.PaymentVerified("confirmed")
	m.StatusChanged("Queued", "In Progress")
	m.DraftExpired()
	m.OrderConfirmed("print", 30)
	m.PagesEstimated("pdf", 4)

	if got := testutil.ToFloat64(m.ordersInitiated.WithLabelValues("unknown", "gateway_error")); got != 1 {
		t.Fatalf("expected unknown provider label, got %v", got)
	}
	if got := testutil.ToFloat64(m.draftsExpired); got != 1 {
		t.Fatalf("expected one expired draft, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"test_orders_status_transitions_total", "test_orders_payment_verifications_total", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in exposition", want)
		}
	}
}
