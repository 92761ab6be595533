package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var fixedTime = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func newRequest(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/initiate-order", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func TestMiddlewarePassesThroughWithoutHeader(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{"a":1}`, ""))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{"a":1}`, ""))

	if calls != 2 {
		t.Fatalf("expected both requests to reach the handler, got %d", calls)
	}
	if store.Len() != 0 {
		t.Fatalf("expected no reservations, got %d", store.Len())
	}
}

func TestMiddlewareReplaysSuccessfulResponse(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"tempOrderId":"temp_1"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest(`{"userId":"u1"}`, "key-1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest(`{"userId":"u1"}`, "key-1"))

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header")
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("expected identical replay, got %q vs %q", second.Body.String(), first.Body.String())
	}
}

func TestMiddlewareRejectsFingerprintMismatch(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{"userId":"u1"}`, "key-1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest(`{"userId":"u2"}`, "key-1"))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "idempotency_key_conflict" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
}

func TestMiddlewareReleasesKeyOnFailure(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest(`{}`, "retry"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest(`{}`, "retry"))

	if first.Code != http.StatusInternalServerError || second.Code != http.StatusOK {
		t.Fatalf("unexpected statuses %d then %d", first.Code, second.Code)
	}
	if calls != 2 {
		t.Fatalf("expected retry to reach handler, got %d calls", calls)
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "a", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.Reserve(ctx, "b", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 || store.Len() != 1 {
		t.Fatalf("expected one expired record removed, removed=%d len=%d", removed, store.Len())
	}

	res, err := store.Reserve(ctx, "a", "other", fixedTime.Add(3*time.Minute), time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected fresh reservation after expiry, got %+v %v", res, err)
	}
}
