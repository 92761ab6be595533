//go:build integration

package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	pconfig "github.com/quickprint/api/internal/platform/config"
	pfirestore "github.com/quickprint/api/internal/platform/firestore"
)

func newEmulatorStore(t *testing.T) *FirestoreStore {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    fmt.Sprintf("idempotency-test-%d", time.Now().UnixNano()),
		EmulatorHost: host,
	})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return NewFirestoreStore(provider)
}

func TestFirestoreStoreReserveAndReplay(t *testing.T) {
	store := newEmulatorStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	res, err := store.Reserve(ctx, "k1", "fp1", now, time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %+v %v", res, err)
	}
	res, err = store.Reserve(ctx, "k1", "fp1", now, time.Minute)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %+v %v", res, err)
	}
	if _, err := store.Reserve(ctx, "k1", "other", now, time.Minute); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	resp := Response{Status: http.StatusOK, Headers: http.Header{"Content-Type": {"application/json"}}, Body: []byte(`{"success":true}`)}
	if err := store.SaveResponse(ctx, "k1", "fp1", resp, now, time.Minute); err != nil {
		t.Fatalf("save response: %v", err)
	}
	res, err = store.Reserve(ctx, "k1", "fp1", now.Add(time.Second), time.Minute)
	if err != nil || res.State != ReservationStateCompleted {
		t.Fatalf("expected completed reservation, got %+v %v", res, err)
	}
	if string(res.Record.Response.Body) != `{"success":true}` || res.Record.Response.Status != http.StatusOK {
		t.Fatalf("unexpected stored response %+v", res.Record.Response)
	}

	removed, err := store.CleanupExpired(ctx, now.Add(2*time.Minute))
	if err != nil || removed != 1 {
		t.Fatalf("expected one expired record removed, got %d %v", removed, err)
	}
}

func TestFirestoreStoreRelease(t *testing.T) {
	store := newEmulatorStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.Reserve(ctx, "k2", "fp", now, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Release(ctx, "k2", "fp"); err != nil {
		t.Fatalf("release: %v", err)
	}
	res, err := store.Reserve(ctx, "k2", "fp", now, time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected fresh reservation after release, got %+v %v", res, err)
	}
}
