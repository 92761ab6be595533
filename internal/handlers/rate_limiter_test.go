package handlers

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quickprint/api/internal/platform/auth"
)

func TestPerMinuteLimiterRefills(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewPerMinuteLimiter(2, func() time.Time { return now })

	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatalf("expected burst of two")
	}
	if limiter.Allow("a") {
		t.Fatalf("expected third request to be limited")
	}
	if !limiter.Allow("b") {
		t.Fatalf("expected separate bucket per key")
	}

	now = now.Add(30 * time.Second)
	if !limiter.Allow("a") {
		t.Fatalf("expected a token after refill")
	}
}

func TestPerMinuteLimiterDisabled(t *testing.T) {
	if NewPerMinuteLimiter(0, nil) != nil {
		t.Fatalf("expected nil limiter when disabled")
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	if got := clientKey(req, nil); got != "ip:203.0.113.9" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := clientKey(req, &auth.Identity{UID: "u1"}); got != "uid:u1" {
		t.Fatalf("unexpected key %q", got)
	}
}
