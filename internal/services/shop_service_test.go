package services

import (
	"context"
	"testing"
	"time"

	"github.com/quickprint/api/internal/repositories/memory"
)

func TestShopServiceToggle(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var events []string
	svc, err := NewShopService(ShopServiceDeps{
		Shop:  memory.NewShopStatusRepository(),
		Clock: func() time.Time { return now },
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("new shop service: %v", err)
	}
	ctx := context.Background()

	status, err := svc.Status(ctx)
	if err != nil || !status.Open {
		t.Fatalf("expected shop open by default, got %+v %v", status, err)
	}
	if _, err := svc.SetOpen(ctx, false); err != nil {
		t.Fatalf("close: %v", err)
	}
	status, _ = svc.Status(ctx)
	if status.Open || !status.UpdatedAt.Equal(now) {
		t.Fatalf("expected closed shop stamped at %s, got %+v", now, status)
	}
	if len(events) != 1 || events[0] != "shop.status_changed" {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestNewShopServiceRequiresRepository(t *testing.T) {
	if _, err := NewShopService(ShopServiceDeps{}); err == nil {
		t.Fatalf("expected error without repository")
	}
}
