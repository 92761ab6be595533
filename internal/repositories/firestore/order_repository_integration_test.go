//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	domain "github.com/quickprint/api/internal/domain"
	pconfig "github.com/quickprint/api/internal/platform/config"
	pfirestore "github.com/quickprint/api/internal/platform/firestore"
	"github.com/quickprint/api/internal/repositories"
)

func newEmulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    fmt.Sprintf("orders-test-%d", time.Now().UnixNano()),
		EmulatorHost: host,
	})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func testOrder(id, userID string, createdAt time.Time, status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:      id,
		DraftID: "temp_" + id,
		Details: domain.OrderDetails{
			UserID:         userID,
			ServiceType:    "print",
			FileURL:        "https://storage.example/" + id + ".pdf",
			Quantity:       2,
			PageCount:      3,
			TotalPages:     6,
			EstimatedPrice: 12,
		},
		Payment:       domain.PaymentRef{Provider: "razorpay", GatewayOrderID: "order_" + id, GatewayPaymentID: "pay_" + id},
		PaymentStatus: domain.PaymentStatusCompleted,
		Status:        status,
		CreatedAt:     createdAt,
		PaidAt:        createdAt,
	}
}

func TestOrderRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t)
	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	base := time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)
	for i, order := range []domain.Order{
		testOrder("ord_a", "u1", base, domain.OrderStatusQueued),
		testOrder("ord_b", "u1", base.Add(time.Minute), domain.OrderStatusCompleted),
		testOrder("ord_c", "u2", base.Add(2*time.Minute), domain.OrderStatusInProgress),
	} {
		if err := repo.Insert(ctx, order); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	err = repo.Insert(ctx, testOrder("ord_a", "u1", base, domain.OrderStatusQueued))
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict for duplicate insert, got %v", err)
	}

	userOrders, err := repo.FindByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("find by user: %v", err)
	}
	if len(userOrders) != 2 || userOrders[0].ID != "ord_b" {
		t.Fatalf("expected newest-first user orders, got %+v", userOrders)
	}

	queue, err := repo.FindQueue(ctx)
	if err != nil {
		t.Fatalf("find queue: %v", err)
	}
	if len(queue) != 2 || queue[0].ID != "ord_a" || queue[1].ID != "ord_c" {
		t.Fatalf("expected oldest-first queue without completed orders, got %+v", queue)
	}

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := repo.UpdateStatus(ctx, repositories.StatusUpdate{
				OrderID: "ord_a", From: domain.OrderStatusQueued, To: domain.OrderStatusInProgress, UpdatedAt: time.Now(),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 {
		t.Fatalf("expected exactly one conditional update to win, got %d", succeeded)
	}

	_, err = repo.UpdateStatus(ctx, repositories.StatusUpdate{OrderID: "ord_missing", From: domain.OrderStatusQueued, To: domain.OrderStatusCompleted, UpdatedAt: time.Now()})
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestShopStatusRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t)
	repo, err := NewShopStatusRepository(provider)
	if err != nil {
		t.Fatalf("new shop repository: %v", err)
	}
	ctx := context.Background()

	status, err := repo.Get(ctx)
	if err != nil || !status.Open {
		t.Fatalf("expected default open shop, got %+v %v", status, err)
	}
	if err := repo.Set(ctx, domain.ShopStatus{Open: false, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("set: %v", err)
	}
	status, err = repo.Get(ctx)
	if err != nil || status.Open {
		t.Fatalf("expected closed shop, got %+v %v", status, err)
	}
}
