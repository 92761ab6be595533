// Package memory provides process-local repositories for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	domain "github.com/quickprint/api/internal/domain"
	"github.com/quickprint/api/internal/repositories"
)

// OrderRepository keeps orders in a map guarded by a RWMutex.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]domain.Order)}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[id]; exists {
		return repositories.NewConflictError("orders.insert", fmt.Errorf("order %s already exists", id))
	}
	r.orders[id] = cloneOrder(order)
	return nil
}

func (r *OrderRepository) FindByUser(_ context.Context, userID string) ([]domain.Order, error) {
	userID = strings.TrimSpace(userID)
	result := r.filter(func(o domain.Order) bool {
		return o.Details.UserID == userID && o.PaymentStatus == domain.PaymentStatusCompleted
	})
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r *OrderRepository) FindQueue(context.Context) ([]domain.Order, error) {
	result := r.filter(func(o domain.Order) bool { return o.Status != domain.OrderStatusCompleted })
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.get", orderID)
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) UpdateStatus(_ context.Context, update repositories.StatusUpdate) (domain.Order, error) {
	id := strings.TrimSpace(update.OrderID)
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.updateStatus", id)
	}
	if order.Status != update.From {
		return domain.Order{}, repositories.NewConflictError("orders.updateStatus",
			fmt.Errorf("order %s status is %q, expected %q", id, order.Status, update.From))
	}
	updatedAt := update.UpdatedAt.UTC()
	order.Status = update.To
	order.UpdatedAt = &updatedAt
	r.orders[id] = order
	return cloneOrder(order), nil
}

func (r *OrderRepository) filter(keep func(domain.Order) bool) []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if keep(order) {
			result = append(result, cloneOrder(order))
		}
	}
	return result
}

func cloneOrder(order domain.Order) domain.Order {
	if order.UpdatedAt != nil {
		t := *order.UpdatedAt
		order.UpdatedAt = &t
	}
	return order
}
