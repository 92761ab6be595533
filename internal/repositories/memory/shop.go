package memory

import (
	"context"
	"sync"

	domain "github.com/quickprint/api/internal/domain"
	"github.com/quickprint/api/internal/repositories"
)

// ShopStatusRepository holds the shop flag in memory. It starts open.
type ShopStatusRepository struct {
	mu     sync.RWMutex
	status domain.ShopStatus
}

var _ repositories.ShopStatusRepository = (*ShopStatusRepository)(nil)

func NewShopStatusRepository() *ShopStatusRepository {
	return &ShopStatusRepository{status: domain.ShopStatus{Open: true}}
}

func (r *ShopStatusRepository) Get(context.Context) (domain.ShopStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status, nil
}

func (r *ShopStatusRepository) Set(_ context.Context, status domain.ShopStatus) error {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
	return nil
}

// Registry bundles the in-memory repositories.
type Registry struct {
	orders *OrderRepository
	shop   *ShopStatusRepository
}

var _ repositories.Registry = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{orders: NewOrderRepository(), shop: NewShopStatusRepository()}
}

func (r *Registry) Orders() repositories.OrderRepository    { return r.orders }
func (r *Registry) Shop() repositories.ShopStatusRepository { return r.shop }
func (r *Registry) Ping(context.Context) error              { return nil }
func (r *Registry) Close(context.Context) error             { return nil }
