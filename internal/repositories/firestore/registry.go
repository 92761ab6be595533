package firestore

import (
	"context"

	pfirestore "github.com/quickprint/api/internal/platform/firestore"
	"github.com/quickprint/api/internal/repositories"
)

// Registry wires the Firestore repositories over a shared provider.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	shop     *ShopStatusRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every Firestore repository.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	shop, err := NewShopStatusRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, orders: orders, shop: shop}, nil
}

func (r *Registry) Orders() repositories.OrderRepository    { return r.orders }
func (r *Registry) Shop() repositories.ShopStatusRepository { return r.shop }
func (r *Registry) Ping(ctx context.Context) error          { return r.provider.Ping(ctx) }
func (r *Registry) Close(ctx context.Context) error         { return r.provider.Close(ctx) }
