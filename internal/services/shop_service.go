package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/quickprint/api/internal/domain"
	"github.com/quickprint/api/internal/repositories"
)

// ShopServiceDeps bundles collaborators for the shop status service.
type ShopServiceDeps struct {
	Shop   repositories.ShopStatusRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type shopService struct {
	shop   repositories.ShopStatusRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewShopService constructs the shop status service.
func NewShopService(deps ShopServiceDeps) (ShopService, error) {
	if deps.Shop == nil {
		return nil, errors.New("shop service: shop repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &shopService{shop: deps.Shop, clock: func() time.Time { return clock().UTC() }, logger: logger}, nil
}

func (s *shopService) Status(ctx context.Context) (domain.ShopStatus, error) {
	status, err := s.shop.Get(ctx)
	if err != nil {
		return domain.ShopStatus{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	return status, nil
}

func (s *shopService) SetOpen(ctx context.Context, open bool) (domain.ShopStatus, error) {
	status := domain.ShopStatus{Open: open, UpdatedAt: s.clock()}
	if err := s.shop.Set(ctx, status); err != nil {
		return domain.ShopStatus{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	s.logger(ctx, "shop.status_changed", map[string]any{"open": open})
	return status, nil
}
