package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quickprint/api/internal/drafts"
	"github.com/quickprint/api/internal/platform/config"
	"github.com/quickprint/api/internal/platform/storage"
	"github.com/quickprint/api/internal/repositories"
	"github.com/quickprint/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders services.OrderService
	Shop   services.ShopService
	Files  services.FileService
	System services.SystemService
}

// Infrastructure carries the process-level collaborators assembled in main.
type Infrastructure struct {
	Drafts      drafts.Store
	Gateway     services.PaymentGateway
	Store       storage.Store
	Converter   services.DocumentConverter
	Estimator   services.PageEstimator
	Events      services.OrderEventPublisher
	OrderStats  services.OrderMetrics
	FileStats   services.FileMetrics
	Health      repositories.HealthRepository
	Build       services.BuildInfo
	WorkDir     string
	Clock       func() time.Time
	EventLogger func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply the in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}

	shopSvc, err := services.NewShopService(services.ShopServiceDeps{
		Shop:   reg.Shop(),
		Clock:  clock,
		Logger: infra.EventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shop service: %w", err)
	}
	svc.Shop = shopSvc

	if infra.Drafts != nil && infra.Gateway != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:       reg.Orders(),
			Drafts:       infra.Drafts,
			Gateway:      infra.Gateway,
			Shop:         reg.Shop(),
			Events:       infra.Events,
			Metrics:      infra.OrderStats,
			Currency:     cfg.Orders.Currency,
			PricePerPage: cfg.Orders.PricePerPage,
			Clock:        clock,
			Logger:       infra.EventLogger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if infra.Store != nil && infra.Converter != nil {
		fileSvc, err := services.NewFileService(services.FileServiceDeps{
			Store:     infra.Store,
			Converter: infra.Converter,
			Estimator: infra.Estimator,
			WorkDir:   infra.WorkDir,
			Metrics:   infra.FileStats,
			Logger:    infra.EventLogger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build file service: %w", err)
		}
		svc.Files = fileSvc
	}

	if infra.Health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: infra.Health,
			Clock:            clock,
			Build:            infra.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
