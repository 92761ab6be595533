package repositories

import (
	"context"
	"time"

	domain "github.com/quickprint/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Shop() ShopStatusRepository
	// Ping probes the backing store for readiness.
	Ping(ctx context.Context) error
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// StatusUpdate moves an order from one production status to another. Implementations apply it only when
// the stored status still equals From and report a conflict otherwise.
type StatusUpdate struct {
	OrderID   string
	From      domain.OrderStatus
	To        domain.OrderStatus
	UpdatedAt time.Time
}

// OrderRepository persists confirmed print orders.
type OrderRepository interface {
	// Insert creates the order and fails with a conflict when the id already exists.
	Insert(ctx context.Context, order domain.Order) error
	// FindByUser lists the user's orders whose payment completed, newest first.
	FindByUser(ctx context.Context, userID string) ([]domain.Order, error)
	// FindQueue lists orders that are not completed, oldest first.
	FindQueue(ctx context.Context) ([]domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	UpdateStatus(ctx context.Context, update StatusUpdate) (domain.Order, error)
}

// ShopStatusRepository stores the shop open/closed flag.
type ShopStatusRepository interface {
	Get(ctx context.Context) (domain.ShopStatus, error)
	Set(ctx context.Context, status domain.ShopStatus) error
}

// HealthRepository collects dependency readiness.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.ReadinessReport, error)
}
