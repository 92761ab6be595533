package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/quickprint/api/internal/domain"
	"github.com/quickprint/api/internal/repositories"
)

func order(id, user string, created time.Time, status domain.OrderStatus, payment domain.PaymentStatus) domain.Order {
	return domain.Order{
		ID:            id,
		Details:       domain.OrderDetails{UserID: user},
		PaymentStatus: payment,
		Status:        status,
		CreatedAt:     created,
	}
}

func TestOrderRepositoryQueries(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	base := time.Date(2025, time.April, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, order("ord_1", "u1", base, domain.OrderStatusQueued, domain.PaymentStatusCompleted)))
	require.NoError(t, repo.Insert(ctx, order("ord_2", "u1", base.Add(time.Hour), domain.OrderStatusCompleted, domain.PaymentStatusCompleted)))
	require.NoError(t, repo.Insert(ctx, order("ord_3", "u2", base.Add(-time.Hour), domain.OrderStatusInProgress, domain.PaymentStatusCompleted)))
	require.NoError(t, repo.Insert(ctx, order("ord_4", "u1", base.Add(2*time.Hour), domain.OrderStatusQueued, "pending")))

	byUser, err := repo.FindByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.Equal(t, "ord_2", byUser[0].ID)
	assert.Equal(t, "ord_1", byUser[1].ID)

	queue, err := repo.FindQueue(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(queue))
	for _, o := range queue {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"ord_3", "ord_1", "ord_4"}, ids)

	empty, err := repo.FindByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestOrderRepositoryInsertConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	require.NoError(t, repo.Insert(ctx, order("ord_1", "u1", time.Now(), domain.OrderStatusQueued, domain.PaymentStatusCompleted)))

	err := repo.Insert(ctx, order("ord_1", "u1", time.Now(), domain.OrderStatusQueued, domain.PaymentStatusCompleted))
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.IsConflict())
}

func TestOrderRepositoryUpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	require.NoError(t, repo.Insert(ctx, order("ord_1", "u1", time.Now(), domain.OrderStatusQueued, domain.PaymentStatusCompleted)))
	at := time.Date(2025, time.April, 2, 0, 0, 0, 0, time.UTC)

	updated, err := repo.UpdateStatus(ctx, repositories.StatusUpdate{OrderID: "ord_1", From: domain.OrderStatusQueued, To: domain.OrderStatusInProgress, UpdatedAt: at})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusInProgress, updated.Status)
	require.NotNil(t, updated.UpdatedAt)
	assert.True(t, updated.UpdatedAt.Equal(at))

	_, err = repo.UpdateStatus(ctx, repositories.StatusUpdate{OrderID: "ord_1", From: domain.OrderStatusQueued, To: domain.OrderStatusCompleted, UpdatedAt: at})
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.IsConflict())

	_, err = repo.UpdateStatus(ctx, repositories.StatusUpdate{OrderID: "missing", From: domain.OrderStatusQueued, To: domain.OrderStatusCompleted})
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.IsNotFound())
}

func TestShopStatusDefaultsOpen(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()
	status, err := registry.Shop().Get(ctx)
	require.NoError(t, err)
	assert.True(t, status.Open)

	require.NoError(t, registry.Shop().Set(ctx, domain.ShopStatus{Open: false}))
	status, _ = registry.Shop().Get(ctx)
	assert.False(t, status.Open)
}
