package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/quickprint/api/internal/domain"
	pfirestore "github.com/quickprint/api/internal/platform/firestore"
	"github.com/quickprint/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository implements repositories.OrderRepository backed by the orders collection.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
	}, nil
}

// Insert creates the order document. An existing id surfaces as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.orders.Create(ctx, id, encodeOrder(order))
	return err
}

func (r *OrderRepository) FindByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", strings.TrimSpace(userID)).
			Where("paymentStatus", "==", string(domain.PaymentStatusCompleted)).
			OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	return decodeOrders(docs), nil
}

// FindQueue lists unfinished orders. The status set is closed, so an "in" filter stands in for !=
// and keeps createdAt as the only ordering field.
func (r *OrderRepository) FindQueue(ctx context.Context) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "in", []string{string(domain.OrderStatusQueued), string(domain.OrderStatusInProgress)}).
			OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	return decodeOrders(docs), nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// UpdateStatus applies the transition inside a transaction, comparing against the stored status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, update repositories.StatusUpdate) (domain.Order, error) {
	id := strings.TrimSpace(update.OrderID)
	var updated domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("orders.updateStatus", err)
		}
		doc, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}
		current := decodeOrder(doc.ID, doc.Data)
		if current.Status != update.From {
			return pfirestore.NewConflictError("orders.updateStatus",
				fmt.Errorf("order %s status is %q, expected %q", id, current.Status, update.From))
		}

		updatedAt := update.UpdatedAt.UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(update.To)},
			{Path: "updatedAt", Value: updatedAt},
		}); err != nil {
			return err
		}
		current.Status = update.To
		current.UpdatedAt = &updatedAt
		updated = current
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

func decodeOrders(docs []pfirestore.Document[orderDocument]) []domain.Order {
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrder(doc.ID, doc.Data))
	}
	return orders
}
