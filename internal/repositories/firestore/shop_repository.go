package firestore

import (
	"context"
	"errors"

	domain "github.com/quickprint/api/internal/domain"
	pfirestore "github.com/quickprint/api/internal/platform/firestore"
	"github.com/quickprint/api/internal/repositories"
)

const (
	settingsCollection = "settings"
	shopDocumentID     = "shop"
)

// ShopStatusRepository stores the shop flag in settings/shop.
type ShopStatusRepository struct {
	settings *pfirestore.BaseRepository[shopDocument]
}

var _ repositories.ShopStatusRepository = (*ShopStatusRepository)(nil)

// NewShopStatusRepository constructs the repository.
func NewShopStatusRepository(provider *pfirestore.Provider) (*ShopStatusRepository, error) {
	if provider == nil {
		return nil, errors.New("shop status repository requires firestore provider")
	}
	return &ShopStatusRepository{
		settings: pfirestore.NewBaseRepository[shopDocument](provider, settingsCollection),
	}, nil
}

// Get returns the stored flag. A shop that was never configured is open.
func (r *ShopStatusRepository) Get(ctx context.Context) (domain.ShopStatus, error) {
	doc, err := r.settings.Get(ctx, shopDocumentID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.ShopStatus{Open: true}, nil
		}
		return domain.ShopStatus{}, err
	}
	return domain.ShopStatus{Open: doc.Data.Open, UpdatedAt: doc.Data.UpdatedAt.UTC()}, nil
}

func (r *ShopStatusRepository) Set(ctx context.Context, status domain.ShopStatus) error {
	_, err := r.settings.Set(ctx, shopDocumentID, shopDocument{Open: status.Open, UpdatedAt: status.UpdatedAt.UTC()})
	return err
}
