package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/sokomart/api/internal/domain"
	pfirestore "github.com/sokomart/api/internal/platform/firestore"
	"github.com/sokomart/api/internal/repositories"
)

const storeCollection = "stores"

// StoreRepository persists storefront records.
type StoreRepository struct {
	base *pfirestore.BaseRepository[storeDocument]
}

// NewStoreRepository constructs a Firestore-backed store repository.
func NewStoreRepository(provider *pfirestore.Provider) (*StoreRepository, error) {
	if provider == nil {
		return nil, errors.New("store repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[storeDocument](provider, storeCollection)
	return &StoreRepository{base: base}, nil
}

// Insert creates the store document, rejecting duplicate IDs.
func (r *StoreRepository) Insert(ctx context.Context, store domain.Store) error {
	if r == nil || r.base == nil {
		return errors.New("store repository not initialised")
	}
	if strings.TrimSpace(store.ID) == "" {
		return errors.New("store repository: store id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, store.ID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, fromDomainStore(store)); err != nil {
		return pfirestore.WrapError("stores.insert", err)
	}
	return nil
}

// Update overwrites the store document.
func (r *StoreRepository) Update(ctx context.Context, store domain.Store) error {
	if r == nil || r.base == nil {
		return errors.New("store repository not initialised")
	}
	if strings.TrimSpace(store.ID) == "" {
		return errors.New("store repository: store id is required")
	}
	if err := r.base.Set(ctx, store.ID, fromDomainStore(store)); err != nil {
		return err
	}
	return nil
}

// FindByID loads the store by document ID.
func (r *StoreRepository) FindByID(ctx context.Context, storeID string) (domain.Store, error) {
	if r == nil || r.base == nil {
		return domain.Store{}, errors.New("store repository not initialised")
	}
	if strings.TrimSpace(storeID) == "" {
		return domain.Store{}, errors.New("store repository: store id is required")
	}

	doc, err := r.base.Get(ctx, storeID)
	if err != nil {
		return domain.Store{}, err
	}
	store := toDomainStore(doc.Data)
	store.ID = doc.ID
	return store, nil
}

// List returns stores matching the filter ordered by creation time.
func (r *StoreRepository) List(ctx context.Context, filter repositories.StoreListFilter) (domain.CursorPage[domain.Store], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Store]{}, errors.New("store repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var tokenTime time.Time
	var tokenID string
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		var err error
		tokenTime, tokenID, err = decodeOrderToken(token)
		if err != nil {
			return domain.CursorPage[domain.Store]{}, fmt.Errorf("stores.list: invalid page token: %w", err)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if owner := strings.TrimSpace(filter.OwnerID); owner != "" {
			q = q.Where("ownerId", "==", owner)
		}
		if filter.OnlyActive {
			q = q.Where("active", "==", true)
		}
		q = q.OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
		if tokenID != "" {
			q = q.StartAfter(tokenTime, tokenID)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Store]{}, err
	}

	nextToken := ""
	if fetchLimit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeOrderToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Store, 0, len(docs))
	for _, doc := range docs {
		store := toDomainStore(doc.Data)
		store.ID = doc.ID
		items = append(items, store)
	}

	return domain.CursorPage[domain.Store]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type storeDocument struct {
	OwnerID   string    `firestore:"ownerId"`
	Name      string    `firestore:"name"`
	City      string    `firestore:"city"`
	Active    bool      `firestore:"active"`
	ImagePath string    `firestore:"imagePath,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func fromDomainStore(store domain.Store) storeDocument {
	return storeDocument{
		OwnerID:   strings.TrimSpace(store.OwnerID),
		Name:      strings.TrimSpace(store.Name),
		City:      strings.TrimSpace(store.City),
		Active:    store.Active,
		ImagePath: strings.TrimSpace(store.ImagePath),
		CreatedAt: store.CreatedAt.UTC(),
		UpdatedAt: store.UpdatedAt.UTC(),
	}
}

func toDomainStore(doc storeDocument) domain.Store {
	return domain.Store{
		OwnerID:   doc.OwnerID,
		Name:      doc.Name,
		City:      doc.City,
		Active:    doc.Active,
		ImagePath: doc.ImagePath,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.StoreRepository = (*StoreRepository)(nil)
