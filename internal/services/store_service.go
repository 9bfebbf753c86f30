package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/sokomart/api/internal/domain"
	"github.com/sokomart/api/internal/repositories"
)

var (
	// ErrStoreInvalidInput indicates a malformed store command.
	ErrStoreInvalidInput = errors.New("store: invalid input")
	// ErrStoreNotFound indicates the store does not exist.
	ErrStoreNotFound = errors.New("store: not found")
	// ErrStoreConflict indicates a concurrent modification or duplicate ID.
	ErrStoreConflict = errors.New("store: conflict")
	// ErrStoreUnavailable indicates the persistence layer failed.
	ErrStoreUnavailable = errors.New("store: service unavailable")
)

const storeIDPrefix = "sto_"

type storeService struct {
	stores   repositories.StoreRepository
	clock    func() time.Time
	idgen    func() string
	sanitize func(string) string
}

// StoreServiceDeps enumerates dependencies for NewStoreService.
type StoreServiceDeps struct {
	Stores      repositories.StoreRepository
	Clock       func() time.Time
	IDGenerator func() string
}

// NewStoreService wires a StoreService implementation.
func NewStoreService(deps StoreServiceDeps) (StoreService, error) {
	if deps.Stores == nil {
		return nil, errors.New("store service requires store repository")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idgen := deps.IDGenerator
	if idgen == nil {
		idgen = func() string { return ulid.Make().String() }
	}

	policy := bluemonday.StrictPolicy()
	return &storeService{
		stores:   deps.Stores,
		clock:    func() time.Time { return clock().UTC() },
		idgen:    idgen,
		sanitize: func(s string) string { return strings.TrimSpace(policy.Sanitize(s)) },
	}, nil
}

func (s *storeService) CreateStore(ctx context.Context, cmd CreateStoreCommand) (Store, error) {
	ownerID := strings.TrimSpace(cmd.OwnerID)
	if ownerID == "" {
		return Store{}, fmt.Errorf("%w: owner id is required", ErrStoreInvalidInput)
	}
	name := s.sanitize(cmd.Name)
	if name == "" {
		return Store{}, fmt.Errorf("%w: name is required", ErrStoreInvalidInput)
	}

	now := s.clock()
	store := domain.Store{
		ID:        storeIDPrefix + s.idgen(),
		OwnerID:   ownerID,
		Name:      name,
		City:      s.sanitize(cmd.City),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.stores.Insert(ctx, store); err != nil {
		return Store{}, s.mapRepositoryError(err)
	}
	return store, nil
}

func (s *storeService) UpdateStore(ctx context.Context, cmd UpdateStoreCommand) (Store, error) {
	storeID := strings.TrimSpace(cmd.StoreID)
	if storeID == "" {
		return Store{}, fmt.Errorf("%w: store id is required", ErrStoreInvalidInput)
	}

	store, err := s.stores.FindByID(ctx, storeID)
	if err != nil {
		return Store{}, s.mapRepositoryError(err)
	}

	if cmd.Name != nil {
		name := s.sanitize(*cmd.Name)
		if name == "" {
			return Store{}, fmt.Errorf("%w: name must not be empty", ErrStoreInvalidInput)
		}
		store.Name = name
	}
	if cmd.City != nil {
		store.City = s.sanitize(*cmd.City)
	}
	if cmd.Active != nil {
		store.Active = *cmd.Active
	}
	if cmd.ImagePath != nil {
		store.ImagePath = strings.TrimSpace(*cmd.ImagePath)
	}
	store.UpdatedAt = s.clock()

	if err := s.stores.Update(ctx, store); err != nil {
		return Store{}, s.mapRepositoryError(err)
	}
	return store, nil
}

func (s *storeService) GetStore(ctx context.Context, storeID string) (Store, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return Store{}, fmt.Errorf("%w: store id is required", ErrStoreInvalidInput)
	}
	store, err := s.stores.FindByID(ctx, storeID)
	if err != nil {
		return Store{}, s.mapRepositoryError(err)
	}
	return store, nil
}

func (s *storeService) ListStores(ctx context.Context, query StoreQuery) (domain.CursorPage[Store], error) {
	page, err := s.stores.List(ctx, repositories.StoreListFilter{
		OwnerID:    strings.TrimSpace(query.OwnerID),
		OnlyActive: query.OnlyActive,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Store]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *storeService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrStoreNotFound
		case repoErr.IsConflict():
			return ErrStoreConflict
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

var _ StoreService = (*storeService)(nil)
