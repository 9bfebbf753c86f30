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
	// ErrLogisticsInvalidInput indicates a malformed logistics command.
	ErrLogisticsInvalidInput = errors.New("logistics: invalid input")
	// ErrLogisticsNotFound indicates the option does not exist.
	ErrLogisticsNotFound = errors.New("logistics: option not found")
	// ErrLogisticsConflict indicates a concurrent modification or duplicate ID.
	ErrLogisticsConflict = errors.New("logistics: conflict")
	// ErrLogisticsUnavailable indicates the persistence layer failed.
	ErrLogisticsUnavailable = errors.New("logistics: service unavailable")
)

const logisticsOptionIDPrefix = "log_"

type logisticsService struct {
	options  repositories.LogisticsOptionRepository
	stores   repositories.StoreRepository
	clock    func() time.Time
	idgen    func() string
	sanitize func(string) string
}

// LogisticsServiceDeps enumerates dependencies for NewLogisticsService.
type LogisticsServiceDeps struct {
	Options     repositories.LogisticsOptionRepository
	Stores      repositories.StoreRepository
	Clock       func() time.Time
	IDGenerator func() string
}

// NewLogisticsService wires a LogisticsService implementation.
func NewLogisticsService(deps LogisticsServiceDeps) (LogisticsService, error) {
	if deps.Options == nil {
		return nil, errors.New("logistics service requires option repository")
	}
	if deps.Stores == nil {
		return nil, errors.New("logistics service requires store repository")
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
	return &logisticsService{
		options:  deps.Options,
		stores:   deps.Stores,
		clock:    func() time.Time { return clock().UTC() },
		idgen:    idgen,
		sanitize: func(s string) string { return strings.TrimSpace(policy.Sanitize(s)) },
	}, nil
}

func (s *logisticsService) CreateOption(ctx context.Context, cmd UpsertLogisticsOptionCommand) (LogisticsOption, error) {
	storeID := strings.TrimSpace(cmd.StoreID)
	if storeID == "" {
		return LogisticsOption{}, fmt.Errorf("%w: store id is required", ErrLogisticsInvalidInput)
	}
	if err := validateOptionFields(cmd); err != nil {
		return LogisticsOption{}, err
	}

	// The option must hang off an existing store.
	if _, err := s.stores.FindByID(ctx, storeID); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return LogisticsOption{}, fmt.Errorf("%w: store %s does not exist", ErrLogisticsInvalidInput, storeID)
		}
		return LogisticsOption{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	option := domain.LogisticsOption{
		ID:            logisticsOptionIDPrefix + s.idgen(),
		StoreID:       storeID,
		Type:          cmd.Type,
		LocationName:  s.sanitize(cmd.LocationName),
		City:          s.sanitize(cmd.City),
		FeeAmount:     cmd.FeeAmount,
		TimelineLabel: s.sanitize(cmd.TimelineLabel),
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if cmd.Active != nil {
		option.Active = *cmd.Active
	}

	if err := s.options.Insert(ctx, option); err != nil {
		return LogisticsOption{}, s.mapRepositoryError(err)
	}
	return option, nil
}

func (s *logisticsService) UpdateOption(ctx context.Context, cmd UpsertLogisticsOptionCommand) (LogisticsOption, error) {
	optionID := strings.TrimSpace(cmd.OptionID)
	if optionID == "" {
		return LogisticsOption{}, fmt.Errorf("%w: option id is required", ErrLogisticsInvalidInput)
	}
	if err := validateOptionFields(cmd); err != nil {
		return LogisticsOption{}, err
	}

	option, err := s.options.FindByID(ctx, optionID)
	if err != nil {
		return LogisticsOption{}, s.mapRepositoryError(err)
	}

	option.Type = cmd.Type
	option.LocationName = s.sanitize(cmd.LocationName)
	option.City = s.sanitize(cmd.City)
	option.FeeAmount = cmd.FeeAmount
	option.TimelineLabel = s.sanitize(cmd.TimelineLabel)
	if cmd.Active != nil {
		option.Active = *cmd.Active
	}
	option.UpdatedAt = s.clock()

	if err := s.options.Update(ctx, option); err != nil {
		return LogisticsOption{}, s.mapRepositoryError(err)
	}
	return option, nil
}

// DeactivateOption retires the option from checkout. Existing orders keep their
// fee snapshots, so retirement never rewrites history.
func (s *logisticsService) DeactivateOption(ctx context.Context, cmd DeactivateLogisticsOptionCommand) (LogisticsOption, error) {
	optionID := strings.TrimSpace(cmd.OptionID)
	if optionID == "" {
		return LogisticsOption{}, fmt.Errorf("%w: option id is required", ErrLogisticsInvalidInput)
	}

	option, err := s.options.FindByID(ctx, optionID)
	if err != nil {
		return LogisticsOption{}, s.mapRepositoryError(err)
	}
	if !option.Active {
		return option, nil
	}

	option.Active = false
	option.UpdatedAt = s.clock()
	if err := s.options.Update(ctx, option); err != nil {
		return LogisticsOption{}, s.mapRepositoryError(err)
	}
	return option, nil
}

func (s *logisticsService) GetOption(ctx context.Context, optionID string) (LogisticsOption, error) {
	optionID = strings.TrimSpace(optionID)
	if optionID == "" {
		return LogisticsOption{}, fmt.Errorf("%w: option id is required", ErrLogisticsInvalidInput)
	}
	option, err := s.options.FindByID(ctx, optionID)
	if err != nil {
		return LogisticsOption{}, s.mapRepositoryError(err)
	}
	return option, nil
}

func (s *logisticsService) ListStoreOptions(ctx context.Context, query LogisticsOptionQuery) (domain.CursorPage[LogisticsOption], error) {
	storeID := strings.TrimSpace(query.StoreID)
	if storeID == "" {
		return domain.CursorPage[LogisticsOption]{}, fmt.Errorf("%w: store id is required", ErrLogisticsInvalidInput)
	}
	page, err := s.options.ListByStore(ctx, storeID, repositories.LogisticsOptionListFilter{
		OnlyActive: query.OnlyActive,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[LogisticsOption]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func validateOptionFields(cmd UpsertLogisticsOptionCommand) error {
	switch cmd.Type {
	case domain.LogisticsTypePickup, domain.LogisticsTypeDelivery:
	default:
		return fmt.Errorf("%w: unknown logistics type %q", ErrLogisticsInvalidInput, cmd.Type)
	}
	if strings.TrimSpace(cmd.LocationName) == "" {
		return fmt.Errorf("%w: location name is required", ErrLogisticsInvalidInput)
	}
	if cmd.FeeAmount < 0 {
		return fmt.Errorf("%w: fee must not be negative", ErrLogisticsInvalidInput)
	}
	return nil
}

func (s *logisticsService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrLogisticsNotFound
		case repoErr.IsConflict():
			return ErrLogisticsConflict
		}
	}
	return fmt.Errorf("%w: %v", ErrLogisticsUnavailable, err)
}

var _ LogisticsService = (*logisticsService)(nil)
