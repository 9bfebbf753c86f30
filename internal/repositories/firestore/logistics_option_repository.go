package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/sokomart/api/internal/domain"
	pfirestore "github.com/sokomart/api/internal/platform/firestore"
	"github.com/sokomart/api/internal/repositories"
)

const logisticsOptionCollection = "logisticsOptions"

// Firestore caps "in" queries at this many disjuncts per clause.
const firestoreInClauseLimit = 30

// LogisticsOptionRepository persists the fulfilment options stores offer.
type LogisticsOptionRepository struct {
	base     *pfirestore.BaseRepository[logisticsOptionDocument]
	provider *pfirestore.Provider
}

// NewLogisticsOptionRepository constructs a Firestore-backed logistics option repository.
func NewLogisticsOptionRepository(provider *pfirestore.Provider) (*LogisticsOptionRepository, error) {
	if provider == nil {
		return nil, errors.New("logistics option repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[logisticsOptionDocument](provider, logisticsOptionCollection)
	return &LogisticsOptionRepository{base: base, provider: provider}, nil
}

// Insert creates the option document, rejecting duplicate IDs.
func (r *LogisticsOptionRepository) Insert(ctx context.Context, option domain.LogisticsOption) error {
	if r == nil || r.base == nil {
		return errors.New("logistics option repository not initialised")
	}
	if strings.TrimSpace(option.ID) == "" {
		return errors.New("logistics option repository: option id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, option.ID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, fromDomainLogisticsOption(option)); err != nil {
		return pfirestore.WrapError("logisticsOptions.insert", err)
	}
	return nil
}

// Update overwrites the option document.
func (r *LogisticsOptionRepository) Update(ctx context.Context, option domain.LogisticsOption) error {
	if r == nil || r.base == nil {
		return errors.New("logistics option repository not initialised")
	}
	if strings.TrimSpace(option.ID) == "" {
		return errors.New("logistics option repository: option id is required")
	}
	if err := r.base.Set(ctx, option.ID, fromDomainLogisticsOption(option)); err != nil {
		return err
	}
	return nil
}

// FindByID loads a single option.
func (r *LogisticsOptionRepository) FindByID(ctx context.Context, optionID string) (domain.LogisticsOption, error) {
	if r == nil || r.base == nil {
		return domain.LogisticsOption{}, errors.New("logistics option repository not initialised")
	}
	if strings.TrimSpace(optionID) == "" {
		return domain.LogisticsOption{}, errors.New("logistics option repository: option id is required")
	}

	doc, err := r.base.Get(ctx, optionID)
	if err != nil {
		return domain.LogisticsOption{}, err
	}
	option := toDomainLogisticsOption(doc.Data)
	option.ID = doc.ID
	return option, nil
}

// FindByIDs resolves several options in one round trip per 30-ID chunk. Missing
// IDs are absent from the result rather than errors; the checkout validator
// treats absence the same as inactive.
func (r *LogisticsOptionRepository) FindByIDs(ctx context.Context, optionIDs []string) (map[string]domain.LogisticsOption, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("logistics option repository not initialised")
	}

	uniq := make(map[string]struct{}, len(optionIDs))
	ids := make([]string, 0, len(optionIDs))
	for _, id := range optionIDs {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, seen := uniq[trimmed]; seen {
			continue
		}
		uniq[trimmed] = struct{}{}
		ids = append(ids, trimmed)
	}
	if len(ids) == 0 {
		return map[string]domain.LogisticsOption{}, nil
	}
	sort.Strings(ids)

	result := make(map[string]domain.LogisticsOption, len(ids))
	for start := 0; start < len(ids); start += firestoreInClauseLimit {
		end := start + firestoreInClauseLimit
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where(firestore.DocumentID, "in", chunk)
		})
		if err != nil {
			return nil, fmt.Errorf("logisticsOptions.findByIds: %w", err)
		}
		for _, doc := range docs {
			option := toDomainLogisticsOption(doc.Data)
			option.ID = doc.ID
			result[doc.ID] = option
		}
	}
	return result, nil
}

// ListByStore returns a store's options ordered by creation time.
func (r *LogisticsOptionRepository) ListByStore(ctx context.Context, storeID string, filter repositories.LogisticsOptionListFilter) (domain.CursorPage[domain.LogisticsOption], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.LogisticsOption]{}, errors.New("logistics option repository not initialised")
	}
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return domain.CursorPage[domain.LogisticsOption]{}, errors.New("logistics option repository: store id is required")
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
			return domain.CursorPage[domain.LogisticsOption]{}, fmt.Errorf("logisticsOptions.list: invalid page token: %w", err)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("storeId", "==", storeID)
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
		return domain.CursorPage[domain.LogisticsOption]{}, err
	}

	nextToken := ""
	if fetchLimit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeOrderToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.LogisticsOption, 0, len(docs))
	for _, doc := range docs {
		option := toDomainLogisticsOption(doc.Data)
		option.ID = doc.ID
		items = append(items, option)
	}

	return domain.CursorPage[domain.LogisticsOption]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type logisticsOptionDocument struct {
	StoreID       string    `firestore:"storeId"`
	Type          string    `firestore:"type"`
	LocationName  string    `firestore:"locationName"`
	City          string    `firestore:"city"`
	FeeAmount     int64     `firestore:"feeAmount"`
	TimelineLabel string    `firestore:"timelineLabel"`
	Active        bool      `firestore:"active"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func fromDomainLogisticsOption(option domain.LogisticsOption) logisticsOptionDocument {
	return logisticsOptionDocument{
		StoreID:       strings.TrimSpace(option.StoreID),
		Type:          string(option.Type),
		LocationName:  strings.TrimSpace(option.LocationName),
		City:          strings.TrimSpace(option.City),
		FeeAmount:     option.FeeAmount,
		TimelineLabel: strings.TrimSpace(option.TimelineLabel),
		Active:        option.Active,
		CreatedAt:     option.CreatedAt.UTC(),
		UpdatedAt:     option.UpdatedAt.UTC(),
	}
}

func toDomainLogisticsOption(doc logisticsOptionDocument) domain.LogisticsOption {
	return domain.LogisticsOption{
		StoreID:       doc.StoreID,
		Type:          domain.LogisticsType(doc.Type),
		LocationName:  doc.LocationName,
		City:          doc.City,
		FeeAmount:     doc.FeeAmount,
		TimelineLabel: doc.TimelineLabel,
		Active:        doc.Active,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.LogisticsOptionRepository = (*LogisticsOptionRepository)(nil)
