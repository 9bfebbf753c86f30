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

const auditLogCollection = "auditLogs"

// AuditLogRepository appends immutable fulfilment audit entries.
type AuditLogRepository struct {
	base *pfirestore.BaseRepository[auditLogDocument]
}

// NewAuditLogRepository constructs a Firestore-backed audit log repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[auditLogDocument](provider, auditLogCollection)
	return &AuditLogRepository{base: base}, nil
}

// Append writes the entry. Entries are never updated afterwards.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if r == nil || r.base == nil {
		return errors.New("audit log repository not initialised")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("audit log repository: entry id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, entry.ID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, fromDomainAuditEntry(entry)); err != nil {
		return pfirestore.WrapError("auditLogs.append", err)
	}
	return nil
}

// ListByOrder returns the audit trail for an order, oldest first.
func (r *AuditLogRepository) ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.AuditLogEntry], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("audit log repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("audit log repository: order id is required")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var tokenTime time.Time
	var tokenID string
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		var err error
		tokenTime, tokenID, err = decodeOrderToken(token)
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, fmt.Errorf("auditLogs.list: invalid page token: %w", err)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("orderId", "==", orderID).
			OrderBy("createdAt", firestore.Asc).
			OrderBy(firestore.DocumentID, firestore.Asc)
		if tokenID != "" {
			q = q.StartAfter(tokenTime, tokenID)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}

	nextToken := ""
	if fetchLimit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeOrderToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.AuditLogEntry, 0, len(docs))
	for _, doc := range docs {
		entry := toDomainAuditEntry(doc.Data)
		entry.ID = doc.ID
		items = append(items, entry)
	}

	return domain.CursorPage[domain.AuditLogEntry]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type auditLogDocument struct {
	OrderID   string    `firestore:"orderId"`
	ActorID   string    `firestore:"actorId"`
	ActorRole string    `firestore:"actorRole"`
	FromState string    `firestore:"fromState"`
	ToState   string    `firestore:"toState"`
	Reason    string    `firestore:"reason,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func fromDomainAuditEntry(entry domain.AuditLogEntry) auditLogDocument {
	return auditLogDocument{
		OrderID:   strings.TrimSpace(entry.OrderID),
		ActorID:   strings.TrimSpace(entry.ActorID),
		ActorRole: strings.TrimSpace(entry.ActorRole),
		FromState: string(entry.FromState),
		ToState:   string(entry.ToState),
		Reason:    strings.TrimSpace(entry.Reason),
		CreatedAt: entry.CreatedAt.UTC(),
	}
}

func toDomainAuditEntry(doc auditLogDocument) domain.AuditLogEntry {
	return domain.AuditLogEntry{
		OrderID:   doc.OrderID,
		ActorID:   doc.ActorID,
		ActorRole: doc.ActorRole,
		FromState: domain.OrderStatus(doc.FromState),
		ToState:   domain.OrderStatus(doc.ToState),
		Reason:    doc.Reason,
		CreatedAt: doc.CreatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)
