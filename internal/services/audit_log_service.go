package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/sokomart/api/internal/domain"
	"github.com/sokomart/api/internal/repositories"
)

// AuditLogger defines the logging contract used by the audit writer service.
type AuditLogger interface {
	Warnf(format string, args ...any)
}

type auditLogService struct {
	repo   repositories.AuditLogRepository
	clock  func() time.Time
	logger AuditLogger
	idgen  func() string
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	Logger      AuditLogger
	IDGenerator func() string
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, fmt.Errorf("audit log service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopAuditLogger{}
	}
	idgen := deps.IDGenerator
	if idgen == nil {
		idgen = func() string { return ulid.Make().String() }
	}

	return &auditLogService{
		repo:   deps.Repository,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
		idgen:  idgen,
	}, nil
}

// RecordTransition persists one fulfilment state change. Repository failures
// are logged but do not bubble up; the transition itself already committed.
func (s *auditLogService) RecordTransition(ctx context.Context, cmd RecordTransitionCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return errors.New("audit log service: order id is required")
	}

	entry := domain.AuditLogEntry{
		ID:        "aud_" + s.idgen(),
		OrderID:   orderID,
		ActorID:   sanitizeAuditText(cmd.ActorID, 160),
		ActorRole: normalizeActorRole(cmd.ActorRole),
		FromState: cmd.From,
		ToState:   cmd.To,
		Reason:    sanitizeAuditText(cmd.Reason, 512),
		CreatedAt: s.clock(),
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Warnf("audit log append failed: %v", err)
	}
	return nil
}

// ListByOrder delegates to the repository to retrieve the paginated trail.
func (s *auditLogService) ListByOrder(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[AuditLogEntry], error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[AuditLogEntry]{}, errors.New("audit log service: order id is required")
	}
	return s.repo.ListByOrder(ctx, orderID, pager)
}

type noopAuditLogger struct{}

func (noopAuditLogger) Warnf(string, ...any) {}

func normalizeActorRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "buyer", "staff", "admin", "system":
		return strings.ToLower(strings.TrimSpace(role))
	default:
		return "unknown"
	}
}

// sanitizeAuditText drops control characters and truncates to the limit.
func sanitizeAuditText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}

var _ AuditLogService = (*auditLogService)(nil)
