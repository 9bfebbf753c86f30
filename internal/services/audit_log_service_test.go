package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/sokomart/api/internal/domain"
)

type captureAuditLogger struct {
	warnings []string
}

func (c *captureAuditLogger) Warnf(format string, args ...any) {
	c.warnings = append(c.warnings, strings.TrimSpace(format))
}

func newAuditLogServiceForTest(t *testing.T, repo *stubAuditRepo, logger AuditLogger, now time.Time) AuditLogService {
	t.Helper()
	svc, err := NewAuditLogService(AuditLogServiceDeps{
		Repository:  repo,
		Clock:       func() time.Time { return now },
		Logger:      logger,
		IDGenerator: func() string { return "fixed" },
	})
	if err != nil {
		t.Fatalf("NewAuditLogService returned error: %v", err)
	}
	return svc
}

func TestAuditLogServiceRecordTransition(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	var appended domain.AuditLogEntry
	repo := &stubAuditRepo{
		appendFn: func(_ context.Context, entry domain.AuditLogEntry) error {
			appended = entry
			return nil
		},
	}
	svc := newAuditLogServiceForTest(t, repo, nil, now)

	err := svc.RecordTransition(ctx, RecordTransitionCommand{
		OrderID:   "ord_1",
		ActorID:   "usr_staff",
		ActorRole: "Staff",
		From:      domain.OrderStatusPending,
		To:        domain.OrderStatusPaid,
		Reason:    "payment confirmed",
	})
	if err != nil {
		t.Fatalf("RecordTransition returned error: %v", err)
	}

	if appended.ID != "aud_fixed" {
		t.Fatalf("expected id aud_fixed, got %q", appended.ID)
	}
	if appended.ActorRole != "staff" {
		t.Fatalf("expected normalised role staff, got %q", appended.ActorRole)
	}
	if appended.FromState != domain.OrderStatusPending || appended.ToState != domain.OrderStatusPaid {
		t.Fatalf("unexpected states: %+v", appended)
	}
	if !appended.CreatedAt.Equal(now) {
		t.Fatalf("expected CreatedAt %v, got %v", now, appended.CreatedAt)
	}
}

func TestAuditLogServiceRecordTransitionNormalisesUnknownRole(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	var appended domain.AuditLogEntry
	repo := &stubAuditRepo{
		appendFn: func(_ context.Context, entry domain.AuditLogEntry) error {
			appended = entry
			return nil
		},
	}
	svc := newAuditLogServiceForTest(t, repo, nil, now)

	if err := svc.RecordTransition(ctx, RecordTransitionCommand{
		OrderID:   "ord_1",
		ActorRole: "superuser",
		From:      domain.OrderStatusPaid,
		To:        domain.OrderStatusProcessing,
	}); err != nil {
		t.Fatalf("RecordTransition returned error: %v", err)
	}
	if appended.ActorRole != "unknown" {
		t.Fatalf("expected role unknown, got %q", appended.ActorRole)
	}
}

func TestAuditLogServiceAppendFailureIsLoggedNotReturned(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	repo := &stubAuditRepo{
		appendFn: func(context.Context, domain.AuditLogEntry) error {
			return errors.New("firestore unavailable")
		},
	}
	logger := &captureAuditLogger{}
	svc := newAuditLogServiceForTest(t, repo, logger, now)

	if err := svc.RecordTransition(ctx, RecordTransitionCommand{
		OrderID: "ord_1",
		From:    domain.OrderStatusPending,
		To:      domain.OrderStatusCancelled,
	}); err != nil {
		t.Fatalf("RecordTransition returned error: %v", err)
	}
	if len(logger.warnings) != 1 {
		t.Fatalf("expected one warning, got %v", logger.warnings)
	}
}

func TestAuditLogServiceListByOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	repo := &stubAuditRepo{
		listFn: func(_ context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.AuditLogEntry], error) {
			if orderID != "ord_1" {
				t.Fatalf("expected ord_1, got %q", orderID)
			}
			return domain.CursorPage[domain.AuditLogEntry]{Items: []domain.AuditLogEntry{{ID: "aud_1"}}}, nil
		},
	}
	svc := newAuditLogServiceForTest(t, repo, nil, now)

	page, err := svc.ListByOrder(ctx, "ord_1", Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("ListByOrder returned error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(page.Items))
	}
}

func TestAuditLogServiceRequiresOrderID(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)
	svc := newAuditLogServiceForTest(t, &stubAuditRepo{}, nil, now)

	if err := svc.RecordTransition(ctx, RecordTransitionCommand{}); err == nil {
		t.Fatal("expected error for missing order id")
	}
	if _, err := svc.ListByOrder(ctx, "  ", Pagination{}); err == nil {
		t.Fatal("expected error for missing order id")
	}
}
