package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/sokomart/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

func TestSystemServiceHealthFillsDefaults(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 6, 9, 0, 0, 0, time.UTC)

	repo := &stubHealthRepository{report: domain.SystemHealthReport{}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewSystemService returned error: %v", err)
	}

	report, err := svc.Health(ctx)
	if err != nil {
		t.Fatalf("Health returned error: %v", err)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected GeneratedAt %v, got %v", now, report.GeneratedAt)
	}
	if report.Checks == nil {
		t.Fatal("expected non-nil checks map")
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok status for empty checks, got %q", report.Status)
	}
	if repo.calls != 1 {
		t.Fatalf("expected one collect call, got %d", repo.calls)
	}
}

func TestSystemServiceHealthDerivesWorstStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 6, 9, 0, 0, 0, time.UTC)

	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK},
			"pubsub":    {Status: domain.HealthStatusDegraded},
		},
	}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewSystemService returned error: %v", err)
	}

	report, err := svc.Health(ctx)
	if err != nil {
		t.Fatalf("Health returned error: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %q", report.Status)
	}
}

func TestSystemServiceHealthPropagatesErrors(t *testing.T) {
	ctx := context.Background()

	repo := &stubHealthRepository{err: errors.New("firestore down")}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("NewSystemService returned error: %v", err)
	}

	if _, err := svc.Health(ctx); err == nil {
		t.Fatal("expected error from collect failure")
	}
}
