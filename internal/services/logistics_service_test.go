package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/sokomart/api/internal/domain"
)

func newLogisticsServiceForTest(t *testing.T, options *stubLogisticsRepo, stores *stubStoreRepo, now time.Time) LogisticsService {
	t.Helper()
	svc, err := NewLogisticsService(LogisticsServiceDeps{
		Options:     options,
		Stores:      stores,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "fixed" },
	})
	if err != nil {
		t.Fatalf("NewLogisticsService returned error: %v", err)
	}
	return svc
}

func existingStore(id string) *stubStoreRepo {
	return &stubStoreRepo{
		findFn: func(_ context.Context, storeID string) (domain.Store, error) {
			if storeID != id {
				return domain.Store{}, repoError{notFound: true}
			}
			return domain.Store{ID: id, Active: true}, nil
		},
	}
}

func TestLogisticsServiceCreateOption(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)

	var inserted domain.LogisticsOption
	options := &stubLogisticsRepo{
		insertFn: func(_ context.Context, option domain.LogisticsOption) error {
			inserted = option
			return nil
		},
	}
	svc := newLogisticsServiceForTest(t, options, existingStore("sto_1"), now)

	option, err := svc.CreateOption(ctx, UpsertLogisticsOptionCommand{
		StoreID:       "sto_1",
		Type:          domain.LogisticsTypeDelivery,
		LocationName:  "Ikeja",
		City:          "Lagos",
		FeeAmount:     300,
		TimelineLabel: "1-2 days",
	})
	if err != nil {
		t.Fatalf("CreateOption returned error: %v", err)
	}

	if option.ID != "log_fixed" {
		t.Fatalf("expected id log_fixed, got %q", option.ID)
	}
	if !option.Active {
		t.Fatal("expected new option to default to active")
	}
	if option.FeeAmount != 300 {
		t.Fatalf("expected fee 300, got %d", option.FeeAmount)
	}
	if inserted.ID != option.ID {
		t.Fatalf("expected repository insert of %q, got %q", option.ID, inserted.ID)
	}
}

func TestLogisticsServiceCreateOptionRejectsUnknownStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	svc := newLogisticsServiceForTest(t, &stubLogisticsRepo{}, existingStore("sto_1"), now)

	_, err := svc.CreateOption(ctx, UpsertLogisticsOptionCommand{
		StoreID:      "sto_missing",
		Type:         domain.LogisticsTypePickup,
		LocationName: "Surulere",
	})
	if !errors.Is(err, ErrLogisticsInvalidInput) {
		t.Fatalf("expected ErrLogisticsInvalidInput, got %v", err)
	}
}

func TestLogisticsServiceCreateOptionValidatesFields(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	svc := newLogisticsServiceForTest(t, &stubLogisticsRepo{}, existingStore("sto_1"), now)

	cases := []struct {
		name string
		cmd  UpsertLogisticsOptionCommand
	}{
		{
			name: "unknown type",
			cmd:  UpsertLogisticsOptionCommand{StoreID: "sto_1", Type: "drone", LocationName: "Ikeja"},
		},
		{
			name: "missing location",
			cmd:  UpsertLogisticsOptionCommand{StoreID: "sto_1", Type: domain.LogisticsTypePickup},
		},
		{
			name: "negative fee",
			cmd:  UpsertLogisticsOptionCommand{StoreID: "sto_1", Type: domain.LogisticsTypeDelivery, LocationName: "Ikeja", FeeAmount: -1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateOption(ctx, tc.cmd); !errors.Is(err, ErrLogisticsInvalidInput) {
				t.Fatalf("expected ErrLogisticsInvalidInput, got %v", err)
			}
		})
	}
}

func TestLogisticsServiceDeactivateOption(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 4, 9, 0, 0, 0, time.UTC)

	active := domain.LogisticsOption{ID: "log_1", StoreID: "sto_1", Type: domain.LogisticsTypeDelivery, LocationName: "Ikeja", Active: true}
	var updated domain.LogisticsOption
	options := &stubLogisticsRepo{
		findFn: func(context.Context, string) (domain.LogisticsOption, error) {
			return active, nil
		},
		updateFn: func(_ context.Context, option domain.LogisticsOption) error {
			updated = option
			return nil
		},
	}
	svc := newLogisticsServiceForTest(t, options, existingStore("sto_1"), now)

	option, err := svc.DeactivateOption(ctx, DeactivateLogisticsOptionCommand{OptionID: "log_1"})
	if err != nil {
		t.Fatalf("DeactivateOption returned error: %v", err)
	}
	if option.Active {
		t.Fatal("expected option to be inactive")
	}
	if !updated.UpdatedAt.Equal(now) {
		t.Fatalf("expected UpdatedAt %v, got %v", now, updated.UpdatedAt)
	}
}

func TestLogisticsServiceDeactivateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 4, 9, 0, 0, 0, time.UTC)

	options := &stubLogisticsRepo{
		findFn: func(context.Context, string) (domain.LogisticsOption, error) {
			return domain.LogisticsOption{ID: "log_1", Active: false}, nil
		},
		updateFn: func(context.Context, domain.LogisticsOption) error {
			t.Fatal("update must not run for an already inactive option")
			return nil
		},
	}
	svc := newLogisticsServiceForTest(t, options, existingStore("sto_1"), now)

	option, err := svc.DeactivateOption(ctx, DeactivateLogisticsOptionCommand{OptionID: "log_1"})
	if err != nil {
		t.Fatalf("DeactivateOption returned error: %v", err)
	}
	if option.Active {
		t.Fatal("expected option to stay inactive")
	}
}

func TestLogisticsServiceGetOptionNotFound(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 4, 9, 0, 0, 0, time.UTC)
	options := &stubLogisticsRepo{
		findFn: func(context.Context, string) (domain.LogisticsOption, error) {
			return domain.LogisticsOption{}, repoError{notFound: true}
		},
	}
	svc := newLogisticsServiceForTest(t, options, existingStore("sto_1"), now)

	if _, err := svc.GetOption(ctx, "log_missing"); !errors.Is(err, ErrLogisticsNotFound) {
		t.Fatalf("expected ErrLogisticsNotFound, got %v", err)
	}
}

func TestLogisticsServiceListStoreOptionsRequiresStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 4, 9, 0, 0, 0, time.UTC)
	svc := newLogisticsServiceForTest(t, &stubLogisticsRepo{}, existingStore("sto_1"), now)

	if _, err := svc.ListStoreOptions(ctx, LogisticsOptionQuery{}); !errors.Is(err, ErrLogisticsInvalidInput) {
		t.Fatalf("expected ErrLogisticsInvalidInput, got %v", err)
	}
}
