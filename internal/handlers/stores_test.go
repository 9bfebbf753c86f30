package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/sokomart/api/internal/domain"
	"github.com/sokomart/api/internal/platform/auth"
	"github.com/sokomart/api/internal/services"
)

type stubStoreService struct {
	createFunc func(ctx context.Context, cmd services.CreateStoreCommand) (services.Store, error)
	updateFunc func(ctx context.Context, cmd services.UpdateStoreCommand) (services.Store, error)
	getFunc    func(ctx context.Context, storeID string) (services.Store, error)
	listFunc   func(ctx context.Context, query services.StoreQuery) (domain.CursorPage[services.Store], error)
}

func (s *stubStoreService) CreateStore(ctx context.Context, cmd services.CreateStoreCommand) (services.Store, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.Store{}, nil
}

func (s *stubStoreService) UpdateStore(ctx context.Context, cmd services.UpdateStoreCommand) (services.Store, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return services.Store{}, services.ErrStoreNotFound
}

func (s *stubStoreService) GetStore(ctx context.Context, storeID string) (services.Store, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, storeID)
	}
	return services.Store{}, services.ErrStoreNotFound
}

func (s *stubStoreService) ListStores(ctx context.Context, query services.StoreQuery) (domain.CursorPage[services.Store], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, query)
	}
	return domain.CursorPage[services.Store]{}, nil
}

var _ services.StoreService = (*stubStoreService)(nil)

type stubLogisticsService struct {
	createFunc     func(ctx context.Context, cmd services.UpsertLogisticsOptionCommand) (services.LogisticsOption, error)
	updateFunc     func(ctx context.Context, cmd services.UpsertLogisticsOptionCommand) (services.LogisticsOption, error)
	deactivateFunc func(ctx context.Context, cmd services.DeactivateLogisticsOptionCommand) (services.LogisticsOption, error)
	getFunc        func(ctx context.Context, optionID string) (services.LogisticsOption, error)
	listFunc       func(ctx context.Context, query services.LogisticsOptionQuery) (domain.CursorPage[services.LogisticsOption], error)
}

func (s *stubLogisticsService) CreateOption(ctx context.Context, cmd services.UpsertLogisticsOptionCommand) (services.LogisticsOption, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.LogisticsOption{}, nil
}

func (s *stubLogisticsService) UpdateOption(ctx context.Context, cmd services.UpsertLogisticsOptionCommand) (services.LogisticsOption, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return services.LogisticsOption{}, services.ErrLogisticsNotFound
}

func (s *stubLogisticsService) DeactivateOption(ctx context.Context, cmd services.DeactivateLogisticsOptionCommand) (services.LogisticsOption, error) {
	if s.deactivateFunc != nil {
		return s.deactivateFunc(ctx, cmd)
	}
	return services.LogisticsOption{}, services.ErrLogisticsNotFound
}

func (s *stubLogisticsService) GetOption(ctx context.Context, optionID string) (services.LogisticsOption, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, optionID)
	}
	return services.LogisticsOption{}, services.ErrLogisticsNotFound
}

func (s *stubLogisticsService) ListStoreOptions(ctx context.Context, query services.LogisticsOptionQuery) (domain.CursorPage[services.LogisticsOption], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, query)
	}
	return domain.CursorPage[services.LogisticsOption]{}, nil
}

var _ services.LogisticsService = (*stubLogisticsService)(nil)

type stubMediaService struct {
	uploadFunc func(ctx context.Context, cmd services.StoreImageUploadCommand) (services.MediaUpload, error)
}

func (s *stubMediaService) CreateStoreImageUpload(ctx context.Context, cmd services.StoreImageUploadCommand) (services.MediaUpload, error) {
	if s.uploadFunc != nil {
		return s.uploadFunc(ctx, cmd)
	}
	return services.MediaUpload{}, nil
}

var _ services.MediaService = (*stubMediaService)(nil)

func ownedStoreService(storeID, ownerID string) *stubStoreService {
	return &stubStoreService{
		getFunc: func(_ context.Context, id string) (services.Store, error) {
			if id != storeID {
				return services.Store{}, services.ErrStoreNotFound
			}
			return services.Store{ID: storeID, OwnerID: ownerID, Name: "Bola Stores", Active: true}, nil
		},
	}
}

func TestStoreHandlersCreateStore(t *testing.T) {
	router := chi.NewRouter()
	var captured services.CreateStoreCommand
	stores := &stubStoreService{
		createFunc: func(_ context.Context, cmd services.CreateStoreCommand) (services.Store, error) {
			captured = cmd
			return services.Store{
				ID:        "sto_1",
				OwnerID:   cmd.OwnerID,
				Name:      cmd.Name,
				City:      cmd.City,
				Active:    true,
				CreatedAt: time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	handler := NewStoreHandlers(nil, stores, nil, nil)
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"name":"Bola Stores","city":"Lagos"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), buyerIdentity("usr_owner")))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OwnerID != "usr_owner" {
		t.Fatalf("expected owner usr_owner, got %s", captured.OwnerID)
	}

	var resp storeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Store.ID != "sto_1" || !resp.Store.Active {
		t.Fatalf("unexpected store payload: %+v", resp.Store)
	}
}

func TestStoreHandlersUpdateStoreRejectsNonOwner(t *testing.T) {
	router := chi.NewRouter()
	handler := NewStoreHandlers(nil, ownedStoreService("sto_1", "usr_owner"), nil, nil)
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodPatch, "/sto_1", bytes.NewBufferString(`{"name":"Hijacked"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), buyerIdentity("usr_other")))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestStoreHandlersUpdateStoreAllowsAdmin(t *testing.T) {
	router := chi.NewRouter()
	stores := ownedStoreService("sto_1", "usr_owner")
	stores.updateFunc = func(_ context.Context, cmd services.UpdateStoreCommand) (services.Store, error) {
		return services.Store{ID: cmd.StoreID, OwnerID: "usr_owner", Name: "Renamed", Active: true}, nil
	}
	handler := NewStoreHandlers(nil, stores, nil, nil)
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodPatch, "/sto_1", bytes.NewBufferString(`{"name":"Renamed"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "usr_admin", Roles: []string{auth.RoleAdmin}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestStoreHandlersListLogisticsOptionsDefaultsToActive(t *testing.T) {
	router := chi.NewRouter()
	var captured services.LogisticsOptionQuery
	logistics := &stubLogisticsService{
		listFunc: func(_ context.Context, query services.LogisticsOptionQuery) (domain.CursorPage[services.LogisticsOption], error) {
			captured = query
			return domain.CursorPage[services.LogisticsOption]{Items: []services.LogisticsOption{{
				ID:           "log_1",
				StoreID:      query.StoreID,
				Type:         domain.LogisticsTypeDelivery,
				LocationName: "Ikeja hub",
				FeeAmount:    300,
				Active:       true,
			}}}, nil
		},
	}
	handler := NewStoreHandlers(nil, nil, logistics, nil)
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/sto_1/logistics-options", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !captured.OnlyActive {
		t.Fatal("expected listing to default to active options only")
	}

	var resp logisticsOptionListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].FeeAmount != 300 {
		t.Fatalf("unexpected options: %+v", resp.Items)
	}
}

func TestStoreHandlersCreateLogisticsOption(t *testing.T) {
	router := chi.NewRouter()
	var captured services.UpsertLogisticsOptionCommand
	logistics := &stubLogisticsService{
		createFunc: func(_ context.Context, cmd services.UpsertLogisticsOptionCommand) (services.LogisticsOption, error) {
			captured = cmd
			return services.LogisticsOption{ID: "log_1", StoreID: cmd.StoreID, Type: cmd.Type, LocationName: cmd.LocationName, FeeAmount: cmd.FeeAmount, Active: true}, nil
		},
	}
	handler := NewStoreHandlers(nil, ownedStoreService("sto_1", "usr_owner"), logistics, nil)
	handler.Routes(router)

	body := `{"type":"delivery","location_name":"Ikeja hub","city":"Lagos","fee_amount":300,"timeline_label":"1-2 days"}`
	req := httptest.NewRequest(http.MethodPost, "/sto_1/logistics-options", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), buyerIdentity("usr_owner")))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Type != domain.LogisticsTypeDelivery || captured.FeeAmount != 300 {
		t.Fatalf("unexpected command: %+v", captured)
	}
}

func TestStoreHandlersDeactivateLogisticsOption(t *testing.T) {
	router := chi.NewRouter()
	logistics := &stubLogisticsService{
		deactivateFunc: func(_ context.Context, cmd services.DeactivateLogisticsOptionCommand) (services.LogisticsOption, error) {
			if cmd.OptionID != "log_1" {
				t.Fatalf("expected log_1, got %s", cmd.OptionID)
			}
			return services.LogisticsOption{ID: cmd.OptionID, StoreID: "sto_1", Active: false}, nil
		},
	}
	handler := NewStoreHandlers(nil, ownedStoreService("sto_1", "usr_owner"), logistics, nil)
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/sto_1/logistics-options/log_1:deactivate", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), buyerIdentity("usr_owner")))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp logisticsOptionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Option.Active {
		t.Fatal("expected option deactivated")
	}
}

func TestStoreHandlersCreateImageUpload(t *testing.T) {
	router := chi.NewRouter()
	media := &stubMediaService{
		uploadFunc: func(_ context.Context, cmd services.StoreImageUploadCommand) (services.MediaUpload, error) {
			if cmd.StoreID != "sto_1" || cmd.ContentType != "image/png" {
				t.Fatalf("unexpected command: %+v", cmd)
			}
			return services.MediaUpload{
				Path:        "media/stores/sto_1/images/upload123/front.png",
				UploadURL:   "https://storage.example/signed",
				ContentType: "image/png",
				ExpiresAt:   time.Date(2026, 2, 7, 9, 15, 0, 0, time.UTC),
			}, nil
		},
	}
	handler := NewStoreHandlers(nil, ownedStoreService("sto_1", "usr_owner"), nil, media)
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/sto_1/image-uploads", bytes.NewBufferString(`{"file_name":"front.png","content_type":"image/png"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), buyerIdentity("usr_owner")))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp imageUploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.UploadURL != "https://storage.example/signed" {
		t.Fatalf("unexpected upload url %s", resp.UploadURL)
	}
}

func TestStoreHandlersGetStoreNotFound(t *testing.T) {
	router := chi.NewRouter()
	handler := NewStoreHandlers(nil, &stubStoreService{}, nil, nil)
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/sto_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
