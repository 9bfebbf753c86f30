package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/sokomart/api/internal/domain"
	"github.com/sokomart/api/internal/platform/auth"
	"github.com/sokomart/api/internal/platform/httpx"
	"github.com/sokomart/api/internal/services"
)

const maxStoreRequestBody = 8 * 1024

// StoreHandlers exposes storefront management and the store's logistics options.
type StoreHandlers struct {
	authn     *auth.Authenticator
	stores    services.StoreService
	logistics services.LogisticsService
	media     services.MediaService
}

// NewStoreHandlers constructs store handlers. Reads are public; writes require
// Firebase authentication.
func NewStoreHandlers(authn *auth.Authenticator, stores services.StoreService, logistics services.LogisticsService, media services.MediaService) *StoreHandlers {
	return &StoreHandlers{
		authn:     authn,
		stores:    stores,
		logistics: logistics,
		media:     media,
	}
}

// Routes registers the /stores endpoints.
func (h *StoreHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Get("/", h.listStores)
	r.Get("/{storeID}", h.getStore)
	r.Get("/{storeID}/logistics-options", h.listLogisticsOptions)

	protected := r
	if h.authn != nil {
		protected = r.With(h.authn.RequireFirebaseAuth())
	}
	protected.Post("/", h.createStore)
	protected.Patch("/{storeID}", h.updateStore)
	protected.Post("/{storeID}/image-uploads", h.createImageUpload)
	protected.Post("/{storeID}/logistics-options", h.createLogisticsOption)
	protected.Patch("/{storeID}/logistics-options/{optionID}", h.updateLogisticsOption)
	protected.Post("/{storeID}/logistics-options/{optionID}:deactivate", h.deactivateLogisticsOption)
}

type storePayload struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`
	City      string `json:"city,omitempty"`
	Active    bool   `json:"active"`
	ImagePath string `json:"image_path,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type storeResponse struct {
	Store storePayload `json:"store"`
}

type storeListResponse struct {
	Items         []storePayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type createStoreRequest struct {
	Name string `json:"name"`
	City string `json:"city"`
}

type updateStoreRequest struct {
	Name   *string `json:"name"`
	City   *string `json:"city"`
	Active *bool   `json:"active"`
}

type logisticsOptionPayload struct {
	ID            string `json:"id"`
	StoreID       string `json:"store_id"`
	Type          string `json:"type"`
	LocationName  string `json:"location_name"`
	City          string `json:"city,omitempty"`
	FeeAmount     int64  `json:"fee_amount"`
	TimelineLabel string `json:"timeline_label,omitempty"`
	Active        bool   `json:"active"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

type logisticsOptionResponse struct {
	Option logisticsOptionPayload `json:"option"`
}

type logisticsOptionListResponse struct {
	Items         []logisticsOptionPayload `json:"items"`
	NextPageToken string                   `json:"next_page_token,omitempty"`
}

type upsertLogisticsOptionRequest struct {
	Type          string `json:"type"`
	LocationName  string `json:"location_name"`
	City          string `json:"city"`
	FeeAmount     int64  `json:"fee_amount"`
	TimelineLabel string `json:"timeline_label"`
	Active        *bool  `json:"active"`
}

type imageUploadRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

type imageUploadResponse struct {
	Path        string `json:"path"`
	UploadURL   string `json:"upload_url"`
	ContentType string `json:"content_type"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

func (h *StoreHandlers) listStores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stores == nil {
		httpx.WriteError(ctx, w, httpx.NewError("store_service_unavailable", "store service unavailable", http.StatusServiceUnavailable))
		return
	}

	pagination, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	query := services.StoreQuery{
		OwnerID:    strings.TrimSpace(r.URL.Query().Get("owner_id")),
		OnlyActive: strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("active")), "true"),
		Pagination: pagination,
	}

	page, err := h.stores.ListStores(ctx, query)
	if err != nil {
		writeStoreError(ctx, w, err)
		return
	}

	items := make([]storePayload, 0, len(page.Items))
	for _, store := range page.Items {
		items = append(items, buildStorePayload(store))
	}

	writeJSONResponse(w, http.StatusOK, storeListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *StoreHandlers) getStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stores == nil {
		httpx.WriteError(ctx, w, httpx.NewError("store_service_unavailable", "store service unavailable", http.StatusServiceUnavailable))
		return
	}

	storeID := strings.TrimSpace(chi.URLParam(r, "storeID"))
	if storeID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "store id is required", http.StatusBadRequest))
		return
	}

	store, err := h.stores.GetStore(ctx, storeID)
	if err != nil {
		writeStoreError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, storeResponse{Store: buildStorePayload(store)})
}

func (h *StoreHandlers) createStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stores == nil {
		httpx.WriteError(ctx, w, httpx.NewError("store_service_unavailable", "store service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req createStoreRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	store, err := h.stores.CreateStore(ctx, services.CreateStoreCommand{
		OwnerID: identity.UID,
		Name:    req.Name,
		City:    req.City,
	})
	if err != nil {
		writeStoreError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, storeResponse{Store: buildStorePayload(store)})
}

func (h *StoreHandlers) updateStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stores == nil {
		httpx.WriteError(ctx, w, httpx.NewError("store_service_unavailable", "store service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, storeID, ok := h.requireStoreOwner(w, r)
	if !ok {
		return
	}

	var req updateStoreRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	store, err := h.stores.UpdateStore(ctx, services.UpdateStoreCommand{
		StoreID: storeID,
		Name:    req.Name,
		City:    req.City,
		Active:  req.Active,
		ActorID: identity.UID,
	})
	if err != nil {
		writeStoreError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, storeResponse{Store: buildStorePayload(store)})
}

func (h *StoreHandlers) createImageUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.media == nil {
		httpx.WriteError(ctx, w, httpx.NewError("media_service_unavailable", "media service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, storeID, ok := h.requireStoreOwner(w, r)
	if !ok {
		return
	}

	var req imageUploadRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	upload, err := h.media.CreateStoreImageUpload(ctx, services.StoreImageUploadCommand{
		StoreID:     storeID,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		ActorID:     identity.UID,
	})
	if err != nil {
		writeMediaError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, imageUploadResponse{
		Path:        upload.Path,
		UploadURL:   upload.UploadURL,
		ContentType: upload.ContentType,
		ExpiresAt:   formatTime(upload.ExpiresAt),
	})
}

func (h *StoreHandlers) listLogisticsOptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.logistics == nil {
		httpx.WriteError(ctx, w, httpx.NewError("logistics_service_unavailable", "logistics service unavailable", http.StatusServiceUnavailable))
		return
	}

	storeID := strings.TrimSpace(chi.URLParam(r, "storeID"))
	if storeID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "store id is required", http.StatusBadRequest))
		return
	}

	pagination, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.logistics.ListStoreOptions(ctx, services.LogisticsOptionQuery{
		StoreID:    storeID,
		OnlyActive: !strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("include_inactive")), "true"),
		Pagination: pagination,
	})
	if err != nil {
		writeLogisticsError(ctx, w, err)
		return
	}

	items := make([]logisticsOptionPayload, 0, len(page.Items))
	for _, option := range page.Items {
		items = append(items, buildLogisticsOptionPayload(option))
	}

	writeJSONResponse(w, http.StatusOK, logisticsOptionListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *StoreHandlers) createLogisticsOption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.logistics == nil {
		httpx.WriteError(ctx, w, httpx.NewError("logistics_service_unavailable", "logistics service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, storeID, ok := h.requireStoreOwner(w, r)
	if !ok {
		return
	}

	var req upsertLogisticsOptionRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	option, err := h.logistics.CreateOption(ctx, services.UpsertLogisticsOptionCommand{
		StoreID:       storeID,
		Type:          domain.LogisticsType(strings.ToLower(strings.TrimSpace(req.Type))),
		LocationName:  req.LocationName,
		City:          req.City,
		FeeAmount:     req.FeeAmount,
		TimelineLabel: req.TimelineLabel,
		Active:        req.Active,
		ActorID:       identity.UID,
	})
	if err != nil {
		writeLogisticsError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, logisticsOptionResponse{Option: buildLogisticsOptionPayload(option)})
}

func (h *StoreHandlers) updateLogisticsOption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.logistics == nil {
		httpx.WriteError(ctx, w, httpx.NewError("logistics_service_unavailable", "logistics service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, storeID, ok := h.requireStoreOwner(w, r)
	if !ok {
		return
	}

	optionID := strings.TrimSpace(chi.URLParam(r, "optionID"))
	if optionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "option id is required", http.StatusBadRequest))
		return
	}

	var req upsertLogisticsOptionRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	option, err := h.logistics.UpdateOption(ctx, services.UpsertLogisticsOptionCommand{
		OptionID:      optionID,
		StoreID:       storeID,
		Type:          domain.LogisticsType(strings.ToLower(strings.TrimSpace(req.Type))),
		LocationName:  req.LocationName,
		City:          req.City,
		FeeAmount:     req.FeeAmount,
		TimelineLabel: req.TimelineLabel,
		Active:        req.Active,
		ActorID:       identity.UID,
	})
	if err != nil {
		writeLogisticsError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, logisticsOptionResponse{Option: buildLogisticsOptionPayload(option)})
}

func (h *StoreHandlers) deactivateLogisticsOption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.logistics == nil {
		httpx.WriteError(ctx, w, httpx.NewError("logistics_service_unavailable", "logistics service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, _, ok := h.requireStoreOwner(w, r)
	if !ok {
		return
	}

	optionID := strings.TrimSpace(chi.URLParam(r, "optionID"))
	if optionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "option id is required", http.StatusBadRequest))
		return
	}

	option, err := h.logistics.DeactivateOption(ctx, services.DeactivateLogisticsOptionCommand{
		OptionID: optionID,
		ActorID:  identity.UID,
	})
	if err != nil {
		writeLogisticsError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, logisticsOptionResponse{Option: buildLogisticsOptionPayload(option)})
}

// requireStoreOwner authenticates the caller and verifies they own the store in
// the URL, or hold the admin role.
func (h *StoreHandlers) requireStoreOwner(w http.ResponseWriter, r *http.Request) (*auth.Identity, string, bool) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, "", false
	}

	storeID := strings.TrimSpace(chi.URLParam(r, "storeID"))
	if storeID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "store id is required", http.StatusBadRequest))
		return nil, "", false
	}

	if h.stores == nil {
		httpx.WriteError(ctx, w, httpx.NewError("store_service_unavailable", "store service unavailable", http.StatusServiceUnavailable))
		return nil, "", false
	}

	store, err := h.stores.GetStore(ctx, storeID)
	if err != nil {
		writeStoreError(ctx, w, err)
		return nil, "", false
	}

	if !identity.HasRole(auth.RoleAdmin) && !strings.EqualFold(strings.TrimSpace(store.OwnerID), strings.TrimSpace(identity.UID)) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "store owner role required", http.StatusForbidden))
		return nil, "", false
	}

	return identity, storeID, true
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxStoreRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func buildStorePayload(store services.Store) storePayload {
	return storePayload{
		ID:        strings.TrimSpace(store.ID),
		OwnerID:   strings.TrimSpace(store.OwnerID),
		Name:      strings.TrimSpace(store.Name),
		City:      strings.TrimSpace(store.City),
		Active:    store.Active,
		ImagePath: strings.TrimSpace(store.ImagePath),
		CreatedAt: formatTime(store.CreatedAt),
		UpdatedAt: formatTime(store.UpdatedAt),
	}
}

func buildLogisticsOptionPayload(option services.LogisticsOption) logisticsOptionPayload {
	return logisticsOptionPayload{
		ID:            strings.TrimSpace(option.ID),
		StoreID:       strings.TrimSpace(option.StoreID),
		Type:          strings.TrimSpace(string(option.Type)),
		LocationName:  strings.TrimSpace(option.LocationName),
		City:          strings.TrimSpace(option.City),
		FeeAmount:     option.FeeAmount,
		TimelineLabel: strings.TrimSpace(option.TimelineLabel),
		Active:        option.Active,
		CreatedAt:     formatTime(option.CreatedAt),
		UpdatedAt:     formatTime(option.UpdatedAt),
	}
}

func writeStoreError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrStoreInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrStoreNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("store_not_found", "store not found", http.StatusNotFound))
	case errors.Is(err, services.ErrStoreConflict):
		httpx.WriteError(ctx, w, httpx.NewError("store_conflict", "store was modified concurrently; reload and retry", http.StatusConflict))
	case errors.Is(err, services.ErrStoreUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("store_service_unavailable", "store service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("store_error", "failed to process store request", http.StatusInternalServerError))
	}
}

func writeLogisticsError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrLogisticsInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrLogisticsNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("logistics_option_not_found", "logistics option not found", http.StatusNotFound))
	case errors.Is(err, services.ErrLogisticsConflict):
		httpx.WriteError(ctx, w, httpx.NewError("logistics_conflict", "logistics option was modified concurrently; reload and retry", http.StatusConflict))
	case errors.Is(err, services.ErrLogisticsUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("logistics_service_unavailable", "logistics service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("logistics_error", "failed to process logistics request", http.StatusInternalServerError))
	}
}

func writeMediaError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrMediaInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrMediaStoreNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("store_not_found", "store not found", http.StatusNotFound))
	case errors.Is(err, services.ErrMediaUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("media_service_unavailable", "media service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("media_error", "failed to issue upload", http.StatusInternalServerError))
	}
}
