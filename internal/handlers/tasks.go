package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sokomart/api/internal/platform/httpx"
	"github.com/sokomart/api/internal/services"
)

const (
	maxTaskRequestBody  = 4 * 1024
	defaultPendingTTL   = 24 * time.Hour
	expireSweepActorID  = "scheduler"
	maxExpireSweepLimit = 500
)

// TaskHandlers serves scheduler-invoked maintenance endpoints. The router
// mounts these behind Google ID token verification for Cloud Scheduler
// service accounts.
type TaskHandlers struct {
	orders services.OrderService
}

// NewTaskHandlers constructs task handlers.
func NewTaskHandlers(orders services.OrderService) *TaskHandlers {
	return &TaskHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *TaskHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/tasks/expire-pending", h.expirePending)
}

type expirePendingRequest struct {
	TTLMinutes int `json:"ttl_minutes"`
	Limit      int `json:"limit"`
}

type expirePendingResponse struct {
	ExpiredOrderIDs []string `json:"expired_order_ids"`
	Count           int      `json:"count"`
}

func (h *TaskHandlers) expirePending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req expirePendingRequest
	body, err := readLimitedBody(r, maxTaskRequestBody)
	if err != nil && !errors.Is(err, errEmptyBody) {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	ttl := defaultPendingTTL
	if req.TTLMinutes > 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}
	limit := req.Limit
	if limit > maxExpireSweepLimit {
		limit = maxExpireSweepLimit
	}

	expired, err := h.orders.ExpireStalePending(ctx, services.ExpireStalePendingCommand{
		TTL:     ttl,
		Limit:   limit,
		ActorID: expireSweepActorID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	if expired == nil {
		expired = []string{}
	}
	writeJSONResponse(w, http.StatusOK, expirePendingResponse{
		ExpiredOrderIDs: expired,
		Count:           len(expired),
	})
}
