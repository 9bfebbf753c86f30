package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/sokomart/api/internal/domain"
	"github.com/sokomart/api/internal/platform/httpx"
	"github.com/sokomart/api/internal/services"
)

const maxWebhookRequestBody = 64 * 1024

// WebhookHandlers ingests provider callbacks. Signature verification happens in
// the middleware the router mounts on the /webhooks group; handlers only parse
// and dispatch.
type WebhookHandlers struct {
	payments services.PaymentService
	orders   services.OrderService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(payments services.PaymentService, orders services.OrderService) *WebhookHandlers {
	return &WebhookHandlers{
		payments: payments,
		orders:   orders,
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.paymentEvent)
	r.Post("/logistics/callback", h.courierCallback)
}

// paymentWebhookEnvelope matches the Stripe event shape; the flat fields cover
// providers that post plain JSON.
type paymentWebhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`

	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Reference string `json:"reference"`
}

func (e paymentWebhookEnvelope) eventID() string {
	if id := strings.TrimSpace(e.ID); id != "" {
		return id
	}
	return strings.TrimSpace(e.EventID)
}

func (e paymentWebhookEnvelope) eventType() string {
	if t := strings.TrimSpace(e.Type); t != "" {
		return t
	}
	return strings.TrimSpace(e.EventType)
}

func (e paymentWebhookEnvelope) reference() string {
	if ref := strings.TrimSpace(e.Data.Object.ID); ref != "" {
		return ref
	}
	return strings.TrimSpace(e.Reference)
}

func (h *WebhookHandlers) paymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if provider == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "provider is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxWebhookRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var envelope paymentWebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	if envelope.eventType() == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "event type is required", http.StatusBadRequest))
		return
	}

	err = h.payments.RecordWebhookEvent(ctx, services.PaymentWebhookCommand{
		Provider:  provider,
		EventType: envelope.eventType(),
		Reference: envelope.reference(),
		EventID:   envelope.eventID(),
	})
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "processed"})
	// Events for sessions we never issued are acknowledged so the provider
	// stops retrying them.
	case errors.Is(err, services.ErrPaymentNotFound):
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ignored"})
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process payment event", http.StatusServiceUnavailable))
	}
}

type courierCallbackRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Courier string `json:"courier"`
}

func (h *WebhookHandlers) courierCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req courierCallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest))
		return
	}

	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if status != domain.OrderStatusShipped && status != domain.OrderStatusDelivered {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be shipped or delivered", http.StatusBadRequest))
		return
	}

	actorID := "courier"
	if courier := strings.TrimSpace(req.Courier); courier != "" {
		actorID = "courier:" + courier
	}

	order, err := h.orders.Advance(ctx, services.AdvanceOrderCommand{
		OrderID:      orderID,
		TargetStatus: status,
		ActorID:      actorID,
		ActorRole:    "system",
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
