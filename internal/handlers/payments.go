package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sokomart/api/internal/platform/auth"
	"github.com/sokomart/api/internal/platform/httpx"
	"github.com/sokomart/api/internal/services"
)

const maxPaymentRequestBody = 8 * 1024

// PaymentHandlers exposes the checkout-session endpoint for authenticated buyers.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
}

// NewPaymentHandlers constructs payment handlers guarded by Firebase authentication.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{
		authn:    authn,
		payments: payments,
	}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/sessions", h.createSession)
}

type paymentSessionRequest struct {
	OrderIDs   []string `json:"order_ids"`
	SuccessURL string   `json:"success_url"`
	CancelURL  string   `json:"cancel_url"`
	Provider   string   `json:"provider"`
}

type paymentSessionResponse struct {
	SessionID   string `json:"session_id"`
	Provider    string `json:"provider"`
	RedirectURL string `json:"redirect_url"`
	Reference   string `json:"reference"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

func (h *PaymentHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxPaymentRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req paymentSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	session, err := h.payments.CreatePaymentSession(ctx, services.CreatePaymentSessionCommand{
		BuyerID:    identity.UID,
		OrderIDs:   req.OrderIDs,
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		CancelURL:  strings.TrimSpace(req.CancelURL),
		Provider:   strings.TrimSpace(req.Provider),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, paymentSessionResponse{
		SessionID:   session.SessionID,
		Provider:    session.Provider,
		RedirectURL: session.RedirectURL,
		Reference:   session.Reference,
		ExpiresAt:   formatTime(session.ExpiresAt),
	})
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	// Foreign orders read as missing so the response never confirms their existence.
	case errors.Is(err, services.ErrPaymentUnauthorized), errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentOrderNotPayable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_payable", "order is not awaiting payment", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}
