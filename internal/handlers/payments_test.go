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

	"github.com/sokomart/api/internal/platform/auth"
	"github.com/sokomart/api/internal/services"
)

type stubPaymentService struct {
	createFunc func(ctx context.Context, cmd services.CreatePaymentSessionCommand) (services.PaymentSession, error)
	recordFunc func(ctx context.Context, cmd services.PaymentWebhookCommand) error
}

func (s *stubPaymentService) CreatePaymentSession(ctx context.Context, cmd services.CreatePaymentSessionCommand) (services.PaymentSession, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.PaymentSession{}, nil
}

func (s *stubPaymentService) RecordWebhookEvent(ctx context.Context, cmd services.PaymentWebhookCommand) error {
	if s.recordFunc != nil {
		return s.recordFunc(ctx, cmd)
	}
	return nil
}

var _ services.PaymentService = (*stubPaymentService)(nil)

func TestPaymentHandlersCreateSessionSuccess(t *testing.T) {
	router := chi.NewRouter()
	var captured services.CreatePaymentSessionCommand
	service := &stubPaymentService{
		createFunc: func(_ context.Context, cmd services.CreatePaymentSessionCommand) (services.PaymentSession, error) {
			captured = cmd
			return services.PaymentSession{
				SessionID:   "cs_test_123",
				Provider:    "stripe",
				RedirectURL: "https://checkout.example/cs_test_123",
				Reference:   "cs_test_123",
				ExpiresAt:   time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	handler := NewPaymentHandlers(nil, service)
	handler.Routes(router)

	body := `{"order_ids":["ord_1","ord_2"],"success_url":"https://sokomart.example/success","cancel_url":"https://sokomart.example/cancel"}`
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), buyerIdentity("usr_1")))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.BuyerID != "usr_1" || len(captured.OrderIDs) != 2 {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var resp paymentSessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SessionID != "cs_test_123" || resp.RedirectURL == "" {
		t.Fatalf("unexpected session payload: %+v", resp)
	}
}

func TestPaymentHandlersCreateSessionUnauthenticated(t *testing.T) {
	router := chi.NewRouter()
	handler := NewPaymentHandlers(nil, &stubPaymentService{})
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString(`{"order_ids":["ord_1"]}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestPaymentHandlersCreateSessionMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", services.ErrPaymentInvalidInput, http.StatusBadRequest, "invalid_request"},
		{"unknown order", services.ErrPaymentNotFound, http.StatusNotFound, "order_not_found"},
		{"foreign order", services.ErrPaymentUnauthorized, http.StatusNotFound, "order_not_found"},
		{"not payable", services.ErrPaymentOrderNotPayable, http.StatusConflict, "order_not_payable"},
		{"unavailable", services.ErrPaymentUnavailable, http.StatusServiceUnavailable, "payment_service_unavailable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := chi.NewRouter()
			handler := NewPaymentHandlers(nil, &stubPaymentService{
				createFunc: func(context.Context, services.CreatePaymentSessionCommand) (services.PaymentSession, error) {
					return services.PaymentSession{}, tc.err
				},
			})
			handler.Routes(router)

			body := `{"order_ids":["ord_1"],"success_url":"https://sokomart.example/s","cancel_url":"https://sokomart.example/c"}`
			req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString(body))
			req = req.WithContext(auth.WithIdentity(req.Context(), buyerIdentity("usr_1")))

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			var errResp map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if errResp["error"] != tc.wantCode {
				t.Fatalf("expected error code %s, got %#v", tc.wantCode, errResp["error"])
			}
		})
	}
}
