package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/sokomart/api/internal/domain"
	"github.com/sokomart/api/internal/payments"
)

type stubPaymentGateway struct {
	createFn func(context.Context, payments.RouteHint, payments.SessionParams) (payments.Session, error)
}

func (s *stubPaymentGateway) CreateSession(ctx context.Context, hint payments.RouteHint, params payments.SessionParams) (payments.Session, error) {
	if s.createFn != nil {
		return s.createFn(ctx, hint, params)
	}
	return payments.Session{}, errors.New("not implemented")
}

type stubOrderServiceForPayments struct {
	OrderService
	confirmFn func(context.Context, ConfirmPaymentCommand) ([]Order, error)
}

func (s *stubOrderServiceForPayments) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) ([]Order, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, cmd)
	}
	return nil, errors.New("not implemented")
}

func pendingOrderFixture(id string, buyerID string, total int64) domain.Order {
	return domain.Order{
		ID:          id,
		OrderNumber: "SM-2026-0001" + id[len(id)-2:],
		BuyerID:     buyerID,
		Status:      domain.OrderStatusPending,
		Subtotal:    total,
		Total:       total,
		Currency:    domain.CurrencyNGN,
	}
}

func newPaymentServiceForTest(t *testing.T, repo *stubOrderRepo, orderSvc OrderService, gateway PaymentGateway, now time.Time) PaymentService {
	t.Helper()
	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:       repo,
		OrderService: orderSvc,
		Gateway:      gateway,
		Clock:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewPaymentService returned error: %v", err)
	}
	return svc
}

func TestPaymentServiceCreateSessionStampsReference(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

	ordersByID := map[string]domain.Order{
		"ord_01": pendingOrderFixture("ord_01", "usr_bisi", 2300),
		"ord_02": pendingOrderFixture("ord_02", "usr_bisi", 600),
	}
	stamped := map[string]string{}
	repo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			order, ok := ordersByID[id]
			if !ok {
				return domain.Order{}, repoError{notFound: true}
			}
			return order, nil
		},
		updateRefFn: func(_ context.Context, orderID, reference string, updatedAt time.Time) error {
			if !updatedAt.Equal(now) {
				t.Fatalf("expected updatedAt %v, got %v", now, updatedAt)
			}
			stamped[orderID] = reference
			return nil
		},
	}

	var gotReq payments.SessionParams
	gateway := &stubPaymentGateway{
		createFn: func(_ context.Context, hint payments.RouteHint, params payments.SessionParams) (payments.Session, error) {
			if hint.Currency != domain.CurrencyNGN {
				t.Fatalf("expected NGN route hint, got %q", hint.Currency)
			}
			gotReq = params
			return payments.Session{
				ID:          "cs_test_123",
				Provider:    "stripe",
				RedirectURL: "https://pay.example/cs_test_123",
				ExpiresAt:   now.Add(30 * time.Minute),
			}, nil
		},
	}

	svc := newPaymentServiceForTest(t, repo, &stubOrderServiceForPayments{}, gateway, now)

	session, err := svc.CreatePaymentSession(ctx, CreatePaymentSessionCommand{
		BuyerID:    "usr_bisi",
		OrderIDs:   []string{"ord_02", "ord_01"},
		SuccessURL: "https://sokomart.example/pay/success",
		CancelURL:  "https://sokomart.example/pay/cancel",
	})
	if err != nil {
		t.Fatalf("CreatePaymentSession returned error: %v", err)
	}

	if session.Reference != "cs_test_123" || session.SessionID != "cs_test_123" {
		t.Fatalf("expected session reference cs_test_123, got %+v", session)
	}
	if session.Provider != "stripe" {
		t.Fatalf("expected stripe provider, got %q", session.Provider)
	}

	// 2300 + 600 naira converted to kobo for the provider.
	if gotReq.Amount != 290000 {
		t.Fatalf("expected request amount 290000 kobo, got %d", gotReq.Amount)
	}
	if len(gotReq.Items) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(gotReq.Items))
	}
	if gotReq.Items[0].SKU != "ord_01" || gotReq.Items[0].UnitAmount != 230000 {
		t.Fatalf("unexpected first line item: %+v", gotReq.Items[0])
	}
	if gotReq.Metadata["orderIds"] != "ord_01,ord_02" {
		t.Fatalf("unexpected order ids metadata: %q", gotReq.Metadata["orderIds"])
	}
	if gotReq.IdempotencyKey == "" || !strings.HasPrefix(gotReq.IdempotencyKey, "pay_") {
		t.Fatalf("expected pay_ idempotency key, got %q", gotReq.IdempotencyKey)
	}

	if stamped["ord_01"] != "cs_test_123" || stamped["ord_02"] != "cs_test_123" {
		t.Fatalf("expected both orders stamped with session id, got %v", stamped)
	}
}

func TestPaymentServiceCreateSessionIdempotencyKeyIsStable(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

	repo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			return pendingOrderFixture(id, "usr_bisi", 500), nil
		},
	}
	var keys []string
	gateway := &stubPaymentGateway{
		createFn: func(_ context.Context, _ payments.RouteHint, params payments.SessionParams) (payments.Session, error) {
			keys = append(keys, params.IdempotencyKey)
			return payments.Session{ID: "cs_test_456", Provider: "stripe"}, nil
		},
	}
	svc := newPaymentServiceForTest(t, repo, &stubOrderServiceForPayments{}, gateway, now)

	for _, ids := range [][]string{
		{"ord_02", "ord_01"},
		{"ord_01", "ord_02", "ord_01"},
	} {
		if _, err := svc.CreatePaymentSession(ctx, CreatePaymentSessionCommand{
			BuyerID:    "usr_bisi",
			OrderIDs:   ids,
			SuccessURL: "https://sokomart.example/pay/success",
			CancelURL:  "https://sokomart.example/pay/cancel",
		}); err != nil {
			t.Fatalf("CreatePaymentSession(%v) returned error: %v", ids, err)
		}
	}

	if len(keys) != 2 || keys[0] != keys[1] {
		t.Fatalf("expected identical idempotency keys for the same order set, got %v", keys)
	}
}

func TestPaymentServiceCreateSessionRejectsForeignOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

	repo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			return pendingOrderFixture(id, "usr_other", 500), nil
		},
	}
	gateway := &stubPaymentGateway{
		createFn: func(context.Context, payments.RouteHint, payments.SessionParams) (payments.Session, error) {
			t.Fatal("gateway must not be called for another buyer's order")
			return payments.Session{}, nil
		},
	}
	svc := newPaymentServiceForTest(t, repo, &stubOrderServiceForPayments{}, gateway, now)

	_, err := svc.CreatePaymentSession(ctx, CreatePaymentSessionCommand{
		BuyerID:    "usr_bisi",
		OrderIDs:   []string{"ord_01"},
		SuccessURL: "https://sokomart.example/pay/success",
		CancelURL:  "https://sokomart.example/pay/cancel",
	})
	if !errors.Is(err, ErrPaymentUnauthorized) {
		t.Fatalf("expected ErrPaymentUnauthorized, got %v", err)
	}
}

func TestPaymentServiceCreateSessionRejectsNonPendingOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

	repo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			order := pendingOrderFixture(id, "usr_bisi", 500)
			order.Status = domain.OrderStatusPaid
			return order, nil
		},
	}
	svc := newPaymentServiceForTest(t, repo, &stubOrderServiceForPayments{}, &stubPaymentGateway{}, now)

	_, err := svc.CreatePaymentSession(ctx, CreatePaymentSessionCommand{
		BuyerID:    "usr_bisi",
		OrderIDs:   []string{"ord_01"},
		SuccessURL: "https://sokomart.example/pay/success",
		CancelURL:  "https://sokomart.example/pay/cancel",
	})
	if !errors.Is(err, ErrPaymentOrderNotPayable) {
		t.Fatalf("expected ErrPaymentOrderNotPayable, got %v", err)
	}
}

func TestPaymentServiceWebhookConfirmsOnSuccessEvent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

	var gotCmd ConfirmPaymentCommand
	orderSvc := &stubOrderServiceForPayments{
		confirmFn: func(_ context.Context, cmd ConfirmPaymentCommand) ([]Order, error) {
			gotCmd = cmd
			return []Order{{ID: "ord_01", Status: domain.OrderStatusPaid}}, nil
		},
	}
	svc := newPaymentServiceForTest(t, &stubOrderRepo{}, orderSvc, &stubPaymentGateway{}, now)

	err := svc.RecordWebhookEvent(ctx, PaymentWebhookCommand{
		Provider:  "stripe",
		EventType: "checkout.session.completed",
		Reference: "cs_test_123",
		EventID:   "evt_001",
	})
	if err != nil {
		t.Fatalf("RecordWebhookEvent returned error: %v", err)
	}
	if gotCmd.PaymentReference != "cs_test_123" {
		t.Fatalf("expected confirmation for cs_test_123, got %q", gotCmd.PaymentReference)
	}
	if gotCmd.ActorID != "stripe" {
		t.Fatalf("expected provider as actor, got %q", gotCmd.ActorID)
	}
}

func TestPaymentServiceWebhookIgnoresNonSuccessEvents(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

	orderSvc := &stubOrderServiceForPayments{
		confirmFn: func(context.Context, ConfirmPaymentCommand) ([]Order, error) {
			t.Fatal("confirmation must not run for non-success events")
			return nil, nil
		},
	}
	svc := newPaymentServiceForTest(t, &stubOrderRepo{}, orderSvc, &stubPaymentGateway{}, now)

	err := svc.RecordWebhookEvent(ctx, PaymentWebhookCommand{
		Provider:  "stripe",
		EventType: "checkout.session.expired",
		Reference: "cs_test_123",
		EventID:   "evt_002",
	})
	if err != nil {
		t.Fatalf("RecordWebhookEvent returned error: %v", err)
	}
}

func TestPaymentServiceWebhookUnknownReference(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

	orderSvc := &stubOrderServiceForPayments{
		confirmFn: func(context.Context, ConfirmPaymentCommand) ([]Order, error) {
			return nil, ErrOrderNotFound
		},
	}
	svc := newPaymentServiceForTest(t, &stubOrderRepo{}, orderSvc, &stubPaymentGateway{}, now)

	err := svc.RecordWebhookEvent(ctx, PaymentWebhookCommand{
		Provider:  "stripe",
		EventType: "payment_intent.succeeded",
		Reference: "cs_missing",
		EventID:   "evt_003",
	})
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}
