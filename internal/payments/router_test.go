package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeGateway struct {
	lastOp  string
	session Session
	refund  RefundResult
	err     error
}

func (f *fakeGateway) CreateSession(ctx context.Context, params SessionParams) (Session, error) {
	f.lastOp = "session"
	return f.session, f.err
}

func (f *fakeGateway) Refund(ctx context.Context, params RefundParams) (RefundResult, error) {
	f.lastOp = "refund"
	return f.refund, f.err
}

func TestRouterHonoursCallerProvider(t *testing.T) {
	ctx := context.Background()
	stripeGw := &fakeGateway{session: Session{ID: "sess_stripe"}}
	paystack := &fakeGateway{session: Session{ID: "sess_paystack"}}

	router, err := NewRouter(map[string]Provider{
		"stripe":   stripeGw,
		"paystack": paystack,
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	session, err := router.CreateSession(ctx, RouteHint{Provider: "Paystack"}, SessionParams{Currency: "NGN"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Provider != "paystack" {
		t.Fatalf("expected paystack, got %q", session.Provider)
	}
	if paystack.lastOp != "session" || stripeGw.lastOp != "" {
		t.Fatalf("expected only paystack to handle the call")
	}
}

func TestRouterRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	stripeGw := &fakeGateway{session: Session{ID: "sess_stripe"}}
	paystack := &fakeGateway{session: Session{ID: "sess_paystack"}}

	router, err := NewRouter(
		map[string]Provider{"stripe": stripeGw, "paystack": paystack},
		WithCurrencyRoutes(map[string]string{"ngn": "paystack"}),
	)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	session, err := router.CreateSession(ctx, RouteHint{Currency: "NGN"}, SessionParams{Currency: "NGN"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Provider != "paystack" {
		t.Fatalf("expected currency route to pick paystack, got %q", session.Provider)
	}
}

func TestRouterSingleProviderIsFallback(t *testing.T) {
	ctx := context.Background()
	stripeGw := &fakeGateway{refund: RefundResult{RefundID: "re_1", Status: StatusRefunded}}

	router, err := NewRouter(map[string]Provider{"stripe": stripeGw})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	result, err := router.Refund(ctx, RouteHint{}, RefundParams{Reference: "cs_123"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if stripeGw.lastOp != "refund" {
		t.Fatalf("expected the only provider to take the refund")
	}
	if result.Provider != "stripe" {
		t.Fatalf("expected provider stamped onto result, got %q", result.Provider)
	}
}

func TestRouterNoMatch(t *testing.T) {
	ctx := context.Background()
	router, err := NewRouter(map[string]Provider{
		"stripe":   &fakeGateway{},
		"paystack": &fakeGateway{},
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	_, err = router.CreateSession(ctx, RouteHint{Provider: "unknown", Currency: "USD"}, SessionParams{})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewRouterValidatesRegistrations(t *testing.T) {
	if _, err := NewRouter(map[string]Provider{"bad": nil}); err == nil {
		t.Fatal("expected error for nil provider")
	}
	if _, err := NewRouter(nil); err == nil {
		t.Fatal("expected error for empty registration")
	}
}
