package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var guardTestTime = time.Date(2026, time.February, 3, 9, 0, 0, 0, time.UTC)

func newGuardedHandler(t *testing.T, store Store, next http.Handler) http.Handler {
	t.Helper()
	mw := Middleware(store, WithClock(func() time.Time { return guardTestTime }))
	return mw(next)
}

func postOrder(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/checkout/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func decodeGuardError(t *testing.T, payload []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return body.Error
}

func TestMiddlewareRequiresKeyHeader(t *testing.T) {
	handlerCalled := false
	handler := newGuardedHandler(t, NewMemoryStore(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		handlerCalled = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, postOrder(`{"cartId":"cart_1"}`, ""))

	if handlerCalled {
		t.Fatal("handler must not run without an idempotency key")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if code := decodeGuardError(t, rr.Body.Bytes()); code != "idempotency_key_required" {
		t.Fatalf("error code = %s", code)
	}
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := newGuardedHandler(t, NewMemoryStore(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderId":"ord_1"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postOrder(`{"cartId":"cart_1"}`, "co-abc-123"))
	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, postOrder(`{"cartId":"cart_1"}`, "co-abc-123"))

	if calls != 1 {
		t.Fatalf("handler ran again on replay, calls = %d", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, want 201", second.Code)
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatal("replay marker header missing")
	}
	if got := second.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("replayed content-type = %s", got)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body = %s, want %s", second.Body.String(), first.Body.String())
	}
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	handler := newGuardedHandler(t, NewMemoryStore(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postOrder(`{"cartId":"cart_1"}`, "co-same-key"))
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, postOrder(`{"cartId":"cart_2"}`, "co-same-key"))

	if second.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", second.Code)
	}
	if code := decodeGuardError(t, second.Body.Bytes()); code != "idempotency_key_conflict" {
		t.Fatalf("error code = %s", code)
	}
}

func TestMiddlewareRejectsInFlightDuplicate(t *testing.T) {
	store := NewMemoryStore()
	handler := newGuardedHandler(t, store, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is in flight")
	}))

	req := postOrder(`{"cartId":"cart_1"}`, "co-pending")
	body, err := snapshotBody(req)
	if err != nil {
		t.Fatalf("snapshot body: %v", err)
	}
	requester := requesterID(req.Context())
	fingerprint := fingerprintRequest(req, body, requester)
	claim, err := store.Claim(req.Context(), scopeKey("co-pending", requester), fingerprint, guardTestTime, time.Hour)
	if err != nil {
		t.Fatalf("seed claim: %v", err)
	}
	if claim.Outcome != OutcomeNew {
		t.Fatalf("seed outcome = %d, want OutcomeNew", claim.Outcome)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	if code := decodeGuardError(t, rr.Body.Bytes()); code != "idempotency_in_progress" {
		t.Fatalf("error code = %s", code)
	}
}

func TestMiddlewareReleasesClaimWhenPersistFails(t *testing.T) {
	store := &failingStore{completeErr: errors.New("firestore unavailable")}
	handler := newGuardedHandler(t, store, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderId":"ord_1"}`))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, postOrder(`{"cartId":"cart_1"}`, "co-fail"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if code := decodeGuardError(t, rr.Body.Bytes()); code != "idempotency_store_error" {
		t.Fatalf("error code = %s", code)
	}
	if !store.released {
		t.Fatal("claim must be released when the response cannot be persisted")
	}
}

func TestMiddlewareIgnoresUnguardedMethods(t *testing.T) {
	var calls int
	handler := newGuardedHandler(t, NewMemoryStore(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

type failingStore struct {
	completeErr error
	released    bool
}

func (s *failingStore) Claim(context.Context, string, string, time.Time, time.Duration) (Claim, error) {
	return Claim{Outcome: OutcomeNew}, nil
}

func (s *failingStore) Complete(context.Context, string, string, Response, time.Time, time.Duration) error {
	return s.completeErr
}

func (s *failingStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *failingStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}
