package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func requireAuth(t *testing.T, verifier TokenVerifier, header string) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()

	var seen *Identity
	handler := NewAuthenticator(verifier).RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		seen = identity
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, seen
}

func TestRequireFirebaseAuthBuildsStaffIdentity(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "usr_staff_1",
			Claims: map[string]interface{}{
				"role":  []interface{}{"staff", "Staff", "admin"},
				"email": "amaka@bolastores.ng",
			},
		},
	}

	rr, identity := requireAuth(t, verifier, "Bearer staff-token")

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if verifier.received != "staff-token" {
		t.Fatalf("verifier received %q", verifier.received)
	}
	if identity.UID != "usr_staff_1" || identity.Email != "amaka@bolastores.ng" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if len(identity.Roles) != 2 || !identity.HasRole(RoleStaff) || !identity.HasRole(RoleAdmin) {
		t.Fatalf("expected deduplicated staff+admin roles, got %v", identity.Roles)
	}
}

func TestRequireFirebaseAuthDefaultsToBuyer(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{UID: "usr_1", Claims: map[string]interface{}{}},
	}

	rr, identity := requireAuth(t, verifier, "Bearer buyer-token")

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if len(identity.Roles) != 1 || identity.Roles[0] != RoleBuyer {
		t.Fatalf("expected buyer fallback role, got %v", identity.Roles)
	}
}

func TestRequireFirebaseAuthRejectsMissingHeader(t *testing.T) {
	rr, _ := requireAuth(t, &stubTokenVerifier{}, "")

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "unauthenticated" {
		t.Fatalf("expected unauthenticated, got %v", body["error"])
	}
}

func TestRequireFirebaseAuthRejectsExpiredToken(t *testing.T) {
	rr, _ := requireAuth(t, &stubTokenVerifier{err: ErrTokenExpired}, "Bearer expired")

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "token_expired" {
		t.Fatalf("expected token_expired, got %v", body["error"])
	}
}

func TestClaimRolesShapes(t *testing.T) {
	cases := []struct {
		name   string
		claims map[string]interface{}
		want   []string
	}{
		{"single string", map[string]interface{}{"role": "Admin"}, []string{"admin"}},
		{"list with junk", map[string]interface{}{"role": []interface{}{"staff", 7, " "}}, []string{"staff"}},
		{"missing", map[string]interface{}{}, nil},
		{"unsupported shape", map[string]interface{}{"role": map[string]interface{}{"staff": true}}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := claimRoles(tc.claims)
			if len(got) != len(tc.want) {
				t.Fatalf("claimRoles = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("claimRoles = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	if _, ok := bearerToken("Basic abc"); ok {
		t.Fatal("expected Basic scheme to be rejected")
	}
	if _, ok := bearerToken("Bearer  "); ok {
		t.Fatal("expected blank token to be rejected")
	}
	token, ok := bearerToken("bearer abc123")
	if !ok || token != "abc123" {
		t.Fatalf("bearerToken = %q, %v", token, ok)
	}
}
