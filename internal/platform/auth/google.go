package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

// Internal task routes (the pending-order expiry sweep) are invoked by
// Cloud Scheduler with a Google-signed ID token. TaskVerifier checks
// the signature against Google's published JWKS and pins the expected
// audience and issuers before the task handlers run.

// ErrGoogleKeysUnavailable wraps transport or decoding failures while
// loading Google's signing keys.
var ErrGoogleKeysUnavailable = errors.New("auth: google signing keys unavailable")

// Logger captures the minimal logging contract used by the auth package.
type Logger interface {
	Printf(format string, args ...any)
}

// MetricsRecorder records verification outcomes for observability.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

const (
	defaultKeySetTTL          = 15 * time.Minute
	defaultKeySetFetchTimeout = 5 * time.Second
)

// GoogleKeySet fetches and caches Google's JWKS document. Keys are
// refetched when the cache goes stale or an unknown key ID shows up
// after a rotation.
type GoogleKeySet struct {
	url    string
	client *http.Client
	logger Logger
	now    func() time.Time
	ttl    time.Duration

	mu      sync.Mutex
	keys    map[string]jose.JSONWebKey
	staleAt time.Time
}

// GoogleKeySetOption customises the key set.
type GoogleKeySetOption func(*GoogleKeySet)

// NewGoogleKeySet constructs a key set for the given JWKS URL.
func NewGoogleKeySet(url string, opts ...GoogleKeySetOption) *GoogleKeySet {
	s := &GoogleKeySet{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: log.Default(),
		now:    time.Now,
		ttl:    defaultKeySetTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// WithKeySetHTTPClient overrides the HTTP client used for fetches.
func WithKeySetHTTPClient(client *http.Client) GoogleKeySetOption {
	return func(s *GoogleKeySet) {
		if client != nil {
			s.client = client
		}
	}
}

// WithKeySetLogger sets a custom logger.
func WithKeySetLogger(logger Logger) GoogleKeySetOption {
	return func(s *GoogleKeySet) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithKeySetTTL overrides the fallback cache lifetime used when the
// JWKS response carries no max-age.
func WithKeySetTTL(d time.Duration) GoogleKeySetOption {
	return func(s *GoogleKeySet) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithKeySetClock injects a custom time source for tests.
func WithKeySetClock(now func() time.Time) GoogleKeySetOption {
	return func(s *GoogleKeySet) {
		if now != nil {
			s.now = now
		}
	}
}

// Keyfunc returns a jwt.Keyfunc backed by the cached key set. Only
// RS256 tokens with a key ID are accepted.
func (s *GoogleKeySet) Keyfunc(ctx context.Context) jwt.Keyfunc {
	if ctx == nil {
		ctx = context.Background()
	}
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Method)
		}
		return s.key(ctx, kid)
	}
}

func (s *GoogleKeySet) key(ctx context.Context, kid string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.keys) == 0 || !s.now().Before(s.staleAt) {
		if err := s.fetchLocked(ctx); err != nil {
			return nil, err
		}
	}
	if jwk, ok := s.keys[kid]; ok {
		return jwk.Key, nil
	}

	// Unknown kid can mean Google rotated keys inside our TTL.
	if err := s.fetchLocked(ctx); err != nil {
		return nil, err
	}
	if jwk, ok := s.keys[kid]; ok {
		return jwk.Key, nil
	}
	return nil, fmt.Errorf("auth: no signing key with id %q", kid)
}

func (s *GoogleKeySet) fetchLocked(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, defaultKeySetFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGoogleKeysUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGoogleKeysUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrGoogleKeysUnavailable, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrGoogleKeysUnavailable, err)
	}

	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID == "" || !jwk.Valid() {
			continue
		}
		keys[jwk.KeyID] = jwk
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrGoogleKeysUnavailable)
	}

	lifetime := s.ttl
	if maxAge := maxAgeFromCacheControl(resp.Header.Get("Cache-Control")); maxAge > 0 {
		lifetime = maxAge
	}

	s.keys = keys
	s.staleAt = s.now().Add(lifetime)

	if s.logger != nil {
		s.logger.Printf("auth: loaded %d google signing keys (valid for %s)", len(keys), lifetime)
	}
	return nil
}

func maxAgeFromCacheControl(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if !strings.HasPrefix(part, "max-age=") {
			continue
		}
		if seconds, err := strconv.ParseInt(part[len("max-age="):], 10, 64); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// ServiceIdentity captures the authenticated service principal for
// internal task routes.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
	Claims   map[string]any
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity attaches the verified service identity to the
// request context.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext retrieves the identity stored by the
// middleware.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// TaskVerifier authenticates Google-signed ID tokens on internal task
// routes.
type TaskVerifier struct {
	keys    *GoogleKeySet
	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// TaskVerifierOption customises the verifier.
type TaskVerifierOption func(*TaskVerifier)

// NewTaskVerifier constructs a TaskVerifier over the given key set.
func NewTaskVerifier(keys *GoogleKeySet, opts ...TaskVerifierOption) *TaskVerifier {
	v := &TaskVerifier{
		keys:   keys,
		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithTaskLogger overrides the verifier logger.
func WithTaskLogger(logger Logger) TaskVerifierOption {
	return func(v *TaskVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithTaskMetrics sets the metrics recorder.
func WithTaskMetrics(metrics MetricsRecorder) TaskVerifierOption {
	return func(v *TaskVerifier) {
		v.metrics = metrics
	}
}

// WithTaskClock injects a custom clock for tests.
func WithTaskClock(now func() time.Time) TaskVerifierOption {
	return func(v *TaskVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// RequireGoogleIDToken enforces a valid Google-signed ID token whose
// audience and issuer match the configured values.
func (v *TaskVerifier) RequireGoogleIDToken(audience string, issuers []string) func(http.Handler) http.Handler {
	wantAudience := strings.TrimSpace(audience)
	allowedIssuers := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowedIssuers[issuer] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()

			if wantAudience == "" {
				v.record(ctx, false, "audience_not_configured", start)
				respondAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "task audience not configured")
				return
			}
			if v.keys == nil {
				v.record(ctx, false, "keys_not_configured", start)
				respondAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "task token verification unavailable")
				return
			}

			tokenStr := taskToken(r)
			if tokenStr == "" {
				v.record(ctx, false, "token_missing", start)
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "task token missing")
				return
			}

			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			claims := jwt.MapClaims{}
			if _, err := parser.ParseWithClaims(tokenStr, claims, v.keys.Keyfunc(ctx)); err != nil {
				status, reason := http.StatusUnauthorized, "token_invalid"
				if errors.Is(err, ErrGoogleKeysUnavailable) {
					status, reason = http.StatusServiceUnavailable, "keys_unavailable"
				}
				if v.logger != nil {
					v.logger.Printf("auth: task token verification failed (%s): %v", reason, err)
				}
				v.record(ctx, false, reason, start)
				respondAuthError(ctx, w, status, "invalid_token", "task token verification failed")
				return
			}

			issuer, _ := claims["iss"].(string)
			if len(allowedIssuers) > 0 {
				if _, ok := allowedIssuers[issuer]; !ok {
					v.record(ctx, false, "issuer_mismatch", start)
					respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "task token issuer mismatch")
					return
				}
			}

			if !hasAudience(claims, wantAudience) {
				v.record(ctx, false, "audience_mismatch", start)
				respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "task token audience mismatch")
				return
			}

			subject, _ := claims["sub"].(string)
			email, _ := claims["email"].(string)
			identity := &ServiceIdentity{
				Subject:  subject,
				Email:    email,
				Issuer:   issuer,
				Audience: wantAudience,
				Claims:   map[string]any(claims),
			}

			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *TaskVerifier) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "task_token", success, reason, v.now().Sub(start))
}

// taskToken pulls the ID token from the Authorization header, falling
// back to the IAP assertion header.
func taskToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if bearer, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return bearer
	}
	return strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion"))
}

func hasAudience(claims jwt.MapClaims, want string) bool {
	switch aud := claims["aud"].(type) {
	case string:
		return strings.TrimSpace(aud) == want
	case []string:
		for _, item := range aud {
			if strings.TrimSpace(item) == want {
				return true
			}
		}
	case []any:
		for _, item := range aud {
			if str, ok := item.(string); ok && strings.TrimSpace(str) == want {
				return true
			}
		}
	}
	return false
}
