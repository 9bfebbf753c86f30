package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Courier and PSP callbacks carry a shared-secret signature over
// method, path, timestamp, nonce and the SHA-256 of the body. The
// verifier checks the signature, bounds the timestamp and rejects
// nonce replays before the webhook handlers run.

const (
	callbackSignatureHeader = "X-Signature"
	callbackTimestampHeader = "X-Signature-Timestamp"
	callbackNonceHeader     = "X-Signature-Nonce"

	defaultCallbackMaxSkew      = 5 * time.Minute
	defaultCallbackReplayWindow = 5 * time.Minute
)

// CallbackSecrets resolves the shared secret for a callback provider
// such as "couriers/gig" or "payments/stripe".
type CallbackSecrets interface {
	CallbackSecret(ctx context.Context, provider string) (string, error)
}

// CallbackSecretsFunc adapts a function to CallbackSecrets.
type CallbackSecretsFunc func(context.Context, string) (string, error)

// CallbackSecret implements CallbackSecrets.
func (f CallbackSecretsFunc) CallbackSecret(ctx context.Context, provider string) (string, error) {
	if f == nil {
		return "", errors.New("auth: callback secrets not configured")
	}
	return f(ctx, provider)
}

// ReplayCache remembers delivery nonces so a captured callback cannot
// be submitted twice. Remember reports true when the nonce was fresh.
type ReplayCache interface {
	Remember(ctx context.Context, provider, nonce string, until time.Time) (bool, error)
}

// MemoryReplayCache keeps nonces in process memory. Suitable for a
// single instance; swap in a shared store when running more than one.
type MemoryReplayCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryReplayCache constructs an empty cache.
func NewMemoryReplayCache() *MemoryReplayCache {
	return &MemoryReplayCache{seen: make(map[string]time.Time)}
}

// Remember records the nonce until the given deadline, evicting
// expired entries as it goes.
func (c *MemoryReplayCache) Remember(_ context.Context, provider, nonce string, until time.Time) (bool, error) {
	if provider == "" || nonce == "" {
		return false, errors.New("auth: provider and nonce are required")
	}
	if until.Before(time.Now()) {
		return false, errors.New("auth: replay deadline already passed")
	}

	key := provider + "\x00" + nonce

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, deadline := range c.seen {
		if deadline.Before(now) {
			delete(c.seen, k)
		}
	}

	if deadline, ok := c.seen[key]; ok && deadline.After(now) {
		return false, nil
	}
	c.seen[key] = until
	return true, nil
}

// Delivery describes a verified callback for downstream handlers.
type Delivery struct {
	Provider  string
	Timestamp time.Time
	Nonce     string
}

type deliveryContextKey struct{}

// WithDelivery stores the verified delivery on the context.
func WithDelivery(ctx context.Context, d *Delivery) context.Context {
	if d == nil {
		return ctx
	}
	return context.WithValue(ctx, deliveryContextKey{}, d)
}

// DeliveryFromContext retrieves the delivery recorded by the verifier.
func DeliveryFromContext(ctx context.Context) (*Delivery, bool) {
	d, ok := ctx.Value(deliveryContextKey{}).(*Delivery)
	if !ok || d == nil {
		return nil, false
	}
	return d, true
}

// CallbackVerifier authenticates signed courier and PSP callbacks.
type CallbackVerifier struct {
	secrets CallbackSecrets
	replays ReplayCache

	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time

	sigHeader   string
	tsHeader    string
	nonceHeader string

	maxSkew      time.Duration
	replayWindow time.Duration
}

// CallbackOption customises the verifier.
type CallbackOption func(*CallbackVerifier)

// NewCallbackVerifier builds a verifier over the given secret source
// and replay cache.
func NewCallbackVerifier(secrets CallbackSecrets, replays ReplayCache, opts ...CallbackOption) *CallbackVerifier {
	v := &CallbackVerifier{
		secrets:      secrets,
		replays:      replays,
		logger:       log.Default(),
		now:          time.Now,
		sigHeader:    callbackSignatureHeader,
		tsHeader:     callbackTimestampHeader,
		nonceHeader:  callbackNonceHeader,
		maxSkew:      defaultCallbackMaxSkew,
		replayWindow: defaultCallbackReplayWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithCallbackLogger overrides the verifier logger.
func WithCallbackLogger(logger Logger) CallbackOption {
	return func(v *CallbackVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithCallbackMetrics sets the metrics recorder.
func WithCallbackMetrics(metrics MetricsRecorder) CallbackOption {
	return func(v *CallbackVerifier) {
		v.metrics = metrics
	}
}

// WithCallbackClock injects a custom clock, primarily for tests.
func WithCallbackClock(now func() time.Time) CallbackOption {
	return func(v *CallbackVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithCallbackHeaders customises the signature header names.
func WithCallbackHeaders(signature, timestamp, nonce string) CallbackOption {
	return func(v *CallbackVerifier) {
		if signature != "" {
			v.sigHeader = signature
		}
		if timestamp != "" {
			v.tsHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithCallbackMaxSkew bounds how far a delivery timestamp may drift
// from server time.
func WithCallbackMaxSkew(d time.Duration) CallbackOption {
	return func(v *CallbackVerifier) {
		if d > 0 {
			v.maxSkew = d
		}
	}
}

// WithCallbackReplayWindow sets how long nonces are retained.
func WithCallbackReplayWindow(d time.Duration) CallbackOption {
	return func(v *CallbackVerifier) {
		if d > 0 {
			v.replayWindow = d
		}
	}
}

// callbackReject carries the response written for a failed check.
type callbackReject struct {
	status  int
	code    string
	message string
	reason  string
}

// VerifyCallback resolves the provider for each request and enforces
// its signature. Requests for unknown providers are rejected before
// any body is read.
func (v *CallbackVerifier) VerifyCallback(resolve func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()

			if resolve == nil {
				v.record(ctx, false, "resolver_not_configured", start)
				respondAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "callback provider resolver not configured")
				return
			}

			provider, ok := resolve(r)
			if !ok || strings.TrimSpace(provider) == "" {
				v.record(ctx, false, "provider_unknown", start)
				respondAuthError(ctx, w, http.StatusUnauthorized, "unknown_provider", "callback provider not recognised")
				return
			}

			delivery, reject := v.check(r, strings.TrimSpace(provider))
			if reject != nil {
				v.record(ctx, false, reject.reason, start)
				respondAuthError(ctx, w, reject.status, reject.code, reject.message)
				return
			}

			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithDelivery(ctx, delivery)))
		})
	}
}

func (v *CallbackVerifier) check(r *http.Request, provider string) (*Delivery, *callbackReject) {
	ctx := r.Context()

	if v.secrets == nil {
		return nil, &callbackReject{http.StatusServiceUnavailable, "verification_unavailable", "callback secrets not configured", "secret_not_configured"}
	}
	secret, err := v.secrets.CallbackSecret(ctx, provider)
	if err != nil || secret == "" {
		if err != nil && v.logger != nil {
			v.logger.Printf("auth: callback secret lookup failed for %s: %v", provider, err)
		}
		return nil, &callbackReject{http.StatusServiceUnavailable, "verification_unavailable", "callback secret unavailable", "secret_unavailable"}
	}

	sigValue := strings.TrimSpace(r.Header.Get(v.sigHeader))
	if sigValue == "" {
		return nil, &callbackReject{http.StatusUnauthorized, "signature_missing", "signature header missing", "signature_missing"}
	}
	tsValue := strings.TrimSpace(r.Header.Get(v.tsHeader))
	if tsValue == "" {
		return nil, &callbackReject{http.StatusUnauthorized, "timestamp_missing", "signature timestamp missing", "timestamp_missing"}
	}
	nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
	if nonce == "" {
		return nil, &callbackReject{http.StatusUnauthorized, "nonce_missing", "signature nonce missing", "nonce_missing"}
	}

	timestamp, err := parseDeliveryTimestamp(tsValue)
	if err != nil {
		return nil, &callbackReject{http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid", "timestamp_invalid"}
	}
	if drift := v.now().Sub(timestamp); drift > v.maxSkew || drift < -v.maxSkew {
		return nil, &callbackReject{http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window", "timestamp_skew"}
	}

	body, err := bufferBody(r)
	if err != nil {
		return nil, &callbackReject{http.StatusBadRequest, "invalid_body", "unable to read body for signature verification", "body_unreadable"}
	}

	got, err := decodeDeliverySignature(sigValue)
	if err != nil {
		return nil, &callbackReject{http.StatusUnauthorized, "signature_invalid", "signature encoding invalid", "signature_invalid"}
	}
	want := signDelivery(secret, signedPayload(r, body, tsValue, nonce))
	if !hmac.Equal(got, want) {
		return nil, &callbackReject{http.StatusUnauthorized, "signature_mismatch", "signature verification failed", "signature_mismatch"}
	}

	if v.replays == nil {
		return nil, &callbackReject{http.StatusServiceUnavailable, "verification_unavailable", "replay cache unavailable", "replay_cache_unavailable"}
	}
	until := timestamp.Add(v.replayWindow)
	if until.Before(v.now()) {
		until = v.now().Add(v.replayWindow)
	}
	fresh, err := v.replays.Remember(ctx, provider, nonce, until)
	if err != nil {
		if v.logger != nil {
			v.logger.Printf("auth: replay cache error for %s: %v", provider, err)
		}
		return nil, &callbackReject{http.StatusServiceUnavailable, "verification_unavailable", "replay cache error", "replay_cache_error"}
	}
	if !fresh {
		return nil, &callbackReject{http.StatusUnauthorized, "nonce_replay", "duplicate delivery nonce", "nonce_replay"}
	}

	return &Delivery{Provider: provider, Timestamp: timestamp, Nonce: nonce}, nil
}

func (v *CallbackVerifier) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "callback", success, reason, v.now().Sub(start))
}

// bufferBody reads the body and replaces it so the webhook handler can
// read it again.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

// signedPayload builds the byte string both sides sign: method, path,
// timestamp, nonce and the hex SHA-256 of the body, newline separated.
func signedPayload(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	digest := sha256.Sum256(body)

	var b bytes.Buffer
	b.WriteString(strings.ToUpper(r.Method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(timestamp)
	b.WriteByte('\n')
	b.WriteString(nonce)
	b.WriteByte('\n')
	b.WriteString(hex.EncodeToString(digest[:]))
	return b.Bytes()
}

func signDelivery(secret string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}

// decodeDeliverySignature accepts base64 or hex encoded signatures.
func decodeDeliverySignature(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

// parseDeliveryTimestamp accepts RFC3339 or unix seconds, matching the
// formats the courier integrations actually send.
func parseDeliveryTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}
