// Package secrets resolves secret:// references against Google Secret
// Manager. Resolved values are cached for the process lifetime, and a
// local dotenv-style file stands in when Secret Manager is unreachable,
// which is how local development runs.
package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/sokomart/api/internal/platform/secrets"
)

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type managerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Store resolves and caches secret references for one deployment
// environment.
type Store struct {
	client     managerClient
	ownsClient bool
	logger     *zap.Logger

	env            string
	defaultProject string
	projectByEnv   map[string]string
	versionPins    map[string]string

	fallbackPath string
	fallbackOnce sync.Once
	fallbackVals map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]string

	duration        metric.Float64Histogram
	durationEnabled bool
	cacheHits       metric.Int64Counter
	cacheHitsOK     bool
}

type storeConfig struct {
	logger       *zap.Logger
	env          string
	defaultProj  string
	projectByEnv map[string]string
	versionPins  map[string]string
	fallbackPath string
	meter        metric.Meter
	client       managerClient
	clientOpts   []option.ClientOption
}

// Option customises Store construction.
type Option func(*storeConfig)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *storeConfig) { cfg.logger = logger }
}

// WithEnvironment names the deployment environment used to pick the
// Secret Manager project and version pins.
func WithEnvironment(env string) Option {
	return func(cfg *storeConfig) { cfg.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject sets the project queried when no per-environment
// mapping matches.
func WithDefaultProject(projectID string) Option {
	return func(cfg *storeConfig) { cfg.defaultProj = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment names to Secret Manager projects.
func WithProjectMap(m map[string]string) Option {
	return func(cfg *storeConfig) { cfg.projectByEnv = copyStringMap(m) }
}

// WithVersionPins pins secrets to explicit versions, keyed by canonical
// reference or "env:reference".
func WithVersionPins(pins map[string]string) Option {
	return func(cfg *storeConfig) { cfg.versionPins = copyStringMap(pins) }
}

// WithFallbackFile points at the local secrets file used when Secret
// Manager cannot serve a reference.
func WithFallbackFile(path string) Option {
	return func(cfg *storeConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithMeter injects the OpenTelemetry meter, mainly for tests.
func WithMeter(m metric.Meter) Option {
	return func(cfg *storeConfig) { cfg.meter = m }
}

// WithManagerClient injects a preconfigured Secret Manager client,
// mainly for tests.
func WithManagerClient(client managerClient) Option {
	return func(cfg *storeConfig) { cfg.client = client }
}

// WithClientOptions forwards Cloud client options to the Secret Manager
// client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *storeConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// NewStore builds the store. A missing Secret Manager credential is not
// fatal; the store then serves from the fallback file only.
func NewStore(ctx context.Context, opts ...Option) (*Store, error) {
	cfg := storeConfig{
		logger:       zap.NewNop(),
		env:          strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT"))),
		fallbackPath: defaultFallbackPath,
	}
	if cfg.env == "" {
		cfg.env = defaultEnvironment
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	duration, durationErr := meter.Float64Histogram(
		"secrets.resolve.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent resolving a secret reference"),
	)
	if durationErr != nil {
		cfg.logger.Warn("secrets: unable to register duration metric", zap.Error(durationErr))
	}
	cacheHits, cacheErr := meter.Int64Counter(
		"secrets.resolve.cache_hits",
		metric.WithDescription("Secret resolutions served from the in-process cache"),
	)
	if cacheErr != nil {
		cfg.logger.Warn("secrets: unable to register cache hit metric", zap.Error(cacheErr))
	}

	s := &Store{
		logger:          cfg.logger,
		env:             cfg.env,
		defaultProject:  cfg.defaultProj,
		projectByEnv:    copyStringMap(cfg.projectByEnv),
		versionPins:     copyStringMap(cfg.versionPins),
		fallbackPath:    cfg.fallbackPath,
		cache:           make(map[string]string),
		duration:        duration,
		durationEnabled: durationErr == nil,
		cacheHits:       cacheHits,
		cacheHitsOK:     cacheErr == nil,
	}

	if cfg.client != nil {
		s.client = cfg.client
	} else {
		client, err := newSecretManagerClient(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager unavailable, serving fallback file only", zap.Error(err))
		} else {
			s.client = client
			s.ownsClient = true
		}
	}
	return s, nil
}

// Close releases the Secret Manager client if the store created it.
func (s *Store) Close() error {
	if s.ownsClient && s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Resolve returns the value behind a secret:// reference. Remote
// lookups hit Secret Manager once per reference and version; access and
// availability failures fall through to the local file, while not-found
// is surfaced so a typo does not silently pick up a stale local value.
func (s *Store) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := parseRef(raw)
	if err != nil {
		return "", err
	}

	version := s.pinnedVersion(ref)
	key := ref.canonical + "#" + version

	s.mu.RLock()
	value, hit := s.cache[key]
	s.mu.RUnlock()
	if hit {
		s.recordCacheHit(ctx, ref)
		s.recordDuration(ctx, time.Since(start), "cache")
		return value, nil
	}

	projectID := s.projectFor(ref)
	remoteReady := projectID != "" && s.client != nil

	if remoteReady {
		value, err := s.fetchRemote(ctx, projectID, ref.name, version)
		switch {
		case err == nil:
			s.storeCache(key, value)
			s.recordDuration(ctx, time.Since(start), "remote")
			return value, nil
		case !shouldFallback(err):
			s.recordDuration(ctx, time.Since(start), "error")
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", ref.canonical, err)
		}
		s.logger.Debug("secrets: falling back to local file", zap.String("ref", ref.canonical), zap.Error(err))
	}

	value, ok := s.lookupFallback(ref, version)
	if !ok {
		s.recordDuration(ctx, time.Since(start), "error")
		return "", fmt.Errorf("secrets: no fallback value for %s", ref.canonical)
	}
	s.storeCache(key, value)
	s.recordDuration(ctx, time.Since(start), "fallback")
	return value, nil
}

func (s *Store) storeCache(key, value string) {
	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()
}

func (s *Store) fetchRemote(ctx context.Context, projectID, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, name, version)
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resource)
	}
	return string(resp.Payload.GetData()), nil
}

func (s *Store) projectFor(r ref) string {
	if r.project != "" {
		return r.project
	}
	if id := strings.TrimSpace(s.projectByEnv[s.env]); id != "" {
		return id
	}
	return strings.TrimSpace(s.defaultProject)
}

func (s *Store) pinnedVersion(r ref) string {
	if r.version != "" {
		return r.version
	}
	if pin := strings.TrimSpace(s.versionPins[s.env+":"+r.canonical]); pin != "" {
		return pin
	}
	if pin := strings.TrimSpace(s.versionPins[r.canonical]); pin != "" {
		return pin
	}
	return "latest"
}

func (s *Store) lookupFallback(r ref, version string) (string, bool) {
	s.loadFallback()
	if s.fallbackErr != nil {
		s.logger.Debug("secrets: fallback file unreadable", zap.Error(s.fallbackErr))
		return "", false
	}
	if val, ok := s.fallbackVals[r.canonical+"#"+version]; ok {
		return val, true
	}
	val, ok := s.fallbackVals[r.canonical]
	return val, ok
}

// loadFallback reads the local secrets file once. Lines are
// "secret://name=value"; a missing file just means no fallbacks.
func (s *Store) loadFallback() {
	s.fallbackOnce.Do(func() {
		s.fallbackVals = map[string]string{}
		path := strings.TrimSpace(s.fallbackPath)
		if path == "" {
			return
		}
		absPath, err := filepath.Abs(path)
		if err != nil {
			absPath = path
		}
		file, err := os.Open(absPath)
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		if err != nil {
			s.fallbackErr = fmt.Errorf("secrets: unable to open %s: %w", absPath, err)
			return
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			rawKey, value, found := strings.Cut(line, "=")
			if !found {
				continue
			}
			rawKey = canonicalScheme(strings.TrimSpace(rawKey))
			value = strings.TrimSpace(value)
			if rawKey == "" {
				continue
			}
			if parsed, err := parseRef(rawKey); err == nil {
				version := parsed.version
				if version == "" {
					version = "latest"
				}
				s.fallbackVals[parsed.canonical] = value
				s.fallbackVals[parsed.canonical+"#"+version] = value
			} else {
				s.fallbackVals[rawKey] = value
			}
		}
		if err := scanner.Err(); err != nil {
			s.fallbackErr = fmt.Errorf("secrets: failed reading %s: %w", absPath, err)
		}
	})
}

func (s *Store) recordDuration(ctx context.Context, d time.Duration, source string) {
	if !s.durationEnabled {
		return
	}
	s.duration.Record(ctx, float64(d)/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

func (s *Store) recordCacheHit(ctx context.Context, r ref) {
	if !s.cacheHitsOK {
		return
	}
	s.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", redactRef(r.canonical))))
}

// ref is a parsed secret reference. version and project come from the
// optional query parameters of the same names.
type ref struct {
	canonical string
	name      string
	version   string
	project   string
}

func parseRef(raw string) (ref, error) {
	if strings.TrimSpace(raw) == "" {
		return ref{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ref{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return ref{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if name == "" {
		return ref{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""
	query := u.Query()

	return ref{
		canonical: canonical.String(),
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// shouldFallback reports whether the remote failure is an access or
// availability problem rather than a missing secret.
func shouldFallback(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func canonicalScheme(value string) string {
	if strings.HasPrefix(value, "sm://") {
		return "secret://" + strings.TrimPrefix(value, "sm://")
	}
	return value
}

func copyStringMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func redactRef(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:8])
}
