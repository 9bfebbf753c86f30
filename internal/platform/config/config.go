package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultEnvironmentLabel = "local"
	defaultTaskJWKSURL      = "https://www.googleapis.com/oauth2/v3/certs"
	defaultTaskIssuer       = "https://accounts.google.com"
	defaultTaskIAPIssuer    = "https://cloud.google.com/iap"

	defaultCallbackSignatureHeader = "X-Signature"
	defaultCallbackTimestampHeader = "X-Signature-Timestamp"
	defaultCallbackNonceHeader     = "X-Signature-Nonce"
	defaultCallbackMaxSkew         = 5 * time.Minute
	defaultCallbackReplayWindow    = 5 * time.Minute

	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures the marketplace API's runtime configuration,
// organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PSP         PSPConfig
	Features    FeatureFlags
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings used for buyer and
// store-staff authentication.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig names the media bucket and the service-account key
// used for signing upload and download URLs.
type StorageConfig struct {
	MediaBucket string
	SignerKey   string
}

// PSPConfig collects payment provider credentials.
type PSPConfig struct {
	StripeAPIKey string
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	EnableCourierCallbacks bool
	EnableExpirySweep      bool
}

// SecurityConfig groups server-to-server authentication settings:
// Google-signed tokens on internal task routes and shared-secret
// signatures on courier and PSP callbacks.
type SecurityConfig struct {
	Environment string
	Tasks       TaskAuthConfig
	Callbacks   CallbackAuthConfig
}

// TaskAuthConfig controls Google ID token verification on the
// scheduler-invoked task routes. Audiences maps an environment label
// to its audience so one deployment manifest can serve every stage.
type TaskAuthConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// CallbackAuthConfig captures the signature expectations for courier
// and PSP callbacks. Secrets is keyed by provider path, for example
// "couriers/gig"; DefaultSecret backs providers without their own key.
type CallbackAuthConfig struct {
	Secrets         map[string]string
	DefaultSecret   string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	MaxSkew         time.Duration
	ReplayWindow    time.Duration
}

// IdempotencyConfig controls the idempotency middleware and its
// cleanup sweep.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError is returned when required configuration fields are
// missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing or invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment
// lookups. Values in the map take precedence over process env vars.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading the process environment, relying
// only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as
// mandatory. Identifiers match the config field names recorded by the
// loader, for example "PSP.StripeAPIKey" or
// "Security.Callbacks.Secrets[couriers/gig]".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required
// secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// Load assembles the configuration from defaults, .env overrides,
// environment variables and secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotenv, err := parseEnvFile(options.envFile)
	if err != nil {
		return Config{}, err
	}
	env := envSource{explicit: options.envMap, system: options.useSystemEnv, dotenv: dotenv}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.dur("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.dur("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.dur("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			MediaBucket: env.str("API_STORAGE_MEDIA_BUCKET", ""),
			SignerKey:   env.str("API_STORAGE_SIGNER_KEY", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey: env.str("API_PSP_STRIPE_API_KEY", ""),
		},
		Features: FeatureFlags{
			EnableCourierCallbacks: env.flag("API_FEATURE_COURIER_CALLBACKS", true),
			EnableExpirySweep:      env.flag("API_FEATURE_EXPIRY_SWEEP", true),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("API_SECURITY_ENVIRONMENT", defaultEnvironmentLabel)),
			Tasks: TaskAuthConfig{
				JWKSURL:   env.str("API_SECURITY_TASKS_JWKS_URL", defaultTaskJWKSURL),
				Audience:  env.str("API_SECURITY_TASKS_AUDIENCE", ""),
				Audiences: env.pairs("API_SECURITY_TASKS_AUDIENCES"),
				Issuers:   env.csv("API_SECURITY_TASKS_ISSUERS"),
			},
			Callbacks: CallbackAuthConfig{
				Secrets:         env.pairs("API_SECURITY_CALLBACK_SECRETS"),
				DefaultSecret:   env.str("API_SECURITY_CALLBACK_DEFAULT_SECRET", ""),
				SignatureHeader: env.str("API_SECURITY_CALLBACK_HEADER_SIGNATURE", defaultCallbackSignatureHeader),
				TimestampHeader: env.str("API_SECURITY_CALLBACK_HEADER_TIMESTAMP", defaultCallbackTimestampHeader),
				NonceHeader:     env.str("API_SECURITY_CALLBACK_HEADER_NONCE", defaultCallbackNonceHeader),
				MaxSkew:         env.dur("API_SECURITY_CALLBACK_MAX_SKEW", defaultCallbackMaxSkew),
				ReplayWindow:    env.dur("API_SECURITY_CALLBACK_REPLAY_WINDOW", defaultCallbackReplayWindow),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.dur("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.dur("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.num("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	cfg.applyDerivedDefaults()

	resolved, err := cfg.resolveSecrets(ctx, options.secret)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

// applyDerivedDefaults fills fields whose defaults depend on other
// fields: the Firestore project falls back to the Firebase project,
// issuers default to Google's, and the task audience can be picked
// from the per-environment map.
func (cfg *Config) applyDerivedDefaults() {
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}

	if len(cfg.Security.Tasks.Issuers) == 0 {
		cfg.Security.Tasks.Issuers = []string{defaultTaskIssuer, defaultTaskIAPIssuer}
	}

	if cfg.Security.Tasks.Audience == "" && cfg.Security.Tasks.Audiences != nil {
		if audience, ok := cfg.Security.Tasks.Audiences[strings.ToLower(cfg.Security.Environment)]; ok {
			cfg.Security.Tasks.Audience = audience
		}
	}
}

// resolveSecrets replaces secret:// references with their values and
// returns the map of resolved field names used for required-secret
// checks.
func (cfg *Config) resolveSecrets(ctx context.Context, resolver SecretResolver) (map[string]string, error) {
	resolved := make(map[string]string)

	fields := []struct {
		name  string
		field *string
	}{
		{"Storage.SignerKey", &cfg.Storage.SignerKey},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"Security.Callbacks.DefaultSecret", &cfg.Security.Callbacks.DefaultSecret},
	}
	for _, target := range fields {
		value, err := resolveSecretValue(ctx, *target.field, resolver)
		if err != nil {
			return nil, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	for key, value := range cfg.Security.Callbacks.Secrets {
		resolvedValue, err := resolveSecretValue(ctx, value, resolver)
		if err != nil {
			return nil, err
		}
		cfg.Security.Callbacks.Secrets[key] = resolvedValue
		resolved[fmt.Sprintf("Security.Callbacks.Secrets[%s]", key)] = strings.TrimSpace(resolvedValue)
	}

	return resolved, nil
}

func (cfg Config) validate() error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if cfg.Storage.MediaBucket == "" {
		missing = append(missing, "Storage.MediaBucket")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}
