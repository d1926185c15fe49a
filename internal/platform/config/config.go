package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultSecurityEnvironment = "local"
	defaultStorageDriver       = StorageDriverMongo
	defaultMongoDatabase       = "pawmart"
	defaultMongoConnectTimeout = 10 * time.Second
	defaultMongoOpTimeout      = 5 * time.Second
	defaultNotifyPoolSize      = 16
	defaultNotifyMaxAttempts   = 3
	defaultNotifyRetryInitial  = 200 * time.Millisecond
	defaultNotifyRetryMax      = 2 * time.Second
	defaultNotifyLocale        = "en"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
	defaultPurgeSchedule       = "@daily"
	defaultSoftDeletedAge      = 30 * 24 * time.Hour
	defaultPurgeBatchSize      = 100
	defaultLogMaxSizeMB        = 100
	defaultLogMaxBackups       = 5
	defaultLogMaxAgeDays       = 14
	defaultCheckoutRateLimit   = 10
	defaultCheckoutRateWindow  = time.Minute
	defaultEventPublishTimeout = 10 * time.Second
	defaultEventQueueSize      = 256
)

// Storage drivers selectable through API_STORAGE_DRIVER.
const (
	StorageDriverMongo     = "mongo"
	StorageDriverFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Build         BuildConfig
	Logging       LoggingConfig
	Firebase      FirebaseConfig
	Storage       StorageConfig
	Mongo         MongoConfig
	Firestore     FirestoreConfig
	PubSub        PubSubConfig
	Notifications NotificationConfig
	Idempotency   IdempotencyConfig
	Retention     RetentionConfig
	Security      SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// BuildConfig carries release metadata surfaced by readiness probes.
type BuildConfig struct {
	Version   string
	CommitSHA string
}

// LoggingConfig enables an optional rotated log file next to stdout.
type LoggingConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// StorageConfig selects the document database backing repositories.
type StorageConfig struct {
	Driver string
}

// MongoConfig stores MongoDB connection parameters.
type MongoConfig struct {
	URI            string
	Database       string
	Transactions   bool
	ConnectTimeout time.Duration
	OpTimeout      time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig lists topics for outbound events. Empty topics disable publishing.
type PubSubConfig struct {
	ProjectID          string
	EmulatorHost       string
	OrderEventsTopic   string
	NotificationsTopic string
	PublishTimeout     time.Duration
	EventQueueSize     int
}

// NotificationConfig tunes the asynchronous notification dispatcher.
type NotificationConfig struct {
	PoolSize      int
	MaxAttempts   int
	RetryInitial  time.Duration
	RetryMax      time.Duration
	DefaultLocale string
	AdminLocale   string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// RetentionConfig controls the scheduled purge of soft-deleted orders.
type RetentionConfig struct {
	PurgeSchedule  string
	SoftDeletedAge time.Duration
	PurgeBatchSize int
}

// SecurityConfig groups environment level security settings. A zero CheckoutRateLimit
// disables per-user throttling of checkout.
type SecurityConfig struct {
	Environment        string
	CheckoutRateLimit  int
	CheckoutRateWindow time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed identifiers that are safe to log.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.names) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

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

// WithEnvMap injects an explicit key/value map that takes precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "Mongo.URI") that must resolve to a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	env, err := newEnvSource(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.String("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.Duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.Duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.Duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Build: BuildConfig{
			Version:   env.String("API_BUILD_VERSION", "dev"),
			CommitSHA: env.String("API_BUILD_COMMIT_SHA", ""),
		},
		Logging: LoggingConfig{
			File:       env.String("API_LOG_FILE", ""),
			MaxSizeMB:  env.Int("API_LOG_MAX_SIZE_MB", defaultLogMaxSizeMB),
			MaxBackups: env.Int("API_LOG_MAX_BACKUPS", defaultLogMaxBackups),
			MaxAgeDays: env.Int("API_LOG_MAX_AGE_DAYS", defaultLogMaxAgeDays),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.String("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.String("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(env.String("API_STORAGE_DRIVER", defaultStorageDriver)),
		},
		Mongo: MongoConfig{
			URI:            env.String("API_MONGO_URI", ""),
			Database:       env.String("API_MONGO_DATABASE", defaultMongoDatabase),
			Transactions:   env.Bool("API_MONGO_TRANSACTIONS", false),
			ConnectTimeout: env.Duration("API_MONGO_CONNECT_TIMEOUT", defaultMongoConnectTimeout),
			OpTimeout:      env.Duration("API_MONGO_OP_TIMEOUT", defaultMongoOpTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.String("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.String("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:          env.String("API_PUBSUB_PROJECT_ID", ""),
			EmulatorHost:       env.String("API_PUBSUB_EMULATOR_HOST", ""),
			OrderEventsTopic:   env.String("API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
			NotificationsTopic: env.String("API_PUBSUB_NOTIFICATIONS_TOPIC", ""),
			PublishTimeout:     env.Duration("API_PUBSUB_PUBLISH_TIMEOUT", defaultEventPublishTimeout),
			EventQueueSize:     env.Int("API_PUBSUB_EVENT_QUEUE_SIZE", defaultEventQueueSize),
		},
		Notifications: NotificationConfig{
			PoolSize:      env.Int("API_NOTIFICATIONS_POOL_SIZE", defaultNotifyPoolSize),
			MaxAttempts:   env.Int("API_NOTIFICATIONS_MAX_ATTEMPTS", defaultNotifyMaxAttempts),
			RetryInitial:  env.Duration("API_NOTIFICATIONS_RETRY_INITIAL", defaultNotifyRetryInitial),
			RetryMax:      env.Duration("API_NOTIFICATIONS_RETRY_MAX", defaultNotifyRetryMax),
			DefaultLocale: env.String("API_NOTIFICATIONS_DEFAULT_LOCALE", defaultNotifyLocale),
			AdminLocale:   env.String("API_NOTIFICATIONS_ADMIN_LOCALE", ""),
		},
		Idempotency: IdempotencyConfig{
			Header:           env.String("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.Duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.Duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.Int("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
		Retention: RetentionConfig{
			PurgeSchedule:  env.String("API_RETENTION_PURGE_SCHEDULE", defaultPurgeSchedule),
			SoftDeletedAge: env.Duration("API_RETENTION_SOFT_DELETED_AGE", defaultSoftDeletedAge),
			PurgeBatchSize: env.Int("API_RETENTION_PURGE_BATCH", defaultPurgeBatchSize),
		},
		Security: SecurityConfig{
			Environment:        strings.ToLower(env.String("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			CheckoutRateLimit:  env.Int("API_SECURITY_CHECKOUT_RATE_LIMIT", defaultCheckoutRateLimit),
			CheckoutRateWindow: env.Duration("API_SECURITY_CHECKOUT_RATE_WINDOW", defaultCheckoutRateWindow),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Notifications.AdminLocale == "" {
		cfg.Notifications.AdminLocale = cfg.Notifications.DefaultLocale
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Mongo.URI", &cfg.Mongo.URI},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string
	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")

	switch cfg.Storage.Driver {
	case StorageDriverMongo:
		require(strings.TrimSpace(cfg.Mongo.URI) != "", "Mongo.URI")
		require(strings.TrimSpace(cfg.Mongo.Database) != "", "Mongo.Database")
		require(cfg.Mongo.ConnectTimeout > 0, "Mongo.ConnectTimeout")
	case StorageDriverFirestore:
		require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	default:
		missing = append(missing, "Storage.Driver")
	}

	require(cfg.Notifications.PoolSize > 0, "Notifications.PoolSize")
	require(cfg.Notifications.MaxAttempts > 0, "Notifications.MaxAttempts")
	require(cfg.Notifications.RetryInitial > 0, "Notifications.RetryInitial")
	require(cfg.Notifications.RetryMax >= cfg.Notifications.RetryInitial, "Notifications.RetryMax")
	require(cfg.PubSub.PublishTimeout > 0, "PubSub.PublishTimeout")
	require(cfg.PubSub.EventQueueSize > 0, "PubSub.EventQueueSize")

	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if strings.TrimSpace(cfg.Retention.PurgeSchedule) != "" {
		require(cfg.Retention.SoftDeletedAge > 0, "Retention.SoftDeletedAge")
		require(cfg.Retention.PurgeBatchSize > 0, "Retention.PurgeBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var names []string
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if strings.TrimSpace(resolved[trimmed]) == "" {
			names = append(names, trimmed)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return &MissingSecretsError{names: names}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
