package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIREBASE_PROJECT_ID": "pawmart-dev",
		"API_MONGO_URI":           "mongodb://localhost:27017",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Storage.Driver != StorageDriverMongo {
		t.Errorf("expected mongo driver, got %s", cfg.Storage.Driver)
	}
	if cfg.Mongo.Database != defaultMongoDatabase || cfg.Mongo.Transactions {
		t.Errorf("unexpected mongo defaults %+v", cfg.Mongo)
	}
	if cfg.Firestore.ProjectID != "pawmart-dev" || cfg.PubSub.ProjectID != "pawmart-dev" {
		t.Errorf("expected projects to default to firebase project, got %s/%s", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if cfg.Notifications.PoolSize != defaultNotifyPoolSize || cfg.Notifications.MaxAttempts != defaultNotifyMaxAttempts {
		t.Errorf("unexpected notification defaults %+v", cfg.Notifications)
	}
	if cfg.Notifications.AdminLocale != "en" {
		t.Errorf("expected admin locale to follow default locale, got %s", cfg.Notifications.AdminLocale)
	}
	if cfg.PubSub.PublishTimeout != 10*time.Second || cfg.PubSub.EventQueueSize != 256 {
		t.Errorf("unexpected event relay defaults %+v", cfg.PubSub)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.CheckoutRateLimit != 10 || cfg.Security.CheckoutRateWindow != time.Minute {
		t.Errorf("unexpected checkout throttle defaults %+v", cfg.Security)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader || cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency defaults %+v", cfg.Idempotency)
	}
	if cfg.Retention.PurgeSchedule != "@daily" || cfg.Retention.SoftDeletedAge != 30*24*time.Hour {
		t.Errorf("unexpected retention defaults %+v", cfg.Retention)
	}
	if cfg.Logging.File != "" {
		t.Errorf("expected no log file by default, got %s", cfg.Logging.File)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                  "9090",
		"API_SERVER_READ_TIMEOUT":          "20s",
		"API_SERVER_WRITE_TIMEOUT":         "25s",
		"API_SERVER_IDLE_TIMEOUT":          "2m",
		"API_BUILD_VERSION":                "1.4.0",
		"API_FIREBASE_PROJECT_ID":          "pawmart-prod",
		"API_STORAGE_DRIVER":               "MONGO",
		"API_MONGO_URI":                    "secret://mongo/uri",
		"API_MONGO_DATABASE":               "shop",
		"API_MONGO_TRANSACTIONS":           "on",
		"API_MONGO_OP_TIMEOUT":             "3s",
		"API_PUBSUB_ORDER_EVENTS_TOPIC":    "order-events",
		"API_NOTIFICATIONS_POOL_SIZE":      "4",
		"API_NOTIFICATIONS_MAX_ATTEMPTS":   "5",
		"API_NOTIFICATIONS_DEFAULT_LOCALE": "vi",
		"API_NOTIFICATIONS_ADMIN_LOCALE":   "ja",
		"API_IDEMPOTENCY_HEADER":           "X-Idem-Key",
		"API_IDEMPOTENCY_CLEANUP_BATCH":    "500",
		"API_RETENTION_PURGE_SCHEDULE":     "0 3 * * *",
		"API_RETENTION_SOFT_DELETED_AGE":   "168h",
		"API_SECURITY_ENVIRONMENT":         "PROD",
		"API_LOG_FILE":                     "/var/log/pawmart/api.log",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://mongo/uri" {
			return "mongodb+srv://prod", nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Build.Version != "1.4.0" {
		t.Errorf("unexpected build version %s", cfg.Build.Version)
	}
	if cfg.Mongo.URI != "mongodb+srv://prod" {
		t.Errorf("expected resolved mongo uri, got %s", cfg.Mongo.URI)
	}
	if cfg.Mongo.Database != "shop" || !cfg.Mongo.Transactions || cfg.Mongo.OpTimeout != 3*time.Second {
		t.Errorf("unexpected mongo config %+v", cfg.Mongo)
	}
	if cfg.PubSub.OrderEventsTopic != "order-events" || cfg.PubSub.NotificationsTopic != "" {
		t.Errorf("unexpected pubsub config %+v", cfg.PubSub)
	}
	if cfg.Notifications.PoolSize != 4 || cfg.Notifications.MaxAttempts != 5 {
		t.Errorf("unexpected notification config %+v", cfg.Notifications)
	}
	if cfg.Notifications.DefaultLocale != "vi" || cfg.Notifications.AdminLocale != "ja" {
		t.Errorf("unexpected locales %+v", cfg.Notifications)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
	if cfg.Retention.PurgeSchedule != "0 3 * * *" || cfg.Retention.SoftDeletedAge != 7*24*time.Hour {
		t.Errorf("unexpected retention config %+v", cfg.Retention)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected lower-cased environment, got %s", cfg.Security.Environment)
	}
	if cfg.Logging.File != "/var/log/pawmart/api.log" || cfg.Logging.MaxBackups != defaultLogMaxBackups {
		t.Errorf("unexpected logging config %+v", cfg.Logging)
	}
}

func TestLoadFirestoreDriverDoesNotRequireMongo(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "pawmart-dev",
		"API_STORAGE_DRIVER":      "firestore",
	}
	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Storage.Driver != StorageDriverFirestore {
		t.Fatalf("expected firestore driver, got %s", cfg.Storage.Driver)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	env := baseEnv()
	env["API_STORAGE_DRIVER"] = "postgres"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !slices.Contains(validation.Fields(), "Storage.Driver") {
		t.Fatalf("expected Storage.Driver in fields, got %v", validation.Fields())
	}
}

func TestLoadInvalidNumbersFallBackToDefaults(t *testing.T) {
	env := baseEnv()
	env["API_NOTIFICATIONS_POOL_SIZE"] = "many"
	env["API_SERVER_READ_TIMEOUT"] = "soon"
	env["API_MONGO_TRANSACTIONS"] = "maybe"

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Notifications.PoolSize != defaultNotifyPoolSize {
		t.Errorf("expected default pool size, got %d", cfg.Notifications.PoolSize)
	}
	if cfg.Server.ReadTimeout != defaultReadTimeout {
		t.Errorf("expected default read timeout, got %s", cfg.Server.ReadTimeout)
	}
	if cfg.Mongo.Transactions {
		t.Errorf("expected transactions to stay disabled")
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nexport API_FIREBASE_PROJECT_ID=\"pawmart-dot\"\nAPI_MONGO_URI=mongodb://dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "pawmart-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validation.Fields()
	if !slices.Contains(fields, "Firebase.ProjectID") || !slices.Contains(fields, "Mongo.URI") {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["API_MONGO_URI"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "pawmart-dev",
		"API_STORAGE_DRIVER":      "firestore",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Mongo.URI"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != redactSecretName("Mongo.URI") {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "pawmart-dev",
		"API_STORAGE_DRIVER":      "firestore",
	}

	defer func() {
		rec := recover()
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if names := missing.Names(); len(names) != 1 || names[0] != "Mongo.URI" {
			t.Fatalf("unexpected missing secrets %v", names)
		}
	}()

	_, _ = Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Mongo.URI"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := baseEnv()
	env["API_MONGO_URI"] = "sm://mongo/uri"

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://mongo/uri" {
			return "mongodb://legacy", nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Mongo.URI != "mongodb://legacy" {
		t.Fatalf("expected legacy secret, got %s", cfg.Mongo.URI)
	}
}
