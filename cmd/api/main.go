package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/googleapis/gax-go/v2"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/pawmart/api/internal/di"
	"github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/handlers"
	"github.com/pawmart/api/internal/notifications"
	"github.com/pawmart/api/internal/platform/auth"
	"github.com/pawmart/api/internal/platform/config"
	"github.com/pawmart/api/internal/platform/events"
	pfirestore "github.com/pawmart/api/internal/platform/firestore"
	"github.com/pawmart/api/internal/platform/idempotency"
	"github.com/pawmart/api/internal/platform/jobs"
	pmongo "github.com/pawmart/api/internal/platform/mongo"
	"github.com/pawmart/api/internal/platform/observability"
	"github.com/pawmart/api/internal/platform/secrets"
	"github.com/pawmart/api/internal/repositories"
	firestoreRepo "github.com/pawmart/api/internal/repositories/firestore"
	mongoRepo "github.com/pawmart/api/internal/repositories/mongo"
	"github.com/pawmart/api/internal/services"
)

const (
	idempotencyCollection = "idempotency_keys"
	shutdownTimeout       = 10 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(loggerOptionsFromEnv(envValues))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromConfig(cfg, startedAt)

	var (
		publisher      *jobs.PubSubPublisher
		extraChecks    = []repositories.DependencyCheck{{Name: "secrets", Check: fetcher.Check}}
		optionalChecks []string
	)
	if strings.TrimSpace(cfg.PubSub.ProjectID) != "" {
		client, err := jobs.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		orderTopic := optionalTopic(client, cfg.PubSub.OrderEventsTopic)
		notificationTopic := optionalTopic(client, cfg.PubSub.NotificationsTopic)
		for _, topic := range []*pubsub.Topic{orderTopic, notificationTopic} {
			if topic != nil {
				name := "pubsub:" + topic.ID()
				extraChecks = append(extraChecks, repositories.DependencyCheck{
					Name:  name,
					Check: jobs.TopicCheck(topic),
				})
				optionalChecks = append(optionalChecks, name)
			}
		}
		publisher = jobs.NewPubSubPublisher(orderTopic, notificationTopic)
	}

	healthOpts := []repositories.DependencyHealthOption{
		repositories.WithBuildInfo(buildInfo.Version, buildInfo.CommitSHA, buildInfo.Environment, buildInfo.StartedAt),
	}
	registry, idemStore, err := openStorage(ctx, cfg, extraChecks, healthOpts)
	if err != nil {
		logger.Fatal("failed to initialise storage", zap.Error(err), zap.String("driver", cfg.Storage.Driver))
	}

	bus := events.NewBus(logger.Named("events"),
		events.WithQueueSize(cfg.PubSub.EventQueueSize),
		events.WithHandlerTimeout(cfg.PubSub.PublishTimeout),
	)
	if publisher != nil {
		if err := bus.Subscribe("pubsub", func(ctx context.Context, event domain.OrderEvent) error {
			_, err := publisher.PublishOrderEvent(ctx, event)
			if errors.Is(err, jobs.ErrTopicDisabled) {
				return nil
			}
			return err
		}); err != nil {
			logger.Fatal("failed to subscribe pubsub relay", zap.Error(err))
		}
	}
	eventLogger := logger.Named("order-events")
	if err := bus.Subscribe("log", func(_ context.Context, event domain.OrderEvent) error {
		eventLogger.Info("order event",
			zap.String("type", string(event.Type)),
			zap.String("orderID", event.OrderID),
		)
		return nil
	}); err != nil {
		logger.Fatal("failed to subscribe event logger", zap.Error(err))
	}

	sinks := []notifications.Sink{
		notifications.NewStoreSink(registry.Notifications()),
		notifications.NewLogSink(logger.Named("notifications")),
	}
	if publisher != nil && strings.TrimSpace(cfg.PubSub.NotificationsTopic) != "" {
		sinks = append(sinks, notifications.NewTopicSink(publisher))
	}
	dispatcher, err := notifications.NewDispatcher(sinks,
		notifications.WithPoolSize(cfg.Notifications.PoolSize),
		notifications.WithRetry(cfg.Notifications.MaxAttempts, gax.Backoff{
			Initial:    cfg.Notifications.RetryInitial,
			Max:        cfg.Notifications.RetryMax,
			Multiplier: 2,
		}),
		notifications.WithLocales(cfg.Notifications.DefaultLocale, cfg.Notifications.AdminLocale),
		notifications.WithLogger(logger.Named("notifications")),
	)
	if err != nil {
		logger.Fatal("failed to initialise notification dispatcher", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Options{
		Notifications: dispatcher,
		Events:        bus,
		Build:         buildInfo,
		IDGenerator:   func() string { return ulid.Make().String() },
		Logger:        observability.NewEventLogger(logger.Named("services")),

		OptionalHealthChecks: optionalChecks,
	})
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	container.OnClose(func(context.Context) error {
		publisher.Stop()
		return nil
	})
	container.OnClose(func(context.Context) error {
		bus.Close()
		return nil
	})
	container.OnClose(dispatcher.Close)

	scheduler := jobs.NewScheduler(logger.Named("jobs"), jobs.WithTaskTimeout(time.Minute))
	if err := container.RegisterJobs(scheduler, idemStore, nil); err != nil {
		logger.Fatal("failed to register jobs", zap.Error(err))
	}
	scheduler.Start()
	container.OnClose(scheduler.Stop)

	authenticator := newAuthenticator(ctx, logger, cfg)

	idempotencyMiddleware := idempotency.Middleware(
		idemStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)
	checkoutThrottle := handlers.CheckoutThrottle(cfg.Security.CheckoutRateLimit, cfg.Security.CheckoutRateWindow, nil)

	svc := container.Services
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart, idempotencyMiddleware)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, checkoutThrottle, idempotencyMiddleware)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, svc.Orders, idempotencyMiddleware)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	)

	if routes, err := handlers.RouteTable(router); err == nil {
		logger.Debug("routes registered", zap.Int("count", len(routes)), zap.Strings("routes", routes))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("storage", cfg.Storage.Driver))
	go func() {
		serverLogger.Info("pawmart api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}

// openStorage connects the configured document database and returns its repository registry
// alongside an idempotency store on the same backend.
func openStorage(ctx context.Context, cfg config.Config, checks []repositories.DependencyCheck, healthOpts []repositories.DependencyHealthOption) (repositories.Registry, idempotency.Store, error) {
	switch cfg.Storage.Driver {
	case "firestore":
		provider := pfirestore.NewProvider(cfg.Firestore)
		registry, err := firestoreRepo.NewRegistry(provider, firestoreRepo.RegistryOptions{
			ExtraChecks:   checks,
			HealthOptions: healthOpts,
		})
		if err != nil {
			_ = provider.Close(ctx)
			return nil, nil, err
		}
		return registry, idempotency.NewFirestoreStore(provider, idempotencyCollection), nil
	case "mongo", "":
		provider, err := pmongo.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		if err := mongoRepo.EnsureIndexes(ctx, provider); err != nil {
			_ = provider.Close(ctx)
			return nil, nil, fmt.Errorf("ensure indexes: %w", err)
		}
		registry, err := mongoRepo.NewRegistry(provider, mongoRepo.RegistryOptions{
			Transactions:  cfg.Mongo.Transactions,
			ExtraChecks:   checks,
			HealthOptions: healthOpts,
		})
		if err != nil {
			_ = provider.Close(ctx)
			return nil, nil, err
		}
		return registry, idempotency.NewMongoStore(provider, idempotencyCollection), nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

func optionalTopic(client *pubsub.Client, name string) *pubsub.Topic {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	return client.Topic(name)
}

// newAuthenticator returns nil when Firebase is not configured; every authenticated route then
// answers 401.
func newAuthenticator(ctx context.Context, logger *zap.Logger, cfg config.Config) *auth.Authenticator {
	if strings.TrimSpace(cfg.Firebase.ProjectID) == "" {
		logger.Warn("firebase project not configured; authenticated routes will reject requests")
		return nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	return auth.NewAuthenticator(verifier)
}

func buildInfoFromConfig(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(cfg.Build.Version)
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(cfg.Build.CommitSHA)
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// loggerOptionsFromEnv reads the log file settings ahead of config.Load so secret resolution
// failures are logged to the same sinks.
func loggerOptionsFromEnv(env map[string]string) observability.LoggerOptions {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}
	opts := observability.LoggerOptions{
		Level: lookup("API_LOG_LEVEL"),
		File:  lookup("API_LOG_FILE"),
	}
	for key, target := range map[string]*int{
		"API_LOG_MAX_SIZE_MB":  &opts.MaxSizeMB,
		"API_LOG_MAX_BACKUPS":  &opts.MaxBackups,
		"API_LOG_MAX_AGE_DAYS": &opts.MaxAgeDays,
	} {
		if raw := lookup(key); raw != "" {
			if value, err := cast.ToIntE(raw); err == nil {
				*target = value
			}
		}
	}
	return opts
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	if id := strings.TrimSpace(cfg.Firestore.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.PubSub.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	projectMap := secretProjectMapFromEnv(env)
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve before the server starts.
func requiredSecretNames(env map[string]string) []string {
	driver := ""
	if env != nil {
		driver = strings.ToLower(strings.TrimSpace(env["API_STORAGE_DRIVER"]))
	}
	var required []string
	if driver == "" || driver == "mongo" {
		required = append(required, "Mongo.URI")
	}
	return uniqueStrings(required)
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_PROJECT_IDS"]
	}
	raw = strings.TrimSpace(raw)
	projects := make(map[string]string)
	if raw == "" {
		return projects
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		envLabel := strings.ToLower(strings.TrimSpace(parts[0]))
		project := strings.TrimSpace(parts[1])
		if envLabel == "" || project == "" {
			continue
		}
		projects[envLabel] = project
	}
	return projects
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
