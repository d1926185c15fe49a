package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
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
	defaultAttempts     = 3
	meterName           = "github.com/pawmart/api/internal/platform/secrets"
)

// ErrNotFound is returned when neither Secret Manager nor the fallback file holds the reference.
var ErrNotFound = errors.New("secrets: secret not found")

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// and sm:// references against Google Secret Manager. Values are
// cached for the configured TTL and a local key=value file is consulted when the remote side
// is unreachable or no project is configured.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger

	env        string
	project    string
	projectMap map[string]string
	cacheTTL   time.Duration
	attempts   int
	backoff    gax.Backoff
	now        func() time.Time

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]cachedSecret

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type cachedSecret struct {
	value     string
	canonical string
	expiresAt time.Time
}

type settings struct {
	logger       *zap.Logger
	env          string
	project      string
	projectMap   map[string]string
	fallbackPath string
	cacheTTL     time.Duration
	attempts     int
	backoff      gax.Backoff
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
	now          func() time.Time
}

// Option customises Fetcher construction.
type Option func(*settings)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithEnvironment selects the key used to look up the project in the project map.
func WithEnvironment(env string) Option {
	return func(s *settings) { s.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject sets the project used when the environment has no mapping.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.project = strings.TrimSpace(projectID) }
}

// WithProjectMap supplies per-environment project IDs.
func WithProjectMap(m map[string]string) Option {
	return func(s *settings) { s.projectMap = maps.Clone(m) }
}

// WithFallbackFile overrides the local fallback file. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallbackPath = strings.TrimSpace(path) }
}

// WithCacheTTL bounds how long resolved values are reused. Zero caches for the process lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl >= 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithRetry configures attempts and backoff for transient Secret Manager failures.
func WithRetry(attempts int, backoff gax.Backoff) Option {
	return func(s *settings) {
		if attempts > 0 {
			s.attempts = attempts
		}
		s.backoff = backoff
	}
}

// WithMeter injects an OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithSecretManagerClient injects a preconfigured client.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(s *settings) { s.client = client }
}

// WithClientOptions forwards options to the Secret Manager client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// WithClock overrides the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created is logged and the
// fetcher runs in fallback-only mode.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{
		logger:       zap.NewNop(),
		env:          strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT"))),
		fallbackPath: defaultFallbackPath,
		attempts:     defaultAttempts,
		backoff:      gax.Backoff{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.env == "" {
		s.env = defaultEnvironment
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	meter := s.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		logger:       s.logger,
		env:          s.env,
		project:      s.project,
		projectMap:   s.projectMap,
		cacheTTL:     s.cacheTTL,
		attempts:     s.attempts,
		backoff:      s.backoff,
		now:          s.now,
		fallbackPath: s.fallbackPath,
		cache:        make(map[string]cachedSecret),
	}

	var err error
	if f.latency, err = meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolution"),
	); err != nil {
		s.logger.Warn("secrets: latency metric unavailable", zap.Error(err))
	}
	if f.cacheHits, err = meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions served from cache"),
	); err != nil {
		s.logger.Warn("secrets: cache hit metric unavailable", zap.Error(err))
	}

	switch {
	case s.client != nil:
		f.client = s.client
	case f.projectID(reference{}) != "":
		client, err := newSecretManagerClient(ctx, s.clientOpts...)
		if err != nil {
			s.logger.Warn("secrets: secret manager client unavailable, using fallback file only", zap.Error(err))
			break
		}
		f.client = client
		f.ownsClient = true
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind ref, consulting the cache, Secret Manager and the fallback
// file in that order.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := f.now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	key := parsed.cacheKey()

	if value, ok := f.cached(key); ok {
		f.observeHit(ctx, parsed)
		f.observe(ctx, start, "cache")
		return value, nil
	}

	if project := f.projectID(parsed); project != "" && f.client != nil {
		value, err := f.fetchRemote(ctx, project, parsed)
		if err == nil {
			f.store(key, parsed.canonical, value)
			f.observe(ctx, start, "remote")
			return value, nil
		}
		if !fallbackEligible(err) {
			f.observe(ctx, start, "error")
			return "", fmt.Errorf("secrets: fetch %s: %w", parsed.canonical, err)
		}
		f.logger.Debug("secrets: remote unavailable, trying fallback file",
			zap.String("secret", mask(parsed.canonical)), zap.Error(err))
	}

	value, ok := f.lookupFallback(parsed)
	if !ok {
		f.observe(ctx, start, "error")
		return "", fmt.Errorf("%w: %s", ErrNotFound, parsed.canonical)
	}
	f.store(key, parsed.canonical, value)
	f.observe(ctx, start, "fallback")
	return value, nil
}

// Invalidate drops every cached version of ref.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, entry := range f.cache {
		if entry.canonical == parsed.canonical {
			delete(f.cache, key)
		}
	}
}

// Check reports whether the fetcher can serve secrets. It is used as a readiness probe.
func (f *Fetcher) Check(context.Context) error {
	if f.client == nil && f.projectID(reference{}) != "" {
		return errors.New("secrets: secret manager client not initialised")
	}
	f.loadFallback()
	return f.fallbackErr
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	if !ok {
		return "", false
	}
	if !entry.expiresAt.IsZero() && !f.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(key, canonical, value string) {
	entry := cachedSecret{value: value, canonical: canonical}
	if f.cacheTTL > 0 {
		entry.expiresAt = f.now().Add(f.cacheTTL)
	}
	f.mu.Lock()
	f.cache[key] = entry
	f.mu.Unlock()
}

func (f *Fetcher) fetchRemote(ctx context.Context, project string, ref reference) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.secret, ref.version)
	backoff := f.backoff

	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		if err == nil {
			if resp.GetPayload() == nil {
				return "", fmt.Errorf("secrets: empty payload for %s", name)
			}
			return string(resp.GetPayload().GetData()), nil
		}
		lastErr = err
		if !retryable(err) || attempt == f.attempts {
			break
		}
		if err := gax.Sleep(ctx, backoff.Pause()); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func (f *Fetcher) projectID(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	if id := strings.TrimSpace(f.projectMap[f.env]); id != "" {
		return id
	}
	return f.project
}

func (f *Fetcher) lookupFallback(ref reference) (string, bool) {
	f.loadFallback()
	if f.fallbackErr != nil {
		f.logger.Warn("secrets: fallback file unreadable", zap.Error(f.fallbackErr))
		return "", false
	}
	if value, ok := f.fallback[ref.cacheKey()]; ok {
		return value, true
	}
	value, ok := f.fallback[ref.canonical]
	return value, ok
}

func (f *Fetcher) loadFallback() {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}
		if f.fallbackPath == "" {
			return
		}
		file, err := os.Open(f.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.fallbackErr = fmt.Errorf("secrets: open %s: %w", f.fallbackPath, err)
			}
			return
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			name, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			parsed, err := parseReference(strings.TrimSpace(name))
			if err != nil {
				continue
			}
			value = strings.TrimSpace(value)
			f.fallback[parsed.canonical] = value
			f.fallback[parsed.cacheKey()] = value
		}
		if err := scanner.Err(); err != nil {
			f.fallbackErr = fmt.Errorf("secrets: read %s: %w", f.fallbackPath, err)
		}
	})
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	elapsed := float64(f.now().Sub(start)) / float64(time.Millisecond)
	f.latency.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

func (f *Fetcher) observeHit(ctx context.Context, ref reference) {
	if f.cacheHits == nil {
		return
	}
	f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", mask(ref.canonical))))
}

type reference struct {
	canonical string
	secret    string
	version   string
	project   string
}

func (r reference) cacheKey() string {
	return r.canonical + "#" + r.version
}

// parseReference accepts secret://name?version=N&project=P and the sm:// alias.
func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	query := u.Query()
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		version = "latest"
	}
	return reference{
		canonical: "secret://" + name,
		secret:    name,
		version:   version,
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func mask(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:8])
}

func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
