package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/pawmart/api/internal/platform/config"
)

const appName = "pawmart-api"

// Provider owns the shared client and the application database handle.
type Provider struct {
	client *mongo.Client
	db     *mongo.Database
	owned  bool
}

// Connect dials MongoDB with the configured URI and verifies the primary answers.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Provider, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, errors.New("mongo: uri is required")
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, errors.New("mongo: database is required")
	}

	opts := options.Client().
		ApplyURI(uri).
		SetAppName(appName).
		SetRetryWrites(true).
		SetWriteConcern(writeconcern.Majority())
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout).SetServerSelectionTimeout(cfg.ConnectTimeout)
	}
	if cfg.OpTimeout > 0 {
		opts.SetTimeout(cfg.OpTimeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	provider := &Provider{client: client, db: client.Database(cfg.Database), owned: true}

	pingCtx, cancel := context.WithTimeout(ctx, connectPingTimeout(cfg.ConnectTimeout))
	defer cancel()
	if err := provider.Ping(pingCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return provider, nil
}

// NewProvider wraps an existing database handle. Close leaves the client connected.
func NewProvider(db *mongo.Database) *Provider {
	return &Provider{client: db.Client(), db: db}
}

func connectPingTimeout(connect time.Duration) time.Duration {
	if connect > 0 {
		return connect
	}
	return 10 * time.Second
}

// Client exposes the driver client.
func (p *Provider) Client() *mongo.Client { return p.client }

// Database exposes the application database.
func (p *Provider) Database() *mongo.Database { return p.db }

// Collection is shorthand for Database().Collection(name).
func (p *Provider) Collection(name string) *mongo.Collection { return p.db.Collection(name) }

// Ping checks the primary is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx, readpref.Primary()); err != nil {
		return WrapError("mongo.ping", err)
	}
	return nil
}

// Close disconnects clients created by Connect.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil || !p.owned || p.client == nil {
		return nil
	}
	return p.client.Disconnect(ctx)
}
