// Package app initializes and holds the long-lived services of a marketupdate process,
// acting as its dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-update/internal/captcha"
	"github.com/JakeFAU/market-update/internal/clock/system"
	"github.com/JakeFAU/market-update/internal/config"
	"github.com/JakeFAU/market-update/internal/digest"
	"github.com/JakeFAU/market-update/internal/email"
	"github.com/JakeFAU/market-update/internal/httpx"
	"github.com/JakeFAU/market-update/internal/market"
	pubmemory "github.com/JakeFAU/market-update/internal/publisher/memory"
	"github.com/JakeFAU/market-update/internal/publisher/pubsub"
	"github.com/JakeFAU/market-update/internal/quotes"
	"github.com/JakeFAU/market-update/internal/ratelimit"
	"github.com/JakeFAU/market-update/internal/secrets"
	"github.com/JakeFAU/market-update/internal/storage/gcs"
	"github.com/JakeFAU/market-update/internal/storage/local"
	blobmemory "github.com/JakeFAU/market-update/internal/storage/memory"
	"github.com/JakeFAU/market-update/internal/subscription"
	"github.com/JakeFAU/market-update/internal/tablestore"
	"github.com/JakeFAU/market-update/internal/tablestore/aztables"
	tsmemory "github.com/JakeFAU/market-update/internal/tablestore/memory"
	"github.com/JakeFAU/market-update/internal/tablestore/postgres"
	"github.com/JakeFAU/market-update/internal/tablestore/redis"
	"github.com/JakeFAU/market-update/internal/web"
)

// App holds the shared services for one process. Only the table store and event
// publisher are built eagerly; secrets for the quote API, email and CAPTCHA are
// resolved when the component that needs them is built.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     market.Clock
	secrets   secrets.Provider
	resolved  secrets.Bundle
	store     tablestore.Store
	publisher market.Publisher
	http      *httpx.Client
	closers   []func() error
}

// Option customizes NewApp, mainly for tests.
type Option func(*App)

// WithSecrets replaces the configured secret provider.
func WithSecrets(p secrets.Provider) Option {
	return func(a *App) { a.secrets = p }
}

// WithStore replaces the configured table store.
func WithStore(s tablestore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithClock replaces the system clock.
func WithClock(c market.Clock) Option {
	return func(a *App) { a.clock = c }
}

// NewApp builds the container and fails fast when a configured backend is unreachable.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		clock:    system.New(),
		resolved: secrets.Bundle{},
		http:     httpx.New(cfg.HTTPTimeout(), cfg.HTTP.UserAgent),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.secrets == nil {
		p, err := newSecretProvider(cfg.Secrets)
		if err != nil {
			return nil, err
		}
		a.secrets = p
	}

	if a.store == nil {
		store, err := a.newStore(ctx)
		if err != nil {
			return nil, err
		}
		a.store = store
	}
	a.closers = append(a.closers, a.store.Close)

	publisher, err := a.newPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.publisher = publisher

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Provider),
		zap.String("events", cfg.Events.Provider),
		zap.String("secrets", cfg.Secrets.Provider))
	return a, nil
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Store returns the table store.
func (a *App) Store() tablestore.Store { return a.store }

// Close releases every backend, logging failures.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}

func newSecretProvider(cfg config.SecretsConfig) (secrets.Provider, error) {
	switch cfg.Provider {
	case "keyvault":
		p, err := secrets.NewKeyVaultProvider(cfg.VaultURL)
		if err != nil {
			return nil, fmt.Errorf("init key vault: %w", err)
		}
		return p, nil
	case "env":
		return secrets.NewEnvProvider(cfg.Static), nil
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}
}

// secret resolves one secret once per process.
func (a *App) secret(ctx context.Context, name string) (string, error) {
	if v, ok := a.resolved[name]; ok {
		return v, nil
	}
	bundle, err := secrets.Resolve(ctx, a.secrets, name)
	if err != nil {
		return "", err
	}
	a.resolved[name] = bundle.Value(name)
	return a.resolved[name], nil
}

func (a *App) newStore(ctx context.Context) (tablestore.Store, error) {
	storeCfg := a.cfg.Store
	if storeCfg.Provider == "memory" {
		a.logger.Warn("using in-memory table store; data is lost on exit")
		return tsmemory.NewStore(), nil
	}

	conn, err := a.secret(ctx, a.cfg.Secrets.Names.Storage)
	if err != nil {
		return nil, err
	}
	switch storeCfg.Provider {
	case "postgres":
		a.logger.Info("connecting to postgres table store")
		return postgres.New(ctx, postgres.Config{DSN: conn, MaxConns: storeCfg.PostgresMaxConns})
	case "redis":
		a.logger.Info("connecting to redis table store")
		return redis.New(ctx, conn, storeCfg.RedisKeyPrefix)
	case "aztables":
		a.logger.Info("using azure table storage")
		return aztables.New(conn)
	default:
		return nil, fmt.Errorf("unknown store provider: %s", storeCfg.Provider)
	}
}

func (a *App) newPublisher(ctx context.Context) (market.Publisher, error) {
	eventsCfg := a.cfg.Events
	switch eventsCfg.Provider {
	case "none", "":
		return nil, nil
	case "memory":
		return pubmemory.New(), nil
	case "pubsub":
		client, err := gcpubsub.NewClient(ctx, eventsCfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		pub := pubsub.New(client.Topic(eventsCfg.TopicName))
		a.closers = append(a.closers, func() error {
			pub.Stop()
			return client.Close()
		})
		a.logger.Info("publishing events to pubsub", zap.String("topic", eventsCfg.TopicName))
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown events provider: %s", eventsCfg.Provider)
	}
}

func (a *App) newArchive(ctx context.Context) (market.BlobStore, error) {
	archiveCfg := a.cfg.Archive
	switch archiveCfg.Provider {
	case "none", "":
		return nil, nil
	case "memory":
		return blobmemory.NewBlobStore(), nil
	case "local":
		return local.New(local.Config{BaseDir: archiveCfg.LocalDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: archiveCfg.GCSBucket, CacheControl: "no-cache"})
		if err != nil {
			return nil, errors.Join(err, client.Close())
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive provider: %s", archiveCfg.Provider)
	}
}

// Subscriptions builds the subscription service over the subscriber table.
func (a *App) Subscriptions() *subscription.Service {
	return subscription.NewService(a.store, subscription.Config{
		Table:     a.cfg.Store.SubscribersTable,
		Partition: a.cfg.Subscribers.Partition,
	}, a.clock, a.publisher, a.logger)
}

// WebServer builds the signup server and ensures the subscriber table exists.
func (a *App) WebServer(ctx context.Context) (*web.Server, error) {
	subs := a.Subscriptions()
	if err := subs.Prepare(ctx); err != nil {
		return nil, err
	}

	var verifier web.Verifier
	siteKey := ""
	if a.cfg.Captcha.Enabled {
		secretKey, err := a.secret(ctx, a.cfg.Secrets.Names.CaptchaSecretKey)
		if err != nil {
			return nil, err
		}
		siteKey, err = a.secret(ctx, a.cfg.Secrets.Names.CaptchaSiteKey)
		if err != nil {
			return nil, err
		}
		verifier = captcha.New(a.http, a.cfg.Captcha.VerifyURL, secretKey, a.logger)
	}

	table := a.cfg.Store.SubscribersTable
	return web.NewServer(subs, verifier, web.Config{
		SiteKey:        siteKey,
		RequestTimeout: a.cfg.RequestTimeout(),
		Ready: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return a.store.EnsureTable(ctx, table)
		},
	}, a.logger)
}

// Indices converts the configured index list.
func (a *App) Indices() []market.Index {
	out := make([]market.Index, 0, len(a.cfg.Quotes.Indices))
	for _, idx := range a.cfg.Quotes.Indices {
		out = append(out, market.Index{Name: idx.Name, Symbol: idx.Symbol})
	}
	return out
}

// QuoteFetcher builds the fetch-quotes job.
func (a *App) QuoteFetcher(ctx context.Context) (*quotes.Fetcher, error) {
	apiKey, err := a.secret(ctx, a.cfg.Secrets.Names.QuotesAPIKey)
	if err != nil {
		return nil, err
	}
	hc := httpx.New(a.cfg.HTTPTimeout(), a.cfg.HTTP.UserAgent)
	hc.Limiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: a.cfg.Quotes.RequestsPerMinute,
		Burst:             a.cfg.Quotes.Burst,
	})
	client := quotes.NewClient(hc, a.cfg.Quotes.BaseURL, apiKey)
	repo := quotes.NewRepository(a.store, a.cfg.Store.QuotesTable)
	return quotes.NewFetcher(client, repo, a.Indices(), a.clock, a.publisher, a.logger), nil
}

// DigestMailer builds the send-digest job.
func (a *App) DigestMailer(ctx context.Context) (*digest.Mailer, error) {
	sender, err := a.newSender(ctx)
	if err != nil {
		return nil, err
	}
	archive, err := a.newArchive(ctx)
	if err != nil {
		return nil, err
	}
	repo := quotes.NewRepository(a.store, a.cfg.Store.QuotesTable)
	return digest.NewMailer(digest.Config{
		From:          a.cfg.Email.Sender,
		Subject:       a.cfg.Digest.Subject,
		Indices:       a.Indices(),
		Partition:     a.cfg.Subscribers.Partition,
		ArchivePrefix: a.cfg.Archive.Prefix,
	}, repo, a.Subscriptions(), sender, archive, a.clock, a.logger), nil
}

func (a *App) newSender(ctx context.Context) (email.Sender, error) {
	switch a.cfg.Email.Provider {
	case "sendgrid":
		key, err := a.secret(ctx, a.cfg.Secrets.Names.EmailAPIKey)
		if err != nil {
			return nil, err
		}
		return email.NewSendGridSender(key, a.cfg.Email.SendGridHost)
	case "log", "":
		return email.NewLogSender(a.logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider: %s", a.cfg.Email.Provider)
	}
}
