// Package server wires the vault together: key hierarchy, stores, services
// and the HTTP surface. It also handles startup unlock and graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kaytervn/msa-backend/internal/logging"
	"github.com/kaytervn/msa-backend/internal/server/config"
	"github.com/kaytervn/msa-backend/internal/server/fieldcipher"
	"github.com/kaytervn/msa-backend/internal/server/integrity"
	"github.com/kaytervn/msa-backend/internal/server/keyring"
	"github.com/kaytervn/msa-backend/internal/server/kvstore"
	"github.com/kaytervn/msa-backend/internal/server/mail"
	"github.com/kaytervn/msa-backend/internal/server/metrics"
	"github.com/kaytervn/msa-backend/internal/server/mfa"
	"github.com/kaytervn/msa-backend/internal/server/payload"
	"github.com/kaytervn/msa-backend/internal/server/presence"
	"github.com/kaytervn/msa-backend/internal/server/realtime"
	"github.com/kaytervn/msa-backend/internal/server/repositories/repomanager"
	"github.com/kaytervn/msa-backend/internal/server/rest"
	"github.com/kaytervn/msa-backend/internal/server/services"
	"github.com/kaytervn/msa-backend/internal/server/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix   = "msa:session:"
	publicKeyKeyPrefix = "msa:pubkey:"
	lockChannel        = "msa:presence:lock"
	migrateTimeout     = 30 * time.Second
)

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	redis   *redis.Client
	relay   *presence.Relay
	keys    *services.KeyService
	handler *rest.Server
}

func NewApp(c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	source, err := newKeySource(c)
	if err != nil {
		return nil, err
	}
	ring := keyring.NewManager(source, logger, m)
	cipher := fieldcipher.New(ring)

	sessionStore, publicKeys, rdb, err := newStores(c)
	if err != nil {
		return nil, err
	}

	var registry *session.Registry
	broker := presence.NewBroker(presence.VerifierFunc(func(ctx context.Context, token string) (*session.Claims, error) {
		return registry.Verify(ctx, token)
	}), logger, m)

	// Sessions in Redis are shared by every instance, so per-user locks go
	// through pub/sub. Locking all devices stays local: each instance clears
	// its own master key.
	var notifier session.Notifier = broker
	var relay *presence.Relay
	if rdb != nil {
		relay = presence.NewRelay(rdb, lockChannel, broker, logger)
		notifier = relay
	}
	registry = session.NewRegistry(sessionStore, ring, cipher, notifier, c.TokenValidity, logger, m)

	db, err := sqlOpen("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	rm := repomanager.NewPostgresRepositoryManager()

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	auth := services.NewAuthService(db, rm, cipher, registry, mfa.NewAuthenticator(c.TOTPIssuer), logger)
	recovery := services.NewRecoveryService(db, rm, cipher, newMailer(c, ring, logger), c.ResetCodeValidity, logger)
	exchange := services.NewKeyExchangeService(db, rm, cipher, registry, publicKeys, logger)
	keys := services.NewKeyService(ring, broker, registry, logger)

	gateway := realtime.NewGateway(broker, registry, realtime.Options{OriginPatterns: c.AllowedOrigins}, logger, m)

	router := rest.NewRouter(rest.Routes{
		Keys:      rest.NewKeyHandler(keys, ring, ring.Unlocked, logger),
		Users:     rest.NewUserHandler(auth, recovery, exchange, payload.NewDecryptor(ring), logger),
		Socket:    gateway,
		Metrics:   reg,
		Ready:     readiness(c, ring),
		Guard:     integrity.NewGuard(ring, c.SignatureMaxAge),
		Sessions:  registry,
		Secrets:   ring,
		Collector: m,
	}, logger)

	return &App{
		config:  c,
		logger:  logger,
		db:      db,
		redis:   rdb,
		relay:   relay,
		keys:    keys,
		handler: rest.NewServer(c.HTTPAddr, router, logger),
	}, nil
}

func newKeySource(c *config.Config) (keyring.Source, error) {
	switch c.KeySource {
	case config.KeySourceFile:
		return keyring.NewFileSource(c.KeyBlobPath), nil
	case config.KeySourceS3:
		return keyring.NewS3Source(keyring.S3Settings{
			User:         c.S3RootUser,
			Password:     c.S3RootPassword,
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			Key:          c.S3KeyObject,
		}), nil
	default:
		return nil, fmt.Errorf("unknown key source %q", c.KeySource)
	}
}

// newStores returns the session and public key stores. Without a Redis URL
// both live in process memory and the returned client is nil.
func newStores(c *config.Config) (sessions, publicKeys kvstore.Store, client *redis.Client, err error) {
	if c.RedisURL == "" {
		return kvstore.NewMemoryStore(), kvstore.NewMemoryStore(), nil, nil
	}
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("redis url: %w", err)
	}
	client = redis.NewClient(opts)
	return kvstore.NewRedisStore(client, sessionKeyPrefix, c.TokenValidity),
		kvstore.NewRedisStore(client, publicKeyKeyPrefix, 0),
		client, nil
}

func newMailer(c *config.Config, creds mail.Credentials, logger logging.Logger) mail.Sender {
	if c.SMTPHost == "" {
		return mail.NewLogSender(logger)
	}
	return mail.NewSMTPSender(mail.SMTPSettings{
		Host:       c.SMTPHost,
		Port:       c.SMTPPort,
		From:       c.SMTPFrom,
		Encryption: c.SMTPEncryption,
	}, creds)
}

type unlockState interface {
	Unlocked() bool
}

func readiness(c *config.Config, keys unlockState) func() bool {
	return func() bool {
		return c.DatabaseDSN != "" && keys.Unlocked()
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// unlockAtStartup tries the master key from the environment. A wrong key
// leaves the system locked for an operator to unlock.
func (app *App) unlockAtStartup(ctx context.Context) {
	if app.config.MasterKey == "" {
		return
	}
	if err := app.keys.Unlock(ctx, app.config.MasterKey); err != nil {
		app.logger.Warn(ctx, "startup unlock failed", "error", err)
		return
	}
	app.logger.Info(ctx, "unlocked at startup")
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.handler.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// startRelay stops the app when the relay fails, since this instance would
// no longer hear locks published elsewhere.
func (app *App) startRelay(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.relay.Run(ctx); err != nil {
		app.logger.Error(ctx, "presence relay stopped", "error", err)
		cancelFunc()
	}
}

func (app *App) close() error {
	var errs []error
	if app.db != nil {
		errs = append(errs, app.db.Close())
	}
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
	}
	return errors.Join(errs...)
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "address", app.config.HTTPAddr)

	app.initSignalHandler(cancelFunc)
	app.unlockAtStartup(ctx)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	if app.relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startRelay(ctx, cancelFunc)
		}()
	}

	wg.Wait()

	if err := app.close(); err != nil {
		app.logger.Error(ctx, "close error", "error", err)
	}
	app.logger.Info(ctx, "Stopped")
}
