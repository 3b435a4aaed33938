package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/nightstudio/paywall/internal/app/feed"
	"github.com/nightstudio/paywall/internal/app/services/access"
	"github.com/nightstudio/paywall/internal/app/services/auth"
	"github.com/nightstudio/paywall/internal/app/services/media"
	"github.com/nightstudio/paywall/internal/app/services/posts"
	"github.com/nightstudio/paywall/internal/app/services/reconcile"
	"github.com/nightstudio/paywall/internal/app/services/settlement"
	"github.com/nightstudio/paywall/internal/app/services/unlock"
	"github.com/nightstudio/paywall/internal/app/services/users"
	"github.com/nightstudio/paywall/internal/app/storage"
	"github.com/nightstudio/paywall/internal/app/storage/cache"
	"github.com/nightstudio/paywall/internal/app/storage/memory"
	"github.com/nightstudio/paywall/internal/app/storage/sqlstore"
	supabasestore "github.com/nightstudio/paywall/internal/app/storage/supabase"
	"github.com/nightstudio/paywall/internal/app/system"
	"github.com/nightstudio/paywall/internal/config"
	"github.com/nightstudio/paywall/internal/logging"
	"github.com/nightstudio/paywall/internal/middleware"
	"github.com/nightstudio/paywall/pkg/logger"
	"github.com/nightstudio/paywall/supabase/client"
)

// Components are the external dependencies of the application. Nil fields
// are built from configuration (or defaulted) by New.
type Components struct {
	Store    storage.Gateway
	Settler  unlock.Settler
	Supabase *client.Client
	Redis    *redis.Client
	Nonces   auth.NonceStore
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	closers []func() error

	Config     *config.Config
	Store      storage.Gateway
	Purchases  storage.PurchaseStore
	Access     *access.Engine
	Users      *users.Service
	Posts      *posts.Service
	Unlock     *unlock.Coordinator
	Auth       *auth.Service
	Media      *media.Service
	Feed       *feed.Hub
	Journal    *reconcile.Journal
	Reconciler *reconcile.Reconciler
}

// Open connects the backends named by cfg and builds the application.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	var (
		comps   Components
		closers []func() error
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	if cfg.Supabase.Enabled() {
		breaker := client.DefaultCircuitBreakerConfig()
		breaker.OnStateChange = func(from, to client.CircuitState) {
			log.Warnf("supabase circuit %s -> %s", from, to)
		}
		sb, _, err := client.NewResilient(client.Config{
			URL:       cfg.Supabase.URL,
			APIKey:    cfg.Supabase.ServiceKey,
			RequestID: logging.GetTraceID,
		}, client.DefaultRetryConfig(), breaker)
		if err != nil {
			return nil, fmt.Errorf("supabase client: %w", err)
		}
		comps.Supabase = sb
	}

	switch cfg.Storage.Driver {
	case config.DriverPostgres, config.DriverSQLite:
		store, err := sqlstore.Open(cfg.Storage.Driver, cfg.Storage.DSN, log.Named("sqlstore"))
		if err != nil {
			return nil, err
		}
		closers = append(closers, store.Close)
		if cfg.Storage.AutoMigrate {
			if err := store.Migrate(); err != nil {
				closeAll()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		comps.Store = store
	case config.DriverSupabase:
		comps.Store = supabasestore.New(comps.Supabase, log.Named("supabase-store"))
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			closeAll()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		closers = append(closers, rdb.Close)
		comps.Redis = rdb
	}

	application, err := New(cfg, comps, log)
	if err != nil {
		closeAll()
		return nil, err
	}
	application.closers = append(closers, application.closers...)
	return application, nil
}

// New builds a fully initialised application from cfg and comps.
func New(cfg *config.Config, comps Components, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if cfg == nil {
		return nil, errors.New("config required")
	}

	store := comps.Store
	if store == nil {
		log.Warn("no storage configured; using in-memory store")
		store = memory.New()
	}

	var purchases storage.PurchaseStore = store
	if comps.Redis != nil {
		purchases = cache.NewPurchaseStore(store, comps.Redis, cfg.Redis.TTL, log.Named("purchase-cache"))
	}

	settler := comps.Settler
	if settler == nil {
		var err error
		if settler, err = buildSettler(cfg.Settlement, log); err != nil {
			return nil, err
		}
	}

	origins := middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins())
	application := &Application{
		manager:   system.NewManager(),
		log:       log,
		Config:    cfg,
		Store:     store,
		Purchases: purchases,
		Feed:      feed.NewHub(log.Named("feed")).WithOriginCheck(origins.Allows),
	}

	application.Access = access.New(purchases, log.Named("access"))
	application.Users = users.New(store, log.Named("users"))
	application.Posts = posts.New(store, application.Access, log.Named("posts")).WithPublisher(application.Feed)
	application.Unlock = unlock.New(purchases, settler, log.Named("unlock"))

	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		// only reachable in development, see config.Validate
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		log.Warn("JWT_SECRET not set; sessions will not survive a restart")
	}
	nonces := comps.Nonces
	if nonces == nil && comps.Redis != nil {
		nonces = auth.NewRedisNonces(comps.Redis)
	}
	authService, err := auth.New(application.Users, nonces, auth.Config{
		Secret:   secret,
		Issuer:   cfg.Auth.Issuer,
		TokenTTL: cfg.Auth.TokenTTL,
		NonceTTL: cfg.Auth.NonceTTL,
	}, log.Named("auth"))
	if err != nil {
		return nil, err
	}
	application.Auth = authService

	if comps.Supabase != nil {
		application.Media = media.New(comps.Supabase.Storage(cfg.Supabase.MediaBucket), log.Named("media"))
	} else {
		log.Warn("SUPABASE_URL not set; media uploads disabled")
	}

	services := []system.Service{application.Feed}

	if path := strings.TrimSpace(cfg.Reconcile.JournalPath); path != "" {
		journal, err := reconcile.OpenJournal(path)
		if err != nil {
			return nil, err
		}
		application.closers = append(application.closers, journal.Close)
		application.Journal = journal
		application.Unlock.WithJournal(journal)

		reconciler, err := reconcile.NewReconciler(journal, purchases, cfg.Reconcile.Schedule, log.Named("reconciler"))
		if err != nil {
			_ = journal.Close()
			return nil, err
		}
		application.Reconciler = reconciler
		services = append(services, reconciler)
	} else {
		log.Warn("RECONCILE_JOURNAL not set; unrecorded payments are only logged")
	}

	if comps.Supabase != nil && cfg.Storage.Driver == config.DriverSupabase {
		services = append(services, feed.NewRelay(comps.Supabase.Realtime(), application.Feed, log.Named("feed-relay")))
	}

	for _, svc := range services {
		if err := application.manager.Register(svc); err != nil {
			application.Close()
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}
	return application, nil
}

func buildSettler(cfg config.SettlementConfig, log *logger.Logger) (unlock.Settler, error) {
	switch cfg.Mode {
	case config.SettlementHTTP:
		httpClient := &http.Client{Timeout: cfg.Timeout}
		s, err := settlement.NewHTTP(httpClient, cfg.Endpoint, cfg.APIKey, log.Named("settlement"))
		if err != nil {
			return nil, fmt.Errorf("configure settlement: %w", err)
		}
		return s, nil
	default:
		log.Warn("using simulated settlement; no real payment is taken")
		return settlement.NewSimulated(cfg.Delay, log.Named("settlement")), nil
	}
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Close releases backend connections. Call after Stop.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
