package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Sternrassler/market-gateway/pkg/api"
	"github.com/Sternrassler/market-gateway/pkg/cache"
	"github.com/Sternrassler/market-gateway/pkg/config"
	"github.com/Sternrassler/market-gateway/pkg/database"
	"github.com/Sternrassler/market-gateway/pkg/fetch"
	"github.com/Sternrassler/market-gateway/pkg/logging"
	"github.com/Sternrassler/market-gateway/pkg/metrics"
	"github.com/Sternrassler/market-gateway/pkg/pricing"
	"github.com/Sternrassler/market-gateway/pkg/ratelimit"
	"github.com/Sternrassler/market-gateway/pkg/store"
)

func main() {
	cfg := config.Load()

	logger := logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Prices are rendered as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start gateway")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.manager.OnReady(a.prepareSchema)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Str("upstream", cfg.Skinport.BaseURL).
			Msg("Starting market gateway")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Unclean shutdown")
		os.Exit(1)
	}
	logger.Info().Msg("Gateway stopped")
}

// app holds the long-lived collaborators shared by all requests.
type app struct {
	server  *http.Server
	manager *database.Manager
	redis   *redis.Client
	store   *store.Store
	logger  zerolog.Logger
}

// newApp wires the gateway. The database connects in the background, so
// newApp succeeds while Postgres is still unreachable.
func newApp(cfg config.Config, logger zerolog.Logger) (*app, error) {
	// Step 1: Cache and upstream cooldown share one Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisStore := cache.NewRedisStore(redisClient)
	aside := cache.NewAside(redisStore, logger)
	tracker := ratelimit.NewTracker(redisClient, logging.NewLogger("ratelimit"))

	// Step 2: Upstream client and pricing proxy
	fetchCfg := fetch.DefaultConfig(cfg.Skinport.UserAgent)
	fetchCfg.Timeout = cfg.Skinport.Timeout
	fetchCfg.Limiter = tracker
	fetcher, err := fetch.New(fetchCfg, logger)
	if err != nil {
		redisClient.Close()
		return nil, err
	}
	pricingSvc := pricing.NewService(fetcher, aside, pricing.Config{
		BaseURL: cfg.Skinport.BaseURL,
		TTL:     cfg.Skinport.CacheTTL,
	}, logger)

	// Step 3: Supervised database connection
	dial, err := database.PgxDialer(cfg.Postgres.DSN(), cfg.Database.ConnectTimeout)
	if err != nil {
		redisClient.Close()
		return nil, err
	}
	managerCfg := database.DefaultManagerConfig()
	managerCfg.MaxRetries = cfg.Database.MaxRetries
	managerCfg.RetryInterval = cfg.Database.RetryInterval
	managerCfg.ConnectTimeout = cfg.Database.ConnectTimeout
	managerCfg.HealthCheckInterval = cfg.Database.HealthCheckInterval
	manager := database.NewManager(dial, managerCfg, logger)
	executor := database.NewExecutor(manager, cfg.Database.QueryTimeout, logger)
	purchases := store.New(executor, logger)

	// Step 4: HTTP surface
	apiLogger := logging.NewLogger("api")
	handler := api.NewHandler(api.Deps{
		Pricing:  pricingSvc,
		Store:    purchases,
		Database: manager,
		Cache:    aside,
		Redis:    redisStore,
		Cooldown: tracker,
		Defaults: pricing.Defaults{
			AppID:    cfg.Skinport.DefaultAppID,
			Currency: cfg.Skinport.DefaultCurrency,
		},
	}, apiLogger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handler, metrics.Handler(), apiLogger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &app{
		server:  server,
		manager: manager,
		redis:   redisClient,
		store:   purchases,
		logger:  logger,
	}, nil
}

// prepareSchema creates the tables. It runs every time the database becomes
// ready, so a server that came up empty after an outage is provisioned too.
func (a *app) prepareSchema(ctx context.Context) {
	if err := a.store.EnsureSchema(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to ensure schema")
		return
	}
	a.logger.Info().Msg("Schema ready")
}

// shutdown drains HTTP first, then closes the stores.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.manager.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.redis.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
