package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/fpilot/internal/backoff"
	"github.com/osvaldoandrade/fpilot/internal/metrics"
	"github.com/osvaldoandrade/fpilot/internal/middleware"
	"github.com/osvaldoandrade/fpilot/internal/providers"
	"github.com/osvaldoandrade/fpilot/internal/ratelimit"
	"github.com/osvaldoandrade/fpilot/internal/services"
	"github.com/osvaldoandrade/fpilot/internal/tracing"
	"github.com/osvaldoandrade/fpilot/pkg/auth"
	"github.com/osvaldoandrade/fpilot/pkg/config"
	"github.com/osvaldoandrade/fpilot/pkg/flow"
	"github.com/osvaldoandrade/fpilot/pkg/gateway"
	"github.com/osvaldoandrade/fpilot/pkg/persistence"
	redisstore "github.com/osvaldoandrade/fpilot/pkg/persistence/redis"
)

type Application struct {
	Config      *config.Config
	Engine      *gin.Engine
	Logger      *slog.Logger
	TZ          *time.Location
	Validator   auth.Validator
	RateLimiter ratelimit.Limiter
	Redis       *redis.Client
	Store       persistence.PluginPersistence
	Backend     gateway.Backend
	Registry    *flow.Registry
	Executor    flow.Executor

	Runs       services.RunService
	Strategies services.StrategyService
	Signals    services.SignalService
	Backtests  services.BacktestService
	Profiles   services.ProfileService

	TracingShutdown func(context.Context) error

	ownRedis bool
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithValidator sets a custom token validator
func WithValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.Validator = validator
		return nil
	}
}

// WithBackend replaces the configured model backend
func WithBackend(backend gateway.Backend) ApplicationOption {
	return func(app *Application) error {
		app.Backend = backend
		return nil
	}
}

// WithRedisClient shares an existing client instead of dialing RedisAddr
func WithRedisClient(rdb *redis.Client) ApplicationOption {
	return func(app *Application) error {
		app.Redis = rdb
		return nil
	}
}

// WithLogger replaces the logger built from the log settings
func WithLogger(logger *slog.Logger) ApplicationOption {
	return func(app *Application) error {
		app.Logger = logger
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{Config: cfg}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.FixedZone("UTC", 0)
	}
	app.TZ = loc

	if app.Logger == nil {
		app.Logger = newLogger(cfg)
		slog.SetDefault(app.Logger)
	}
	logger := app.Logger

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  "fpilot",
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	app.TracingShutdown = shutdown

	if app.Redis == nil && cfg.RedisAddr != "" {
		app.Redis = providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		app.ownRedis = true
	}
	if app.Redis != nil {
		if err := providers.CheckRedis(context.Background(), app.Redis, 2*time.Second); err != nil {
			logger.Warn("redis unreachable at startup, rate limits fail open", "err", err)
		}
	}
	app.RateLimiter = ratelimit.NewLimiter(app.Redis)

	if err := app.initStore(); err != nil {
		return nil, err
	}
	if err := app.initExecutor(); err != nil {
		return nil, err
	}
	if err := app.initValidator(); err != nil {
		return nil, err
	}

	callback := services.NewResultCallbackService(
		logger,
		cfg.WebhookHmacSecret,
		cfg.ResultWebhookMaxAttempts,
		cfg.ResultWebhookBaseBackoffSeconds,
		cfg.ResultWebhookMaxBackoffSeconds,
		app.RateLimiter,
		ratelimit.Bucket(cfg.RateLimit.Webhook),
	)
	strategies := app.Store.StrategyStorage()
	app.Profiles = services.NewProfileService(app.Store.ProfileStorage(), time.Now)
	app.Runs = services.NewRunService(app.Executor, app.Registry, app.Store.RunStorage(), callback, logger, time.Now, services.RunServiceOptions{
		MaxBackground:     cfg.MaxBackgroundRuns,
		BackgroundTimeout: time.Duration(cfg.BackgroundTimeoutSeconds) * time.Second,
	})
	app.Strategies = services.NewStrategyService(app.Executor, strategies, providers.NewLocalUploader(cfg.LocalArtifactsDir), logger, time.Now)
	app.Signals = services.NewSignalService(app.Executor, strategies, app.Profiles)
	app.Backtests = services.NewBacktestService(app.Executor, strategies, cfg.CompareConcurrency)

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(),
		middleware.LoggerMiddleware(logger),
	)
	app.Engine = engine
	return app, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "fpilot", "env", cfg.Env)
}

// initStore shares the application Redis client with a redis store that has
// no address of its own.
func (app *Application) initStore() error {
	cfg := app.Config
	pluginCfg := persistence.PluginConfig{Timezone: app.TZ, RunRetention: cfg.RunRetention()}
	if cfg.Persistence.Type == "redis" && app.Redis != nil && cfg.Persistence.Config["addr"] == nil {
		store := redisstore.New(app.Redis, pluginCfg)
		metrics.RegisterRedisCollector(store.Client(), app.Logger)
		app.Store = store
		return nil
	}
	raw, err := cfg.PersistenceProviderConfig()
	if err != nil {
		return fmt.Errorf("persistence config: %w", err)
	}
	pluginCfg.Config = raw
	store, err := persistence.NewPersistence(persistence.ProviderConfig{Type: cfg.Persistence.Type, Config: raw}, pluginCfg)
	if err != nil {
		return fmt.Errorf("persistence: %w", err)
	}
	if rs, ok := store.(*redisstore.Plugin); ok {
		metrics.RegisterRedisCollector(rs.Client(), app.Logger)
	}
	app.Store = store
	return nil
}

// initExecutor builds runner, retry and cache around the model gateway.
func (app *Application) initExecutor() error {
	cfg := app.Config
	if app.Backend == nil {
		static, err := cfg.StaticResponses()
		if err != nil {
			return fmt.Errorf("llm static config: %w", err)
		}
		backend, err := gateway.NewBackend(cfg.LLM.Provider, gateway.BackendConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Config:  static,
		})
		if err != nil {
			return fmt.Errorf("llm backend: %w", err)
		}
		app.Backend = backend
	}
	gw, err := gateway.New(app.Backend, gateway.Options{
		Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		Model: gateway.ModelConfig{
			Model:           cfg.LLM.Model,
			Temperature:     cfg.LLM.Temperature,
			MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		},
		Logger: app.Logger,
	})
	if err != nil {
		return err
	}
	registry, err := flow.NewCatalogueRegistry()
	if err != nil {
		return fmt.Errorf("catalogue: %w", err)
	}
	app.Registry = registry

	var exec flow.Executor = flow.NewRunner(registry, gw, flow.WithObserver(flow.LogObserver(app.Logger)))
	exec = flow.NewRetrying(exec, flow.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Policy:      backoff.Policy(cfg.Retry.Policy),
		Base:        time.Duration(cfg.Retry.BaseSeconds) * time.Second,
		Max:         time.Duration(cfg.Retry.MaxSeconds) * time.Second,
	})
	if len(cfg.Cache.Tasks) > 0 {
		exec = flow.NewCaching(exec, flow.CacheOptions{
			Size:  cfg.Cache.Size,
			TTL:   time.Duration(cfg.Cache.TTLSeconds) * time.Second,
			Tasks: cfg.Cache.Tasks,
		})
	}
	app.Executor = exec
	return nil
}

func (app *Application) initValidator() error {
	if app.Validator != nil || app.Config.AuthProvider == "" {
		return nil
	}
	raw, err := app.Config.AuthProviderConfig()
	if err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	validator, err := auth.NewValidator(auth.ProviderConfig{Type: app.Config.AuthProvider, Config: raw})
	if err != nil {
		return err
	}
	app.Validator = validator
	return nil
}

// Shutdown waits for background runs, then releases the store, the Redis
// client it dialed and the trace exporter.
func (app *Application) Shutdown(ctx context.Context) error {
	var errs []error
	if app.Runs != nil {
		if err := app.Runs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("runs: %w", err))
		}
	}
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if app.Redis != nil && app.ownRedis {
		if err := app.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if app.TracingShutdown != nil {
		if err := app.TracingShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}
