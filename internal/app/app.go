package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/VideoTubeGo/internal/auth"
	"github.com/utafrali/VideoTubeGo/internal/config"
	"github.com/utafrali/VideoTubeGo/internal/event"
	handler "github.com/utafrali/VideoTubeGo/internal/handler/http"
	"github.com/utafrali/VideoTubeGo/internal/identity"
	"github.com/utafrali/VideoTubeGo/internal/ratelimit"
	"github.com/utafrali/VideoTubeGo/internal/repository"
	"github.com/utafrali/VideoTubeGo/internal/repository/memory"
	"github.com/utafrali/VideoTubeGo/internal/repository/postgres"
	"github.com/utafrali/VideoTubeGo/internal/service"
	"github.com/utafrali/VideoTubeGo/internal/storage"
	memstorage "github.com/utafrali/VideoTubeGo/internal/storage/memory"
	s3storage "github.com/utafrali/VideoTubeGo/internal/storage/s3"
	"github.com/utafrali/VideoTubeGo/migrations"
	"github.com/utafrali/VideoTubeGo/pkg/database"
	"github.com/utafrali/VideoTubeGo/pkg/health"
	pkgkafka "github.com/utafrali/VideoTubeGo/pkg/kafka"
	"github.com/utafrali/VideoTubeGo/pkg/middleware"
	"github.com/utafrali/VideoTubeGo/pkg/tracing"
)

// ServiceName identifies the account service in logs, metrics and traces.
const ServiceName = "videotube-auth"

// App wires together all dependencies and runs the account service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	handler        http.Handler
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
	stopBackground context.CancelFunc
}

// NewApp creates a new application instance, initializing all dependencies.
// Optional dependencies (Redis, Kafka, S3) are only dialled when configured.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	// Initialize OpenTelemetry tracing.
	a.tracerShutdown, err = tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Insecure:       cfg.IsDevelopment(),
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	healthHandler := health.NewHandler()

	users, err := a.userRepository(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	assets, err := a.assetStorage(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	limiter, err := a.loginLimiter(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	events := a.eventPublisher(healthHandler)

	// Build the dependency graph.
	store := identity.NewStore(users, cfg.BcryptCost)
	issuer := auth.NewTokenIssuer(auth.Config{
		AccessSecret:  cfg.AccessTokenSecret,
		AccessExpiry:  cfg.AccessTokenExpiry,
		RefreshSecret: cfg.RefreshTokenSecret,
		RefreshExpiry: cfg.RefreshTokenExpiry,
		Issuer:        auth.DefaultIssuer,
	})
	authService := service.NewAuthService(store, store, issuer, assets, events, logger)

	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins

	bgCtx, stop := context.WithCancel(context.Background())
	a.stopBackground = stop

	a.handler = handler.NewRouter(bgCtx, handler.RouterConfig{
		ServiceName:    ServiceName,
		Service:        authService,
		Limiter:        limiter,
		TokenValidator: handler.TokenValidator(issuer),
		Health:         healthHandler,
		Logger:         logger,
		CORS:           corsCfg,
		TrustedProxies: proxies,
		Cookies:        handler.CookieConfig{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain},
		MaxUploadBytes: cfg.MaxUploadBytes,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           a.handler,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Handler returns the fully wired HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) userRepository(ctx context.Context, h *health.Handler) (repository.UserRepository, error) {
	if a.cfg.StoreDriver == config.DriverMemory {
		a.logger.Warn("using in-memory user store, data will not survive a restart")
		return memory.NewUserRepository(), nil
	}

	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = a.cfg.PostgresHost
	pgCfg.Port = a.cfg.PostgresPort
	pgCfg.User = a.cfg.PostgresUser
	pgCfg.Password = a.cfg.PostgresPass
	pgCfg.DBName = a.cfg.PostgresDB
	pgCfg.SSLMode = a.cfg.PostgresSSL
	pgCfg.MaxConns = a.cfg.DBMaxConns
	pgCfg.MinConns = a.cfg.DBMinConns

	pool, err := database.NewPostgresPool(ctx, &pgCfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", a.cfg.PostgresHost),
		slog.Int("port", a.cfg.PostgresPort),
		slog.String("database", a.cfg.PostgresDB),
	)

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, ServiceName); err != nil {
		a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	// Configure slow query logging.
	if a.cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(a.cfg.SlowQueryThresholdMs)*time.Millisecond, a.logger)
	}

	h.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	return postgres.NewUserRepository(pool), nil
}

func (a *App) assetStorage(ctx context.Context, h *health.Handler) (storage.Storage, error) {
	if a.cfg.AssetStorage == config.StorageMemory {
		a.logger.Warn("using in-memory asset storage, uploads will not survive a restart")
		return memstorage.New(a.cfg.MemoryAssetBaseURL), nil
	}

	s3, err := s3storage.New(ctx, s3storage.Config{
		Bucket:        a.cfg.S3Bucket,
		Region:        a.cfg.S3Region,
		Endpoint:      a.cfg.S3Endpoint,
		AccessKey:     a.cfg.S3AccessKey,
		SecretKey:     a.cfg.S3SecretKey,
		PublicBaseURL: a.cfg.S3PublicBaseURL,
		UsePathStyle:  a.cfg.S3UsePathStyle,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init s3 storage: %w", err)
	}
	a.logger.Info("s3 asset storage initialized", slog.String("bucket", a.cfg.S3Bucket))

	h.Register("s3", s3.Ping)
	return s3, nil
}

// loginLimiter returns nil when Redis is not configured, which disables
// login throttling.
func (a *App) loginLimiter(ctx context.Context, h *health.Handler) (handler.LoginLimiter, error) {
	if a.cfg.RedisAddr == "" {
		a.logger.Warn("REDIS_ADDR not set, login throttling disabled")
		return nil, nil
	}

	redisCfg := database.DefaultRedisConfig()
	redisCfg.Addr = a.cfg.RedisAddr
	redisCfg.Password = a.cfg.RedisPassword
	redisCfg.DB = a.cfg.RedisDB

	client, err := database.NewRedisClient(ctx, redisCfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = client
	a.logger.Info("connected to Redis", slog.String("addr", a.cfg.RedisAddr))

	h.Register("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})

	return ratelimit.NewLoginLimiter(client, ratelimit.Config{
		MaxAttempts: a.cfg.LoginMaxAttempts,
		Window:      a.cfg.LoginAttemptWindow,
	}), nil
}

// eventPublisher returns nil when Kafka is disabled; the service then
// discards events.
func (a *App) eventPublisher(h *health.Handler) service.EventPublisher {
	if !a.cfg.KafkaEnabled {
		a.logger.Info("kafka disabled, domain events will not be published")
		return nil
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(a.cfg.KafkaBrokers), a.logger)
	a.producer = producer
	a.logger.Info("kafka producer initialized", slog.Any("brokers", a.cfg.KafkaBrokers))

	h.Register("kafka", producer.Ping)
	return event.NewProducer(producer, a.logger)
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer, Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (10s budget).
	if a.httpServer != nil {
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpCancel()
		if err := a.httpServer.Shutdown(httpCtx); err != nil {
			a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}

	// 3. Close clients.
	errs = append(errs, a.release())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// release closes every client opened so far. It is safe to call more than once.
func (a *App) release() error {
	var errs []error

	if a.stopBackground != nil {
		a.stopBackground()
		a.stopBackground = nil
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.producer = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}

	return errors.Join(errs...)
}
