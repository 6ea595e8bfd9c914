package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/VideoTubeGo/internal/auth"
	"github.com/utafrali/VideoTubeGo/internal/domain"
	"github.com/utafrali/VideoTubeGo/pkg/health"
	"github.com/utafrali/VideoTubeGo/pkg/middleware"
)

// RouterConfig carries everything the router mounts.
type RouterConfig struct {
	ServiceName    string
	Service        AuthService
	Limiter        LoginLimiter
	TokenValidator middleware.TokenValidator
	Health         *health.Handler
	Logger         *slog.Logger
	CORS           middleware.CORSConfig
	TrustedProxies middleware.TrustedProxies
	Cookies        CookieConfig
	MaxUploadBytes int64
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter creates a chi router with all account service routes registered.
// ctx bounds the background eviction of per-IP rate limit buckets.
func NewRouter(ctx context.Context, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP(cfg.TrustedProxies))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	authHandler := NewAuthHandler(cfg.Service, cfg.Limiter, cfg.Cookies, cfg.MaxUploadBytes, cfg.Logger)
	userHandler := NewUserHandler(cfg.Service, cfg.Logger)
	requireAuth := middleware.Auth(domain.AccessTokenCookie, cfg.TokenValidator)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.Logger))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.RefreshToken)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Use(middleware.RequestLogger(cfg.Logger))

				r.Post("/logout", authHandler.Logout)
				r.Post("/change-password", authHandler.ChangePassword)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(middleware.RequestLogger(cfg.Logger))

			r.Get("/me", userHandler.GetProfile)
		})
	})

	return r
}

// AccessVerifier verifies access tokens.
type AccessVerifier interface {
	VerifyAccessToken(token string) (*auth.AccessClaims, error)
}

// TokenValidator bridges an AccessVerifier to the Auth middleware.
func TokenValidator(v AccessVerifier) middleware.TokenValidator {
	return func(token string) (*middleware.Claims, error) {
		claims, err := v.VerifyAccessToken(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			UserID:   claims.UserID,
			Email:    claims.Email,
			Username: claims.Username,
		}, nil
	}
}
