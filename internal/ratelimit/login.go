package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps Redis failures so callers can decide to fail open.
var ErrUnavailable = errors.New("rate limit store unavailable")

const keyPrefix = "videotube:login_attempts:"

// Config holds login throttling settings.
type Config struct {
	// MaxAttempts is the number of failed logins allowed per window.
	MaxAttempts int
	// Window is the fixed window length, started by the first failure.
	Window time.Duration
}

// DefaultConfig returns five failures per fifteen minutes.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, Window: 15 * time.Minute}
}

// LoginLimiter counts failed logins per identifier and client IP in Redis
// using fixed windows.
type LoginLimiter struct {
	redis redis.UniversalClient
	cfg   Config
}

// NewLoginLimiter creates a limiter backed by client.
func NewLoginLimiter(client redis.UniversalClient, cfg Config) *LoginLimiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &LoginLimiter{redis: client, cfg: cfg}
}

// Key builds the counter key for an identifier and client IP.
func Key(identifier, ip string) string {
	return keyPrefix + strings.ToLower(strings.TrimSpace(identifier)) + "|" + ip
}

// Allow reports whether another login attempt is permitted for key. When
// it is not, the remaining window is returned. Redis errors allow the
// attempt and are returned wrapped in ErrUnavailable.
func (l *LoginLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true, 0, nil
		}
		return true, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if count < int64(l.cfg.MaxAttempts) {
		return true, 0, nil
	}

	ttl, err := l.redis.TTL(ctx, key).Result()
	if err != nil {
		return true, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl <= 0 {
		ttl = l.cfg.Window
	}
	return false, ttl, nil
}

// Fail records a failed attempt and returns the count in the current window.
func (l *LoginLimiter) Fail(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// The first failure opens the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.cfg.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return count, nil
}

// Reset clears the counter after a successful login.
func (l *LoginLimiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
