package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/utafrali/VideoTubeGo/internal/domain"
)

// ErrInvalidToken is returned for any token that fails verification:
// bad signature, malformed, unexpected algorithm or expired.
var ErrInvalidToken = errors.New("invalid token")

// DefaultIssuer is the iss claim of every token minted by this service.
const DefaultIssuer = "videotube-auth"

// AccessClaims are carried by access tokens.
type AccessClaims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	jwt.RegisteredClaims
}

// RefreshClaims are carried by refresh tokens. Only the user id is embedded.
type RefreshClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Config holds token signing settings. Access and refresh tokens must use
// different secrets.
type Config struct {
	AccessSecret  string
	AccessExpiry  time.Duration
	RefreshSecret string
	RefreshExpiry time.Duration
	Issuer        string
}

// TokenIssuer mints and verifies HS256 access and refresh tokens.
type TokenIssuer struct {
	accessSecret  []byte
	accessExpiry  time.Duration
	refreshSecret []byte
	refreshExpiry time.Duration
	issuer        string
	now           func() time.Time
}

// NewTokenIssuer creates a token issuer from cfg.
func NewTokenIssuer(cfg Config) *TokenIssuer {
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &TokenIssuer{
		accessSecret:  []byte(cfg.AccessSecret),
		accessExpiry:  cfg.AccessExpiry,
		refreshSecret: []byte(cfg.RefreshSecret),
		refreshExpiry: cfg.RefreshExpiry,
		issuer:        issuer,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for issuing and verifying.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	i.now = now
	return i
}

func (i *TokenIssuer) registered(userID string, expiry time.Duration) (jwt.RegisteredClaims, time.Time) {
	now := i.now()
	expiresAt := now.Add(expiry)
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}, expiresAt
}

// IssueAccessToken creates a short-lived access token for user.
func (i *TokenIssuer) IssueAccessToken(user *domain.User) (string, time.Time, error) {
	registered, expiresAt := i.registered(user.ID, i.accessExpiry)
	claims := &AccessClaims{
		UserID:           user.ID,
		Email:            user.Email,
		Username:         user.Username,
		FullName:         user.FullName,
		RegisteredClaims: registered,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssueRefreshToken creates a long-lived refresh token for user. Every call
// yields a distinct token, even within the same second.
func (i *TokenIssuer) IssueRefreshToken(user *domain.User) (string, time.Time, error) {
	registered, expiresAt := i.registered(user.ID, i.refreshExpiry)
	claims := &RefreshClaims{
		UserID:           user.ID,
		RegisteredClaims: registered,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssuePair mints a new access and refresh token for user.
func (i *TokenIssuer) IssuePair(user *domain.User) (*domain.TokenPair, error) {
	access, accessExp, err := i.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := i.IssueRefreshToken(user)
	if err != nil {
		return nil, err
	}
	return &domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccessToken checks signature, algorithm, issuer and expiry of an
// access token. It never consults storage.
func (i *TokenIssuer) VerifyAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(token, claims, i.accessSecret); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}
	return claims, nil
}

// VerifyRefreshToken checks signature, algorithm, issuer and expiry of a
// refresh token. It never consults storage.
func (i *TokenIssuer) VerifyRefreshToken(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.parse(token, claims, i.refreshSecret); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}
	return claims, nil
}

func (i *TokenIssuer) parse(token string, claims jwt.Claims, secret []byte) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
