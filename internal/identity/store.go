package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/VideoTubeGo/internal/domain"
	"github.com/utafrali/VideoTubeGo/internal/repository"
)

// DefaultBcryptCost is used when no cost is configured.
const DefaultBcryptCost = 10

// MaxPasswordBytes is the longest password bcrypt will hash.
const MaxPasswordBytes = 72

// ErrPasswordTooLong is returned for passwords over MaxPasswordBytes.
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// NewUser holds the fields needed to create an account.
type NewUser struct {
	Username   string
	Email      string
	FullName   string
	Password   string
	Avatar     string
	CoverImage string
}

// Store owns user identities and their session field. It hashes passwords
// with bcrypt and keeps usernames lower-cased.
type Store struct {
	users repository.UserRepository
	cost  int
	now   func() time.Time
}

// NewStore creates an identity store over users.
func NewStore(users repository.UserRepository, bcryptCost int) *Store {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = DefaultBcryptCost
	}
	return &Store{
		users: users,
		cost:  bcryptCost,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// FindByIdentifier looks a user up by username or email.
func (s *Store) FindByIdentifier(ctx context.Context, username, email string) (*domain.User, error) {
	return s.users.GetByUsernameOrEmail(ctx, domain.NormalizeUsername(username), strings.TrimSpace(email))
}

// FindByID looks a user up by id.
func (s *Store) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

// Create hashes the password and persists a new user.
func (s *Store) Create(ctx context.Context, in NewUser) (*domain.User, error) {
	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	u := &domain.User{
		ID:           uuid.NewString(),
		Username:     domain.NormalizeUsername(in.Username),
		Email:        strings.TrimSpace(in.Email),
		FullName:     strings.TrimSpace(in.FullName),
		Avatar:       in.Avatar,
		CoverImage:   in.CoverImage,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// VerifyPassword reports whether password matches the user's hash. A
// malformed stored hash is returned as an error rather than a mismatch.
func (s *Store) VerifyPassword(user *domain.User, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("compare password hash: %w", err)
	}
}

// UpdatePassword stores a hash of password and ends the user's session.
func (s *Store) UpdatePassword(ctx context.Context, userID, password string) error {
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, userID, hash)
}

// SaveRefreshToken overwrites the user's stored refresh token.
func (s *Store) SaveRefreshToken(ctx context.Context, userID, token string) error {
	return s.users.SetRefreshToken(ctx, userID, token)
}

// RotateRefreshToken replaces current with next if current is still the
// stored value. A false result means another request rotated or cleared it.
func (s *Store) RotateRefreshToken(ctx context.Context, userID, current, next string) (bool, error) {
	return s.users.SwapRefreshToken(ctx, userID, current, next)
}

// ClearRefreshToken ends the user's session.
func (s *Store) ClearRefreshToken(ctx context.Context, userID string) error {
	return s.users.ClearRefreshToken(ctx, userID)
}

func (s *Store) hash(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
