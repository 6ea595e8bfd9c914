package repository

import (
	"context"

	"github.com/utafrali/VideoTubeGo/internal/domain"
)

// UserRepository defines the interface for user persistence operations.
// Lookups return apperrors.ErrNotFound when no user matches.
type UserRepository interface {
	// Create inserts a new user. A duplicate username or email yields a
	// conflict error.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByUsernameOrEmail retrieves the user whose username or email
	// matches. Empty arguments never match.
	GetByUsernameOrEmail(ctx context.Context, username, email string) (*domain.User, error)

	// UpdatePassword stores a new password hash and clears the stored
	// refresh token in the same write.
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// SetRefreshToken overwrites the stored refresh token.
	SetRefreshToken(ctx context.Context, id, token string) error

	// SwapRefreshToken replaces the stored refresh token with next only if
	// it still equals current. It reports whether the swap happened.
	SwapRefreshToken(ctx context.Context, id, current, next string) (bool, error)

	// ClearRefreshToken removes the stored refresh token. Clearing an
	// absent token or unknown user is not an error.
	ClearRefreshToken(ctx context.Context, id string) error
}
