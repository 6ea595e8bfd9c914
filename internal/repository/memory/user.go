package memory

import (
	"context"
	"sync"
	"time"

	"github.com/utafrali/VideoTubeGo/internal/domain"
	apperrors "github.com/utafrali/VideoTubeGo/pkg/errors"
)

// UserRepository implements repository.UserRepository in process memory.
// Stored users are copied on the way in and out.
type UserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User
	now   func() time.Time
}

// NewUserRepository creates an empty in-memory user repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		users: make(map[string]*domain.User),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a copy of u.
func (r *UserRepository) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[u.ID]; exists {
		return apperrors.Conflict("user with email or username already exists")
	}
	for _, existing := range r.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return apperrors.Conflict("user with email or username already exists")
		}
	}

	stored := *u
	r.users[u.ID] = &stored
	return nil
}

// GetByID returns a copy of the user with the given id.
func (r *UserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	found := *u
	return &found, nil
}

// GetByUsernameOrEmail returns a copy of the first user matching either identifier.
func (r *UserRepository) GetByUsernameOrEmail(_ context.Context, username, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if (username != "" && u.Username == username) || (email != "" && u.Email == email) {
			found := *u
			return &found, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

// UpdatePassword stores a new hash and clears the session.
func (r *UserRepository) UpdatePassword(_ context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.RefreshToken = ""
	u.UpdatedAt = r.now()
	return nil
}

// SetRefreshToken overwrites the stored refresh token.
func (r *UserRepository) SetRefreshToken(_ context.Context, id, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	u.RefreshToken = token
	u.UpdatedAt = r.now()
	return nil
}

// SwapRefreshToken replaces current with next under the write lock.
func (r *UserRepository) SwapRefreshToken(_ context.Context, id, current, next string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok || current == "" || u.RefreshToken != current {
		return false, nil
	}
	u.RefreshToken = next
	u.UpdatedAt = r.now()
	return true, nil
}

// ClearRefreshToken removes the stored refresh token if present.
func (r *UserRepository) ClearRefreshToken(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[id]; ok && u.RefreshToken != "" {
		u.RefreshToken = ""
		u.UpdatedAt = r.now()
	}
	return nil
}

// Len returns the number of stored users.
func (r *UserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
