package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/VideoTubeGo/internal/domain"
	"github.com/utafrali/VideoTubeGo/pkg/database"
	apperrors "github.com/utafrali/VideoTubeGo/pkg/errors"
)

const userColumns = `id, username, email, full_name, avatar, cover_image, password_hash, refresh_token, created_at, updated_at`

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db  database.DBTX
	now func() time.Time
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new user into the database.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) (err error) {
	query := `
		INSERT INTO users (id, username, email, full_name, avatar, cover_image, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	ctx, end := database.TraceQuery(ctx, "users.create", "users", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		u.ID,
		u.Username,
		u.Email,
		u.FullName,
		u.Avatar,
		u.CoverImage,
		u.PasswordHash,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("insert user (%s): %w", database.ConstraintName(err),
				apperrors.Conflict("user with email or username already exists"))
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by their ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(ctx, "users.get_by_id", query, id)
}

// GetByUsernameOrEmail retrieves a user matching either identifier.
func (r *UserRepository) GetByUsernameOrEmail(ctx context.Context, username, email string) (*domain.User, error) {
	if username == "" && email == "" {
		return nil, apperrors.ErrNotFound
	}

	// NULLIF keeps an empty argument from matching anything.
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE username = NULLIF($1, '') OR email = NULLIF($2, '')
		LIMIT 1`
	return r.scanUser(ctx, "users.get_by_identifier", query, username, email)
}

// UpdatePassword stores a new password hash and ends the current session.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) (err error) {
	query := `UPDATE users SET password_hash = $1, refresh_token = NULL, updated_at = $2 WHERE id = $3`

	ctx, end := database.TraceQuery(ctx, "users.update_password", "users", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, passwordHash, r.now(), id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// SetRefreshToken overwrites the stored refresh token.
func (r *UserRepository) SetRefreshToken(ctx context.Context, id, token string) (err error) {
	query := `UPDATE users SET refresh_token = $1, updated_at = $2 WHERE id = $3`

	ctx, end := database.TraceQuery(ctx, "users.set_refresh_token", "users", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, token, r.now(), id)
	if err != nil {
		return fmt.Errorf("set refresh token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// SwapRefreshToken replaces current with next in a single conditional update.
func (r *UserRepository) SwapRefreshToken(ctx context.Context, id, current, next string) (swapped bool, err error) {
	query := `UPDATE users SET refresh_token = $1, updated_at = $2 WHERE id = $3 AND refresh_token = $4`

	ctx, end := database.TraceQuery(ctx, "users.swap_refresh_token", "users", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, next, r.now(), id, current)
	if err != nil {
		return false, fmt.Errorf("swap refresh token: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// ClearRefreshToken sets the stored refresh token to NULL.
func (r *UserRepository) ClearRefreshToken(ctx context.Context, id string) (err error) {
	query := `UPDATE users SET refresh_token = NULL, updated_at = $1 WHERE id = $2 AND refresh_token IS NOT NULL`

	ctx, end := database.TraceQuery(ctx, "users.clear_refresh_token", "users", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, r.now(), id); err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return nil
}

// scanUser executes a query expected to return a single user row.
func (r *UserRepository) scanUser(ctx context.Context, operation, query string, args ...any) (_ *domain.User, err error) {
	ctx, end := database.TraceQuery(ctx, operation, "users", query)
	defer func() { end(err) }()

	var (
		u            domain.User
		refreshToken *string
	)
	err = r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.FullName,
		&u.Avatar,
		&u.CoverImage,
		&u.PasswordHash,
		&refreshToken,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if refreshToken != nil {
		u.RefreshToken = *refreshToken
	}

	return &u, nil
}
