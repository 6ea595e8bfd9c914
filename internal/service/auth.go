package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/utafrali/VideoTubeGo/internal/auth"
	"github.com/utafrali/VideoTubeGo/internal/domain"
	"github.com/utafrali/VideoTubeGo/internal/event"
	"github.com/utafrali/VideoTubeGo/internal/identity"
	"github.com/utafrali/VideoTubeGo/internal/storage"
	apperrors "github.com/utafrali/VideoTubeGo/pkg/errors"
	"github.com/utafrali/VideoTubeGo/pkg/logger"
)

// IdentityStore finds, creates and authenticates users.
type IdentityStore interface {
	FindByIdentifier(ctx context.Context, username, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	Create(ctx context.Context, in identity.NewUser) (*domain.User, error)
	VerifyPassword(user *domain.User, password string) (bool, error)
	UpdatePassword(ctx context.Context, userID, password string) error
}

// SessionStore persists the single current refresh token of each user.
type SessionStore interface {
	SaveRefreshToken(ctx context.Context, userID, token string) error
	RotateRefreshToken(ctx context.Context, userID, current, next string) (bool, error)
	ClearRefreshToken(ctx context.Context, userID string) error
}

// TokenIssuer mints token pairs and verifies refresh tokens.
type TokenIssuer interface {
	IssuePair(user *domain.User) (*domain.TokenPair, error)
	VerifyRefreshToken(token string) (*auth.RefreshClaims, error)
}

// EventPublisher announces account and session changes. Failures are
// logged and never fail the operation.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, user *domain.User) error
	PublishSessionStarted(ctx context.Context, userID, reason string) error
	PublishSessionEnded(ctx context.Context, userID, reason string) error
	PublishReuseDetected(ctx context.Context, userID string) error
}

// Result is what every AuthService operation hands back to the transport.
type Result struct {
	Status  int
	Message string
	Profile *domain.Profile
	Tokens  *domain.TokenPair
	Cookies []domain.CookieDirective
}

// FileUpload is an uploaded file as received by the transport.
type FileUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Data        io.Reader
}

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Username   string
	Email      string
	FullName   string
	Password   string
	Avatar     *FileUpload
	CoverImage *FileUpload
}

// LoginInput holds the parameters for user login. Either Username or
// Email identifies the account.
type LoginInput struct {
	Username string
	Email    string
	Password string
}

// ChangePasswordInput holds the parameters for a password change.
type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
}

// Error messages surfaced to clients.
const (
	msgAllFieldsRequired   = "all fields are required"
	msgAvatarRequired      = "avatar file is required"
	msgUserExists          = "user with email or username already exists"
	msgRegisterFailed      = "something went wrong while registering the user"
	msgIdentifierRequired  = "username or email is required"
	msgPasswordRequired    = "password is required"
	msgUserNotFound        = "user does not exist"
	msgInvalidCredentials  = "invalid user credentials"
	msgUnauthorizedRequest = "unauthorized request"
	msgInvalidRefreshToken = "invalid refresh token"
	msgRefreshTokenReused  = "refresh token is expired or used"
	msgInvalidOldPassword  = "invalid old password"
	msgSamePassword        = "new password must differ from current password"
	msgPasswordTooLong     = "password must be at most 72 bytes"
)

// AuthService implements registration, login, logout and refresh-token
// rotation. Each user has at most one valid refresh token; it is replaced
// on every login and refresh and cleared on logout.
type AuthService struct {
	identities IdentityStore
	sessions   SessionStore
	tokens     TokenIssuer
	assets     storage.Storage
	events     EventPublisher
	logger     *slog.Logger
	now        func() time.Time
}

// NewAuthService creates a new auth service.
func NewAuthService(
	identities IdentityStore,
	sessions SessionStore,
	tokens TokenIssuer,
	assets storage.Storage,
	events EventPublisher,
	logger *slog.Logger,
) *AuthService {
	if events == nil {
		events = event.Discard{}
	}
	return &AuthService{
		identities: identities,
		sessions:   sessions,
		tokens:     tokens,
		assets:     assets,
		events:     events,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Register creates an account with an avatar and optional cover image.
// Nothing is written to the user store until input validation, the
// uniqueness check and the avatar upload have succeeded.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*Result, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if in.Username == "" || in.Email == "" || in.FullName == "" || strings.TrimSpace(in.Password) == "" {
		registrationsTotal.WithLabelValues(outcomeInvalid).Inc()
		return nil, apperrors.Validation(msgAllFieldsRequired)
	}
	if len(in.Password) > identity.MaxPasswordBytes {
		registrationsTotal.WithLabelValues(outcomeInvalid).Inc()
		return nil, apperrors.Validation(msgPasswordTooLong)
	}

	_, err := s.identities.FindByIdentifier(ctx, in.Username, in.Email)
	switch {
	case err == nil:
		registrationsTotal.WithLabelValues(outcomeConflict).Inc()
		return nil, apperrors.Conflict(msgUserExists)
	case !errors.Is(err, apperrors.ErrNotFound):
		registrationsTotal.WithLabelValues(outcomeError).Inc()
		return nil, apperrors.Internal("", err)
	}

	if in.Avatar == nil || in.Avatar.Data == nil {
		registrationsTotal.WithLabelValues(outcomeInvalid).Inc()
		return nil, apperrors.Validation(msgAvatarRequired)
	}

	avatar, err := s.upload(ctx, "avatars", in.Avatar)
	if err != nil {
		s.logger.WarnContext(ctx, "avatar upload failed",
			slog.String("username", in.Username),
			slog.String("error", err.Error()),
		)
		registrationsTotal.WithLabelValues(outcomeInvalid).Inc()
		return nil, apperrors.Validation(msgAvatarRequired)
	}
	uploaded := []string{avatar.Key}

	var coverURL string
	if in.CoverImage != nil && in.CoverImage.Data != nil {
		cover, err := s.upload(ctx, "covers", in.CoverImage)
		if err != nil {
			s.logger.WarnContext(ctx, "cover image upload failed, continuing without it",
				slog.String("username", in.Username),
				slog.String("error", err.Error()),
			)
		} else {
			coverURL = cover.URL
			uploaded = append(uploaded, cover.Key)
		}
	}

	created, err := s.identities.Create(ctx, identity.NewUser{
		Username:   in.Username,
		Email:      in.Email,
		FullName:   in.FullName,
		Password:   in.Password,
		Avatar:     avatar.URL,
		CoverImage: coverURL,
	})
	if err != nil {
		s.discardAssets(ctx, uploaded)
		if errors.Is(err, apperrors.ErrConflict) {
			registrationsTotal.WithLabelValues(outcomeConflict).Inc()
			return nil, apperrors.Conflict(msgUserExists)
		}
		if errors.Is(err, identity.ErrPasswordTooLong) {
			registrationsTotal.WithLabelValues(outcomeInvalid).Inc()
			return nil, apperrors.Validation(msgPasswordTooLong)
		}
		registrationsTotal.WithLabelValues(outcomeError).Inc()
		return nil, apperrors.Internal(msgRegisterFailed, err)
	}

	user, err := s.identities.FindByID(ctx, created.ID)
	if err != nil {
		registrationsTotal.WithLabelValues(outcomeError).Inc()
		return nil, apperrors.Internal(msgRegisterFailed, err)
	}

	if err := s.events.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	registrationsTotal.WithLabelValues(outcomeSuccess).Inc()
	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return &Result{
		Status:  http.StatusCreated,
		Message: "user registered successfully",
		Profile: user.Profile(),
	}, nil
}

// Login authenticates by username or email and starts a new session,
// replacing any previous refresh token.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*Result, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" && in.Email == "" {
		loginsTotal.WithLabelValues(outcomeInvalid).Inc()
		return nil, apperrors.Validation(msgIdentifierRequired)
	}
	if in.Password == "" {
		loginsTotal.WithLabelValues(outcomeInvalid).Inc()
		return nil, apperrors.Validation(msgPasswordRequired)
	}

	user, err := s.identities.FindByIdentifier(ctx, in.Username, in.Email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			loginsTotal.WithLabelValues(outcomeNotFound).Inc()
			return nil, apperrors.NotFound(msgUserNotFound)
		}
		loginsTotal.WithLabelValues(outcomeError).Inc()
		return nil, apperrors.Internal("", err)
	}

	ok, err := s.identities.VerifyPassword(user, in.Password)
	if err != nil {
		loginsTotal.WithLabelValues(outcomeError).Inc()
		return nil, apperrors.Internal("", err)
	}
	if !ok {
		loginsTotal.WithLabelValues(outcomeInvalidCredentials).Inc()
		s.logger.InfoContext(ctx, "login rejected", slog.String("user_id", user.ID))
		return nil, apperrors.Unauthorized(msgInvalidCredentials)
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		loginsTotal.WithLabelValues(outcomeError).Inc()
		return nil, apperrors.Internal("", err)
	}
	recordPairIssued()

	// The session write completes before the new pair is handed out.
	if err := s.sessions.SaveRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		loginsTotal.WithLabelValues(outcomeError).Inc()
		return nil, apperrors.Internal("", err)
	}

	s.publishSessionStarted(ctx, user.ID, event.ReasonLogin)
	loginsTotal.WithLabelValues(outcomeSuccess).Inc()
	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))

	return &Result{
		Status:  http.StatusOK,
		Message: "user logged in successfully",
		Profile: user.Profile(),
		Tokens:  pair,
		Cookies: domain.SessionCookies(pair),
	}, nil
}

// Refresh exchanges the user's current refresh token for a new pair. A
// token that verifies but is no longer the stored one has been rotated or
// cleared and is rejected. Every failure is reported as unauthorized.
func (s *AuthService) Refresh(ctx context.Context, presented string) (*Result, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		refreshesTotal.WithLabelValues(outcomeInvalid).Inc()
		return nil, apperrors.Unauthorized(msgUnauthorizedRequest)
	}

	claims, err := s.tokens.VerifyRefreshToken(presented)
	if err != nil {
		refreshesTotal.WithLabelValues(outcomeInvalid).Inc()
		return nil, apperrors.Unauthorized(msgInvalidRefreshToken)
	}

	user, err := s.identities.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			refreshesTotal.WithLabelValues(outcomeInvalid).Inc()
			return nil, apperrors.Unauthorized(msgInvalidRefreshToken)
		}
		refreshesTotal.WithLabelValues(outcomeError).Inc()
		return nil, apperrors.Internal("", err)
	}

	if !user.HasSession() || subtle.ConstantTimeCompare([]byte(presented), []byte(user.RefreshToken)) != 1 {
		return nil, s.rejectReuse(ctx, user.ID, presented)
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		refreshesTotal.WithLabelValues(outcomeError).Inc()
		return nil, apperrors.Internal("", err)
	}
	recordPairIssued()

	rotated, err := s.sessions.RotateRefreshToken(ctx, user.ID, presented, pair.RefreshToken)
	if err != nil {
		refreshesTotal.WithLabelValues(outcomeError).Inc()
		return nil, apperrors.Internal("", err)
	}
	if !rotated {
		// A concurrent refresh with the same token won the swap.
		return nil, s.rejectReuse(ctx, user.ID, presented)
	}

	s.publishSessionStarted(ctx, user.ID, event.ReasonRefresh)
	refreshesTotal.WithLabelValues(outcomeSuccess).Inc()
	s.logger.InfoContext(ctx, "tokens refreshed", slog.String("user_id", user.ID))

	return &Result{
		Status:  http.StatusOK,
		Message: "access token refreshed",
		Tokens:  pair,
		Cookies: domain.SessionCookies(pair),
	}, nil
}

// Logout ends the caller's session. It succeeds when there is no session.
func (s *AuthService) Logout(ctx context.Context, callerID string) (*Result, error) {
	if callerID == "" {
		return nil, apperrors.Unauthorized(msgUnauthorizedRequest)
	}

	if err := s.sessions.ClearRefreshToken(ctx, callerID); err != nil {
		return nil, apperrors.Internal("", err)
	}

	s.publishSessionEnded(ctx, callerID, event.ReasonLogout)
	logoutsTotal.Inc()
	s.logger.InfoContext(ctx, "user logged out", slog.String("user_id", callerID))

	return &Result{
		Status:  http.StatusOK,
		Message: "user logged out",
		Cookies: domain.ClearedSessionCookies(),
	}, nil
}

// CurrentUser returns the caller's profile.
func (s *AuthService) CurrentUser(ctx context.Context, callerID string) (*Result, error) {
	if callerID == "" {
		return nil, apperrors.Unauthorized(msgUnauthorizedRequest)
	}

	user, err := s.identities.FindByID(ctx, callerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound(msgUserNotFound)
		}
		return nil, apperrors.Internal("", err)
	}

	return &Result{
		Status:  http.StatusOK,
		Message: "current user fetched successfully",
		Profile: user.Profile(),
	}, nil
}

// ChangePassword verifies the current password, stores the new one and
// ends the session everywhere.
func (s *AuthService) ChangePassword(ctx context.Context, callerID string, in ChangePasswordInput) (*Result, error) {
	if callerID == "" {
		return nil, apperrors.Unauthorized(msgUnauthorizedRequest)
	}
	if in.CurrentPassword == "" || strings.TrimSpace(in.NewPassword) == "" {
		return nil, apperrors.Validation(msgAllFieldsRequired)
	}
	if in.CurrentPassword == in.NewPassword {
		return nil, apperrors.Validation(msgSamePassword)
	}
	if len(in.NewPassword) > identity.MaxPasswordBytes {
		return nil, apperrors.Validation(msgPasswordTooLong)
	}

	user, err := s.identities.FindByID(ctx, callerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound(msgUserNotFound)
		}
		return nil, apperrors.Internal("", err)
	}

	ok, err := s.identities.VerifyPassword(user, in.CurrentPassword)
	if err != nil {
		return nil, apperrors.Internal("", err)
	}
	if !ok {
		return nil, apperrors.Unauthorized(msgInvalidOldPassword)
	}

	if err := s.identities.UpdatePassword(ctx, user.ID, in.NewPassword); err != nil {
		if errors.Is(err, identity.ErrPasswordTooLong) {
			return nil, apperrors.Validation(msgPasswordTooLong)
		}
		return nil, apperrors.Internal("", err)
	}

	s.publishSessionEnded(ctx, user.ID, event.ReasonPasswordChange)
	s.logger.InfoContext(ctx, "password changed", slog.String("user_id", user.ID))

	return &Result{
		Status:  http.StatusOK,
		Message: "password changed successfully",
		Cookies: domain.ClearedSessionCookies(),
	}, nil
}

func (s *AuthService) rejectReuse(ctx context.Context, userID, presented string) error {
	refreshesTotal.WithLabelValues(outcomeReuse).Inc()
	s.logger.WarnContext(ctx, "stale refresh token presented",
		slog.String("user_id", userID),
		logger.Token("refresh_token", presented),
	)
	if err := s.events.PublishReuseDetected(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish session.reuse_detected event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	return apperrors.Unauthorized(msgRefreshTokenReused)
}

func (s *AuthService) publishSessionStarted(ctx context.Context, userID, reason string) {
	if err := s.events.PublishSessionStarted(ctx, userID, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish session.started event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AuthService) publishSessionEnded(ctx context.Context, userID, reason string) {
	if err := s.events.PublishSessionEnded(ctx, userID, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish session.ended event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AuthService) upload(ctx context.Context, folder string, f *FileUpload) (*storage.UploadResult, error) {
	return s.assets.Upload(ctx, &storage.UploadInput{
		Key:         storage.NewKey(folder, f.Filename, s.now()),
		ContentType: f.ContentType,
		Size:        f.Size,
		Data:        f.Data,
	})
}

// discardAssets removes uploads that belong to a registration that failed.
func (s *AuthService) discardAssets(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.assets.Delete(ctx, key); err != nil {
			s.logger.WarnContext(ctx, "failed to delete orphaned asset",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}
