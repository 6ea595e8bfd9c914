package http

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/utafrali/VideoTubeGo/internal/domain"
	"github.com/utafrali/VideoTubeGo/internal/ratelimit"
	"github.com/utafrali/VideoTubeGo/internal/service"
	apperrors "github.com/utafrali/VideoTubeGo/pkg/errors"
	"github.com/utafrali/VideoTubeGo/pkg/httputil"
	"github.com/utafrali/VideoTubeGo/pkg/middleware"
	"github.com/utafrali/VideoTubeGo/pkg/validator"
)

// DefaultMaxUploadBytes bounds a registration request, files included.
const DefaultMaxUploadBytes int64 = 10 << 20

// multipartMemory is how much of a multipart form is buffered in memory
// before spilling to temporary files.
const multipartMemory = 8 << 20

// AuthService is the account service the handlers drive.
type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.Result, error)
	Login(ctx context.Context, in service.LoginInput) (*service.Result, error)
	Refresh(ctx context.Context, refreshToken string) (*service.Result, error)
	Logout(ctx context.Context, callerID string) (*service.Result, error)
	ChangePassword(ctx context.Context, callerID string, in service.ChangePasswordInput) (*service.Result, error)
	CurrentUser(ctx context.Context, callerID string) (*service.Result, error)
}

// LoginLimiter throttles failed logins per identifier and client IP.
type LoginLimiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
	Fail(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// AuthHandler handles HTTP requests for auth endpoints.
type AuthHandler struct {
	service   AuthService
	limiter   LoginLimiter
	cookies   CookieConfig
	maxUpload int64
	logger    *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler. limiter may be nil.
func NewAuthHandler(svc AuthService, limiter LoginLimiter, cookies CookieConfig, maxUpload int64, logger *slog.Logger) *AuthHandler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &AuthHandler{
		service:   svc,
		limiter:   limiter,
		cookies:   cookies,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// --- Request DTOs ---

// LoginRequest is the JSON request body for user login.
type LoginRequest struct {
	Username string `json:"username" validate:"max=64"`
	Email    string `json:"email" validate:"max=254"`
	Password string `json:"password" validate:"max=128"`
}

// RefreshTokenRequest is the optional JSON body for token refresh. The
// refreshToken cookie takes precedence.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest is the JSON request body for a password change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,maxbytes=72,nefield=CurrentPassword"`
}

// --- Response types ---

// SessionResponse is returned by login and refresh. Tokens are also set as
// cookies; the body copy serves clients that cannot use cookies.
type SessionResponse struct {
	User         *domain.Profile `json:"user,omitempty"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
}

// --- Handlers ---

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUpload {
		writeTooLarge(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeTooLarge(w)
			return
		}
		httputil.WriteValidationError(w, r, errors.New("invalid multipart form: "+err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	avatar, closeAvatar, err := formFile(r, "avatar")
	if err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}
	defer closeAvatar()

	cover, closeCover, err := formFile(r, "cover_image")
	if err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}
	defer closeCover()

	res, err := h.service.Register(r.Context(), service.RegisterInput{
		Username:   r.FormValue("username"),
		Email:      r.FormValue("email"),
		FullName:   r.FormValue("full_name"),
		Password:   r.FormValue("password"),
		Avatar:     avatar,
		CoverImage: cover,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteSuccess(w, res.Status, res.Message, res.Profile)
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req LoginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	identifier := req.Username
	if strings.TrimSpace(identifier) == "" {
		identifier = req.Email
	}
	key := ratelimit.Key(identifier, middleware.ClientIP(r))

	if h.limiter != nil {
		allowed, retryAfter, err := h.limiter.Allow(r.Context(), key)
		if err != nil {
			h.logger.WarnContext(r.Context(), "login limiter unavailable, allowing attempt",
				slog.String("error", err.Error()),
			)
		} else if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
			httputil.WriteError(w, r, apperrors.RateLimited("too many failed login attempts, try again later"), h.logger)
			return
		}
	}

	res, err := h.service.Login(r.Context(), service.LoginInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.recordFailure(r.Context(), key, err)
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.resetFailures(r.Context(), key)

	h.cookies.apply(w, res.Cookies)
	httputil.WriteSuccess(w, res.Status, res.Message, sessionResponse(res))
}

// RefreshToken handles POST /api/v1/auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var token string
	if c, err := r.Cookie(domain.RefreshTokenCookie); err == nil {
		token = c.Value
	}
	if token == "" {
		var req RefreshTokenRequest
		if err := validator.DecodeAndValidate(r, &req); err != nil && !errors.Is(err, validator.ErrEmptyBody) {
			httputil.WriteValidationError(w, r, err)
			return
		}
		token = req.RefreshToken
	}

	res, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.apply(w, res.Cookies)
	httputil.WriteSuccess(w, res.Status, res.Message, sessionResponse(res))
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Logout(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.apply(w, res.Cookies)
	httputil.WriteSuccess(w, res.Status, res.Message, nil)
}

// ChangePassword handles POST /api/v1/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req ChangePasswordRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	res, err := h.service.ChangePassword(r.Context(), middleware.UserIDFromContext(r.Context()), service.ChangePasswordInput{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.apply(w, res.Cookies)
	httputil.WriteSuccess(w, res.Status, res.Message, nil)
}

// recordFailure counts rejected credentials against the limiter. Validation
// and server errors are not the caller guessing passwords.
func (h *AuthHandler) recordFailure(ctx context.Context, key string, err error) {
	if h.limiter == nil {
		return
	}
	status := apperrors.HTTPStatus(err)
	if status != http.StatusUnauthorized && status != http.StatusNotFound {
		return
	}
	if _, ferr := h.limiter.Fail(ctx, key); ferr != nil {
		h.logger.WarnContext(ctx, "failed to record login failure", slog.String("error", ferr.Error()))
	}
}

func (h *AuthHandler) resetFailures(ctx context.Context, key string) {
	if h.limiter == nil {
		return
	}
	if err := h.limiter.Reset(ctx, key); err != nil {
		h.logger.WarnContext(ctx, "failed to reset login failures", slog.String("error", err.Error()))
	}
}

func sessionResponse(res *service.Result) SessionResponse {
	out := SessionResponse{User: res.Profile}
	if res.Tokens != nil {
		out.AccessToken = res.Tokens.AccessToken
		out.RefreshToken = res.Tokens.RefreshToken
	}
	return out
}

// formFile returns the named upload, or nil when the field is absent. The
// returned close function is always safe to call.
func formFile(r *http.Request, field string) (*service.FileUpload, func(), error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, func() {}, errors.New("invalid " + field + " upload: " + err.Error())
	}
	return upload(file, header), func() { _ = file.Close() }, nil
}

func upload(file multipart.File, header *multipart.FileHeader) *service.FileUpload {
	return &service.FileUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Data:        file,
	}
}

func writeTooLarge(w http.ResponseWriter) {
	httputil.WriteJSON(w, http.StatusRequestEntityTooLarge, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "PAYLOAD_TOO_LARGE", Message: "request body is too large"},
	})
}

func retrySeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
