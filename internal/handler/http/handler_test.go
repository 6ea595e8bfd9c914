package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/VideoTubeGo/internal/auth"
	"github.com/utafrali/VideoTubeGo/internal/domain"
	"github.com/utafrali/VideoTubeGo/internal/identity"
	"github.com/utafrali/VideoTubeGo/internal/repository/memory"
	"github.com/utafrali/VideoTubeGo/internal/service"
	memstorage "github.com/utafrali/VideoTubeGo/internal/storage/memory"
	"github.com/utafrali/VideoTubeGo/pkg/health"
	"github.com/utafrali/VideoTubeGo/pkg/middleware"
)

// ============================================================================
// Test Helpers
// ============================================================================

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

// fakeLimiter is an in-process LoginLimiter.
type fakeLimiter struct {
	mu       sync.Mutex
	max      int64
	failures map[string]int64
	resets   int
	allowErr error
}

func newFakeLimiter(max int64) *fakeLimiter {
	return &fakeLimiter{max: max, failures: make(map[string]int64)}
}

func (l *fakeLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowErr != nil {
		return false, time.Minute, l.allowErr
	}
	if l.failures[key] >= l.max {
		return false, 90 * time.Second, nil
	}
	return true, 0, nil
}

func (l *fakeLimiter) Fail(_ context.Context, key string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[key]++
	return l.failures[key], nil
}

func (l *fakeLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, key)
	l.resets++
	return nil
}

type testServer struct {
	handler http.Handler
	limiter *fakeLimiter
	assets  *memstorage.Storage
}

func newTestServer(t *testing.T, maxUpload int64) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := memory.NewUserRepository()
	store := identity.NewStore(repo, bcrypt.MinCost)
	issuer := auth.NewTokenIssuer(auth.Config{
		AccessSecret:  "access-secret-access-secret-access-secret",
		AccessExpiry:  15 * time.Minute,
		RefreshSecret: "refresh-secret-refresh-secret-refresh-secret",
		RefreshExpiry: 240 * time.Hour,
	})
	assets := memstorage.New("http://assets.local")
	svc := service.NewAuthService(store, store, issuer, assets, nil, logger)
	limiter := newFakeLimiter(2)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := NewRouter(ctx, RouterConfig{
		ServiceName:    "auth-test",
		Service:        svc,
		Limiter:        limiter,
		TokenValidator: TokenValidator(issuer),
		Health:         health.NewHandler(),
		Logger:         logger,
		CORS:           middleware.DefaultCORSConfig(),
		Cookies:        CookieConfig{Secure: true},
		MaxUploadBytes: maxUpload,
	})
	return &testServer{handler: h, limiter: limiter, assets: assets}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func registerRequest(t *testing.T, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, content := range files {
		fw, err := mw.CreateFormFile(field, field+".png")
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func anaFields() map[string]string {
	return map[string]string{
		"username":  "Ana",
		"email":     "ana@x.com",
		"full_name": "Ana Lima",
		"password":  "secret",
	}
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func cookieByName(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (s *testServer) registerAndLogin(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	rec := s.do(registerRequest(t, anaFields(), map[string]string{"avatar": "png"}))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(jsonRequest(http.MethodPost, "/api/v1/auth/login", `{"username":"ana","password":"secret"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec
}

// ============================================================================
// Register
// ============================================================================

func TestRegisterHandler_Success(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(registerRequest(t, anaFields(), map[string]string{"avatar": "png", "cover_image": "jpg"}))

	require.Equal(t, http.StatusCreated, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)

	var profile domain.Profile
	require.NoError(t, json.Unmarshal(env.Data, &profile))
	assert.Equal(t, "ana", profile.Username)
	assert.True(t, strings.HasPrefix(profile.Avatar, "http://assets.local/avatars/"))
	assert.True(t, strings.HasPrefix(profile.CoverImage, "http://assets.local/covers/"))
	assert.NotContains(t, string(env.Data), "password")
	assert.NotContains(t, string(env.Data), "refresh")
	assert.Equal(t, 2, s.assets.Len())
}

func TestRegisterHandler_MissingAvatar(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(registerRequest(t, anaFields(), nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "avatar file is required", env.Error.Message)
	assert.Zero(t, s.assets.Len())
}

func TestRegisterHandler_Duplicate(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(registerRequest(t, anaFields(), map[string]string{"avatar": "png"}))
	require.Equal(t, http.StatusCreated, rec.Code)

	fields := anaFields()
	fields["email"] = "other@x.com"
	rec = s.do(registerRequest(t, fields, map[string]string{"avatar": "png"}))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", decodeEnvelope(t, rec).Error.Code)
}

func TestRegisterHandler_TooLarge(t *testing.T) {
	s := newTestServer(t, 512)

	rec := s.do(registerRequest(t, anaFields(), map[string]string{"avatar": strings.Repeat("x", 4096)}))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRegisterHandler_PasswordOverBcryptLimit(t *testing.T) {
	s := newTestServer(t, 0)

	fields := anaFields()
	fields["password"] = strings.Repeat("é", 40)
	rec := s.do(registerRequest(t, fields, map[string]string{"avatar": "png"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "password must be at most 72 bytes", decodeEnvelope(t, rec).Error.Message)
	assert.Zero(t, s.assets.Len())
}

func TestRegisterHandler_NotMultipart(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(jsonRequest(http.MethodPost, "/api/v1/auth/register", `{"username":"ana"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================================================
// Login
// ============================================================================

func TestLoginHandler_SetsSessionCookies(t *testing.T) {
	s := newTestServer(t, 0)
	rec := s.registerAndLogin(t)

	access := cookieByName(rec, domain.AccessTokenCookie)
	refresh := cookieByName(rec, domain.RefreshTokenCookie)
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	for _, c := range []*http.Cookie{access, refresh} {
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		assert.Equal(t, "/", c.Path)
		assert.NotEmpty(t, c.Value)
	}

	var body SessionResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &body))
	assert.Equal(t, access.Value, body.AccessToken)
	assert.Equal(t, refresh.Value, body.RefreshToken)
	require.NotNil(t, body.User)
	assert.Equal(t, "ana", body.User.Username)
}

func TestLoginHandler_Errors(t *testing.T) {
	s := newTestServer(t, 0)
	require.Equal(t, http.StatusCreated, s.do(registerRequest(t, anaFields(), map[string]string{"avatar": "png"})).Code)

	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{"empty body", ``, http.StatusBadRequest, "request body is empty"},
		{"no identifier", `{"password":"secret"}`, http.StatusBadRequest, "username or email is required"},
		{"no password", `{"email":"ana@x.com"}`, http.StatusBadRequest, "password is required"},
		{"unknown user", `{"username":"bob","password":"secret"}`, http.StatusNotFound, "user does not exist"},
		{"wrong password", `{"email":"ana@x.com","password":"nope"}`, http.StatusUnauthorized, "invalid user credentials"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(jsonRequest(http.MethodPost, "/api/v1/auth/login", tt.body))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, decodeEnvelope(t, rec).Error.Message)
			assert.Nil(t, cookieByName(rec, domain.AccessTokenCookie))
		})
	}
}

func TestLoginHandler_ThrottlesRepeatedFailures(t *testing.T) {
	s := newTestServer(t, 0)
	require.Equal(t, http.StatusCreated, s.do(registerRequest(t, anaFields(), map[string]string{"avatar": "png"})).Code)

	bad := `{"username":"ana","password":"nope"}`
	for i := 0; i < 2; i++ {
		rec := s.do(jsonRequest(http.MethodPost, "/api/v1/auth/login", bad))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := s.do(jsonRequest(http.MethodPost, "/api/v1/auth/login", `{"username":"ana","password":"secret"}`))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decodeEnvelope(t, rec).Error.Code)
}

func TestLoginHandler_LimiterErrorAllowsAttempt(t *testing.T) {
	s := newTestServer(t, 0)
	require.Equal(t, http.StatusCreated, s.do(registerRequest(t, anaFields(), map[string]string{"avatar": "png"})).Code)
	s.limiter.allowErr = errors.New("redis: connection refused")

	rec := s.do(jsonRequest(http.MethodPost, "/api/v1/auth/login", `{"username":"ana","password":"secret"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestLoginHandler_SuccessResetsFailures(t *testing.T) {
	s := newTestServer(t, 0)
	require.Equal(t, http.StatusCreated, s.do(registerRequest(t, anaFields(), map[string]string{"avatar": "png"})).Code)

	rec := s.do(jsonRequest(http.MethodPost, "/api/v1/auth/login", `{"username":"ana","password":"nope"}`))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(jsonRequest(http.MethodPost, "/api/v1/auth/login", `{"username":"ana","password":"secret"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, s.limiter.resets)
	assert.Empty(t, s.limiter.failures)
}

func TestLoginHandler_ValidationErrorsAreNotCounted(t *testing.T) {
	s := newTestServer(t, 0)

	for i := 0; i < 3; i++ {
		rec := s.do(jsonRequest(http.MethodPost, "/api/v1/auth/login", `{"username":"ana"}`))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
	assert.Empty(t, s.limiter.failures)
}

// ============================================================================
// Refresh
// ============================================================================

func TestRefreshHandler_FromCookie(t *testing.T) {
	s := newTestServer(t, 0)
	login := s.registerAndLogin(t)
	old := cookieByName(login, domain.RefreshTokenCookie)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(old)
	rec := s.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	fresh := cookieByName(rec, domain.RefreshTokenCookie)
	require.NotNil(t, fresh)
	assert.NotEqual(t, old.Value, fresh.Value)

	var body SessionResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &body))
	assert.Nil(t, body.User)
	assert.Equal(t, fresh.Value, body.RefreshToken)

	// The rotated-out token is now rejected.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(old)
	rec = s.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "refresh token is expired or used", decodeEnvelope(t, rec).Error.Message)
}

func TestRefreshHandler_FromBody(t *testing.T) {
	s := newTestServer(t, 0)
	login := s.registerAndLogin(t)
	token := cookieByName(login, domain.RefreshTokenCookie).Value

	rec := s.do(jsonRequest(http.MethodPost, "/api/v1/auth/refresh", `{"refresh_token":"`+token+`"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshHandler_Rejections(t *testing.T) {
	s := newTestServer(t, 0)

	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{"no token", ``, http.StatusUnauthorized, "unauthorized request"},
		{"blank token", `{"refresh_token":""}`, http.StatusUnauthorized, "unauthorized request"},
		{"garbage", `{"refresh_token":"garbage"}`, http.StatusUnauthorized, "invalid refresh token"},
		{"malformed json", `{`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(jsonRequest(http.MethodPost, "/api/v1/auth/refresh", tt.body))
			assert.Equal(t, tt.status, rec.Code)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, decodeEnvelope(t, rec).Error.Message)
			}
		})
	}
}

// ============================================================================
// Logout, change password and profile
// ============================================================================

func TestLogoutHandler(t *testing.T) {
	s := newTestServer(t, 0)
	login := s.registerAndLogin(t)
	access := cookieByName(login, domain.AccessTokenCookie)
	refresh := cookieByName(login, domain.RefreshTokenCookie)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(access)
	rec = s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, name := range []string{domain.AccessTokenCookie, domain.RefreshTokenCookie} {
		c := cookieByName(rec, name)
		require.NotNil(t, c, name)
		assert.Empty(t, c.Value)
		assert.Equal(t, -1, c.MaxAge)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(refresh)
	assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)
}

func TestLogoutHandler_BearerToken(t *testing.T) {
	s := newTestServer(t, 0)
	login := s.registerAndLogin(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+cookieByName(login, domain.AccessTokenCookie).Value)

	assert.Equal(t, http.StatusOK, s.do(req).Code)
}

func TestGetProfileHandler_StaleCookieWithValidBearer(t *testing.T) {
	s := newTestServer(t, 0)
	login := s.registerAndLogin(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.AddCookie(&http.Cookie{Name: domain.AccessTokenCookie, Value: "expired.access.token"})
	req.Header.Set("Authorization", "Bearer "+cookieByName(login, domain.AccessTokenCookie).Value)

	assert.Equal(t, http.StatusOK, s.do(req).Code)
}

func TestLogoutHandler_RejectsRefreshTokenAsAccess(t *testing.T) {
	s := newTestServer(t, 0)
	login := s.registerAndLogin(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+cookieByName(login, domain.RefreshTokenCookie).Value)

	assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)
}

func TestChangePasswordHandler(t *testing.T) {
	s := newTestServer(t, 0)
	login := s.registerAndLogin(t)
	access := cookieByName(login, domain.AccessTokenCookie)

	req := jsonRequest(http.MethodPost, "/api/v1/auth/change-password", `{"current_password":"secret","new_password":"secret"}`)
	req.AddCookie(access)
	rec := s.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeEnvelope(t, rec).Error.Fields, "new_password")

	req = jsonRequest(http.MethodPost, "/api/v1/auth/change-password",
		`{"current_password":"secret","new_password":"`+strings.Repeat("é", 40)+`"}`)
	req.AddCookie(access)
	rec = s.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "must be at most 72 bytes", decodeEnvelope(t, rec).Error.Fields["new_password"])

	req = jsonRequest(http.MethodPost, "/api/v1/auth/change-password", `{"current_password":"wrong","new_password":"brand-new-secret"}`)
	req.AddCookie(access)
	assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)

	req = jsonRequest(http.MethodPost, "/api/v1/auth/change-password", `{"current_password":"secret","new_password":"brand-new-secret"}`)
	req.AddCookie(access)
	rec = s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -1, cookieByName(rec, domain.RefreshTokenCookie).MaxAge)

	rec = s.do(jsonRequest(http.MethodPost, "/api/v1/auth/login", `{"username":"ana","password":"brand-new-secret"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetProfileHandler(t *testing.T) {
	s := newTestServer(t, 0)
	login := s.registerAndLogin(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.AddCookie(cookieByName(login, domain.AccessTokenCookie))
	rec := s.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var profile domain.Profile
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &profile))
	assert.Equal(t, "ana@x.com", profile.Email)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	s := newTestServer(t, 0)

	assert.Equal(t, http.StatusOK, s.do(httptest.NewRequest(http.MethodGet, "/health/live", nil)).Code)
	assert.Equal(t, http.StatusOK, s.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil)).Code)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

// ============================================================================
// Cookies
// ============================================================================

func TestCookieConfig_Apply(t *testing.T) {
	rec := httptest.NewRecorder()
	expires := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	CookieConfig{Domain: "videotube.test"}.apply(rec, []domain.CookieDirective{
		domain.SetCookie(domain.AccessTokenCookie, "a", expires),
		domain.ClearCookie(domain.RefreshTokenCookie),
	})

	access := cookieByName(rec, domain.AccessTokenCookie)
	require.NotNil(t, access)
	assert.Equal(t, "a", access.Value)
	assert.True(t, expires.Equal(access.Expires))
	assert.Equal(t, "videotube.test", access.Domain)
	assert.False(t, access.Secure)

	refresh := cookieByName(rec, domain.RefreshTokenCookie)
	require.NotNil(t, refresh)
	assert.Equal(t, -1, refresh.MaxAge)
	assert.True(t, refresh.HttpOnly)
}

func TestRetrySeconds(t *testing.T) {
	assert.Equal(t, 1, retrySeconds(0))
	assert.Equal(t, 1, retrySeconds(200*time.Millisecond))
	assert.Equal(t, 90, retrySeconds(90*time.Second))
	assert.Equal(t, 91, retrySeconds(90*time.Second+time.Millisecond))
}
