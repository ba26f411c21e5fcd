package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PemkoPortal/pkg/backend"
	"PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/identity"
	"PemkoPortal/pkg/logger"
	"PemkoPortal/pkg/metrics"
	"PemkoPortal/pkg/ratelimit"
	"PemkoPortal/pkg/session"
	"PemkoPortal/services/portal/internal/middleware"
)

// mockIdentity знает пользователей по токену
type mockIdentity struct {
	users map[string]*identity.User
}

func (m *mockIdentity) CurrentUser(_ context.Context, token string) (*identity.User, error) {
	if u, ok := m.users[token]; ok {
		return u, nil
	}
	return nil, errors.New(errors.ErrUnauthorized, "Unauthenticated.")
}

// mockAuth возвращает заранее заданный результат входа
type mockAuth struct {
	result *backend.LoginResult
	err    error
	calls  int
}

func (m *mockAuth) Login(_ context.Context, _, _ string) (*backend.LoginResult, error) {
	m.calls++
	return m.result, m.err
}

type mockCatalog struct {
	roles, permissions []string
	err                error
}

func (m *mockCatalog) RoleNames(context.Context, string) ([]string, error) {
	return m.roles, m.err
}

func (m *mockCatalog) PermissionNames(context.Context, string) ([]string, error) {
	return m.permissions, m.err
}

func user(id int64, roles []string, perms []string) *identity.User {
	u := &identity.User{ID: id, Name: "User", Email: "user@pekanbaru.go.id"}
	for _, r := range roles {
		u.Roles = append(u.Roles, identity.Role{Name: r})
	}
	for _, p := range perms {
		u.Permissions = append(u.Permissions, identity.Permission{Name: p})
	}
	return u
}

type testPortal struct {
	router  http.Handler
	auth    *mockAuth
	catalog *mockCatalog
	metrics *metrics.Metrics
	ready   bool
}

func newTestPortal(t *testing.T, tweaks ...func(*RouterOptions)) *testPortal {
	t.Helper()

	p := &testPortal{
		auth:    &mockAuth{},
		catalog: &mockCatalog{roles: []string{"editor", "super_admin"}, permissions: []string{"view roles", "view users"}},
		metrics: metrics.NewMetrics("portal_test", metrics.WithRegistry(prometheus.NewRegistry())),
	}
	ident := &mockIdentity{users: map[string]*identity.User{
		"admin-token":  user(1, []string{"super_admin"}, []string{"create roles", "edit roles"}),
		"editor-token": user(2, []string{"editor"}, []string{"view users"}),
	}}

	h, err := NewHandler(Dependencies{
		Auth:      p.auth,
		Catalog:   p.catalog,
		Metrics:   p.metrics,
		Logger:    logger.NewNop(),
		LoginPath: "/dk-login",
		HomePath:  "/admin/dashboard",
	})
	require.NoError(t, err)

	opts := RouterOptions{
		Sessions: middleware.SessionConfig{
			Cookie:      session.CookieConfig{Name: "token", RememberFor: 720 * time.Hour},
			Identity:    ident,
			Logger:      logger.NewNop(),
			WaitTimeout: time.Second,
			LoginPath:   "/dk-login",
		},
		LoginLimiter:   ratelimit.NewMemoryRateLimiter(),
		LoginPerMinute: 3,
		AllowedOrigins: []string{"https://pekanbaru.go.id"},
		GuardWait:      time.Second,
		Ready:          func() bool { return p.ready },
		Metrics:        p.metrics,
		Logger:         logger.NewNop(),
	}
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	p.router = NewRouter(h, opts)
	return p
}

func (p *testPortal) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "token", Value: token})
	}
	rec := httptest.NewRecorder()
	p.router.ServeHTTP(rec, req)
	return rec
}

func (p *testPortal) get(path, token string) *httptest.ResponseRecorder {
	return p.do(httptest.NewRequest(http.MethodGet, path, nil), token)
}

func loginRequest(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/dk-login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "203.0.113.9:1234"
	return req
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	var found *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			found = c
		}
	}
	return found
}

func TestLanding(t *testing.T) {
	p := newTestPortal(t)

	rec := p.get("/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Selamat Datang")
	assert.NotContains(t, rec.Body.String(), "Admin Panel")

	rec = p.get("/", "editor-token")
	assert.Contains(t, rec.Body.String(), "Admin Panel")
}

func TestAdmin_AnonymousRedirectsToLogin(t *testing.T) {
	p := newTestPortal(t)

	rec := p.get("/admin/users", "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dk-login?next=%2Fadmin%2Fusers", rec.Header().Get("Location"))
}

func TestAdmin_ExpiredTokenIsCleared(t *testing.T) {
	p := newTestPortal(t)

	rec := p.get("/admin/dashboard", "expired-token")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	c := findCookie(rec, "token")
	require.NotNil(t, c)
	assert.Less(t, c.MaxAge, 0)
}

func TestAdmin_ForbiddenShows403(t *testing.T) {
	p := newTestPortal(t)

	rec := p.get("/admin/roles", "editor-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Kembali")
	assert.Contains(t, rec.Body.String(), "Ke Dashboard")
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.GuardDecisions.WithLabelValues("either", "forbidden")))
}

func TestAdmin_DashboardSidebar(t *testing.T) {
	p := newTestPortal(t)

	rec := p.get("/admin/dashboard", "editor-token")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `href="/admin/users"`)
	assert.NotContains(t, body, `href="/admin/roles"`)
	assert.NotContains(t, body, `href="/admin/permissions"`)
	assert.Contains(t, body, "Kelola Pengguna")
	assert.Contains(t, body, "Hubungi super admin")

	rec = p.get("/admin/dashboard", "admin-token")
	body = rec.Body.String()
	assert.Contains(t, body, `href="/admin/roles"`)
	assert.Contains(t, body, `href="/admin/permissions"`)
	assert.NotContains(t, body, "Hubungi super admin")
}

func TestAdmin_RolesPage(t *testing.T) {
	p := newTestPortal(t)

	rec := p.get("/admin/roles", "admin-token")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "super_admin")
	assert.Contains(t, body, "Tambah Role")
	assert.Contains(t, body, `data-action="edit" data-role="editor"`)
	assert.NotContains(t, body, "/admin/roles/", "actions must not link to missing routes")
	assert.NotContains(t, body, "Hapus", "delete roles is not granted")
}

func TestAdmin_PermissionsPageCatalogError(t *testing.T) {
	p := newTestPortal(t)
	p.catalog.err = errors.New(errors.ErrUnavailable, "backend down")

	rec := p.get("/admin/permissions", "admin-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Layanan sedang tidak tersedia")
	assert.Contains(t, rec.Body.String(), "Belum ada permission.")
}

func TestLoginForm(t *testing.T) {
	p := newTestPortal(t)

	rec := p.get("/dk-login?next=%2Fadmin%2Froles", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Admin Login")
	assert.Contains(t, rec.Body.String(), `value="/admin/roles"`)

	rec = p.get("/dk-login", "editor-token")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/dashboard", rec.Header().Get("Location"))
}

func TestLogin_InputValidation(t *testing.T) {
	p := newTestPortal(t)

	rec := p.do(loginRequest(url.Values{"email": {"bukan-email"}, "password": {"123"}}), "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Format email tidak valid")
	assert.Contains(t, rec.Body.String(), "Password minimal 6 karakter")
	assert.Equal(t, 0, p.auth.calls, "backend must not be called for invalid input")
}

func TestLogin_BackendErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:    "wrong credentials",
			err:     errors.New(errors.ErrUnauthorized, "Email atau password tidak valid"),
			status:  http.StatusUnauthorized,
			message: "Email atau password tidak valid",
		},
		{
			name: "field errors",
			err: errors.New(errors.ErrValidation, "Terdapat kesalahan pada input form").
				WithFields(map[string][]string{"email": {"The selected email is invalid."}}),
			status:  http.StatusUnprocessableEntity,
			message: "The selected email is invalid.",
		},
		{
			name:    "network failure",
			err:     errors.Wrap(context.DeadlineExceeded, errors.ErrUnavailable, "backend request aborted"),
			status:  http.StatusServiceUnavailable,
			message: "Login gagal. Silakan coba lagi.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPortal(t)
			p.auth.err = tt.err

			rec := p.do(loginRequest(url.Values{"email": {"admin@pekanbaru.go.id"}, "password": {"rahasia123"}}), "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.message)
			assert.Contains(t, rec.Body.String(), `value="admin@pekanbaru.go.id"`)
			assert.Nil(t, findCookie(rec, "token"))
		})
	}
}

func TestLogin_Success(t *testing.T) {
	p := newTestPortal(t)
	p.auth.result = &backend.LoginResult{Token: "fresh-token", User: user(3, []string{"editor"}, nil)}

	form := url.Values{
		"email":    {"editor@pekanbaru.go.id"},
		"password": {"rahasia123"},
		"remember": {"1"},
		"next":     {"/admin/users"},
	}
	rec := p.do(loginRequest(form), "")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/users", rec.Header().Get("Location"))
	c := findCookie(rec, "token")
	require.NotNil(t, c)
	assert.Equal(t, "fresh-token", c.Value)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, int((720 * time.Hour).Seconds()), c.MaxAge)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.LoginAttempts.WithLabelValues("success")))
}

func TestLogin_OpenRedirectIsBlocked(t *testing.T) {
	p := newTestPortal(t)
	p.auth.result = &backend.LoginResult{Token: "fresh-token", User: user(3, nil, nil)}

	form := url.Values{"email": {"a@pekanbaru.go.id"}, "password": {"rahasia123"}, "next": {"//evil.example"}}
	rec := p.do(loginRequest(form), "")

	assert.Equal(t, "/admin/dashboard", rec.Header().Get("Location"))
	c := findCookie(rec, "token")
	require.NotNil(t, c)
	assert.Zero(t, c.MaxAge, "without remember the cookie lives for the browser session")
}

func TestLogin_RateLimited(t *testing.T) {
	p := newTestPortal(t)
	p.auth.err = errors.New(errors.ErrUnauthorized, "Email atau password tidak valid")

	var last int
	for i := 0; i < 4; i++ {
		last = p.do(loginRequest(url.Values{"email": {"a@pekanbaru.go.id"}, "password": {"salah123"}}), "").Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
	assert.Equal(t, 3, p.auth.calls)
}

func TestLogin_RateLimitIgnoresForwardedFor(t *testing.T) {
	p := newTestPortal(t)
	p.auth.err = errors.New(errors.ErrUnauthorized, "Email atau password tidak valid")

	limited := 0
	for i := 0; i < 10; i++ {
		req := loginRequest(url.Values{"email": {"a@pekanbaru.go.id"}, "password": {"salah123"}})
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("1.2.3.%d", i))
		if p.do(req, "").Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 7, limited)
	assert.Equal(t, 3, p.auth.calls)
}

func TestLogin_RateLimitBehindTrustedProxy(t *testing.T) {
	p := newTestPortal(t, func(o *RouterOptions) { o.TrustProxyHeaders = true })
	p.auth.err = errors.New(errors.ErrUnauthorized, "Email atau password tidak valid")

	for i := 0; i < 4; i++ {
		req := loginRequest(url.Values{"email": {"a@pekanbaru.go.id"}, "password": {"salah123"}})
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		assert.NotEqual(t, http.StatusTooManyRequests, p.do(req, "").Code)
	}

	var last int
	for i := 0; i < 4; i++ {
		req := loginRequest(url.Values{"email": {"a@pekanbaru.go.id"}, "password": {"salah123"}})
		req.Header.Set("X-Forwarded-For", "198.51.100.77")
		last = p.do(req, "").Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestLogout(t *testing.T) {
	p := newTestPortal(t)

	rec := p.do(httptest.NewRequest(http.MethodPost, "/logout", nil), "editor-token")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dk-login", rec.Header().Get("Location"))
	c := findCookie(rec, "token")
	require.NotNil(t, c)
	assert.Less(t, c.MaxAge, 0)
}

func TestAPISession(t *testing.T) {
	p := newTestPortal(t)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Origin", "https://pekanbaru.go.id")
	rec := p.do(req, "editor-token")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://pekanbaru.go.id", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	var body struct {
		IsAuthenticated bool           `json:"isAuthenticated"`
		User            *identity.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.IsAuthenticated)
	require.NotNil(t, body.User)
	assert.Equal(t, int64(2), body.User.ID)

	rec = p.get("/api/session", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.IsAuthenticated)
	assert.Nil(t, body.User)
}

func TestAPISessionRefresh(t *testing.T) {
	p := newTestPortal(t)

	rec := p.do(httptest.NewRequest(http.MethodPost, "/api/session/refresh", nil), "admin-token")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = p.do(httptest.NewRequest(http.MethodPost, "/api/session/refresh", nil), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
}

func TestServiceRoutes(t *testing.T) {
	p := newTestPortal(t)

	assert.Equal(t, http.StatusOK, p.get("/live", "").Code)
	assert.Equal(t, http.StatusOK, p.get("/health", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, p.get("/ready", "").Code)
	p.ready = true
	assert.Equal(t, http.StatusOK, p.get("/ready", "").Code)

	rec := p.get("/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "portal_test_http_requests_total")

	rec = p.get("/static/portal.css", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
}

func TestNotFound(t *testing.T) {
	p := newTestPortal(t)

	assert.Equal(t, http.StatusNotFound, p.get("/profil", "").Code)

	rec := p.get("/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}
