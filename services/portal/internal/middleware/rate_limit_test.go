package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"PemkoPortal/pkg/logger"
	"PemkoPortal/pkg/mocks"
	"PemkoPortal/pkg/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// TestRateLimitMiddleware_Limited проверяет блокировку после превышения лимита
func TestRateLimitMiddleware_Limited(t *testing.T) {
	handler := RateLimitMiddleware(ratelimit.NewMemoryRateLimiter(), "login", 2, time.Minute, logger.NewNop())(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/dk-login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Другой адрес считается отдельно
	req := httptest.NewRequest(http.MethodPost, "/dk-login", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestRateLimitMiddleware_RotatingForwardedFor проверяет, что смена X-Forwarded-For
// с одного соединения не сбрасывает счетчик
func TestRateLimitMiddleware_RotatingForwardedFor(t *testing.T) {
	handler := RateLimitMiddleware(ratelimit.NewMemoryRateLimiter(), "login", 2, time.Minute, logger.NewNop())(okHandler())

	limited := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/dk-login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("1.2.3.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("5.6.7.%d", i))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}

	assert.Equal(t, 48, limited)
}

// TestRateLimitMiddleware_JSON проверяет формат ответа для API
func TestRateLimitMiddleware_JSON(t *testing.T) {
	handler := RateLimitMiddleware(ratelimit.NewMemoryRateLimiter(), "api", 1, time.Minute, logger.NewNop())(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/refresh", nil))
		if i == 1 {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), "TOO_MANY_REQUESTS")
			assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		}
	}
}

// TestRateLimitMiddleware_Error проверяет, что ошибка лимитера не блокирует запрос
func TestRateLimitMiddleware_Error(t *testing.T) {
	limiter := new(mocks.MockRateLimiter)
	limiter.On("CheckRateLimit", mock.Anything, "login:ip:10.0.0.9", 1, time.Minute).
		Return(false, assert.AnError).Once()

	handler := RateLimitMiddleware(limiter, "login", 1, time.Minute, logger.NewNop())(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/dk-login", nil)
	req.RemoteAddr = "10.0.0.9:4000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	limiter.AssertExpectations(t)
}

// TestClientIP проверяет извлечение адреса клиента
func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded header ignored", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:80", "10.0.0.1"},
		{"real ip header ignored", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.1:80", "10.0.0.1"},
		{"remote addr", nil, "192.0.2.10:4242", "192.0.2.10"},
		{"remote without port", nil, "192.0.2.11", "192.0.2.11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

// TestWantsJSON проверяет выбор формата ответа
func TestWantsJSON(t *testing.T) {
	api := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	assert.True(t, WantsJSON(api))

	accept := httptest.NewRequest(http.MethodGet, "/admin/roles", nil)
	accept.Header.Set("Accept", "application/json")
	assert.True(t, WantsJSON(accept))

	page := httptest.NewRequest(http.MethodGet, "/admin/roles", nil)
	page.Header.Set("Accept", "text/html")
	assert.False(t, WantsJSON(page))
}
