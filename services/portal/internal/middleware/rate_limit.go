package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/logger"
	"PemkoPortal/pkg/ratelimit"
)

// RateLimitMiddleware ограничивает частоту запросов с одного IP адреса.
// scope разделяет счетчики разных маршрутов
func RateLimitMiddleware(rateLimiter ratelimit.RateLimiter, scope string, limit int, window time.Duration, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scope + ":ip:" + ClientIP(r)

			limitExceeded, err := rateLimiter.CheckRateLimit(r.Context(), key, limit, window)
			if err != nil {
				// Недоступный лимитер не должен блокировать вход
				log.Error("Rate limiter error, allowing request",
					logger.CtxField(r.Context()),
					logger.Error(err),
					logger.String("key", key))
				next.ServeHTTP(w, r)
				return
			}

			if limitExceeded {
				log.Warn("Rate limit exceeded",
					logger.CtxField(r.Context()),
					logger.String("key", key),
					logger.Int("limit", limit),
					logger.String("window", window.String()),
					logger.String("path", r.URL.Path))

				w.Header().Set("Retry-After", retryAfter(window))
				limited := errors.New(errors.ErrTooManyRequests, "too many requests")
				if WantsJSON(r) {
					errors.WriteJSON(w, limited)
					return
				}
				http.Error(w, limited.GetUserMessage(), limited.HTTPStatus())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP возвращает адрес соединения. Заголовки X-Forwarded-For и X-Real-IP
// здесь не читаются: за доверенным прокси их переносит в RemoteAddr chi middleware.RealIP
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func retryAfter(window time.Duration) string {
	seconds := int(window.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

// WantsJSON true для API запросов
func WantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}
