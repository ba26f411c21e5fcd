package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PemkoPortal/pkg/logger"
)

// TestLoggingMiddleware проверяет присвоение request_id и запись в лог
func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.NewLogger(logger.Options{Environment: "test", Level: "debug", Format: "json", ServiceName: "portal", Output: &buf})
	require.NoError(t, err)

	var seen string
	handler := LoggingMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	_, err = uuid.Parse(seen)
	assert.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), "Completed request")
	assert.Contains(t, buf.String(), seen)
}

// TestLoggingMiddleware_IncomingRequestID проверяет прием идентификатора от балансировщика
func TestLoggingMiddleware_IncomingRequestID(t *testing.T) {
	incoming := uuid.NewString()
	var seen string
	handler := LoggingMiddleware(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, incoming)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, incoming, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotEqual(t, "<script>", seen)
}
