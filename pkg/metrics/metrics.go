package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Metrics представляет систему метрик портала
type Metrics struct {
	// HTTP
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ErrorsCount     *prometheus.CounterVec

	// Сессия и авторизация
	TokenValidations   *prometheus.CounterVec
	ValidationDuration prometheus.Histogram
	LoginAttempts      *prometheus.CounterVec
	GuardDecisions     *prometheus.CounterVec
	AuditEvents        *prometheus.CounterVec

	// OpenTelemetry Tracer
	Tracer trace.Tracer `json:"-"`

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

// Option настраивает Metrics
type Option func(*Metrics)

// WithRegistry использует отдельный реестр вместо глобального. Удобно в тестах
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Metrics) {
		m.registerer = reg
		m.gatherer = reg
	}
}

// NewMetrics создает новую систему метрик
func NewMetrics(serviceName string, opts ...Option) *Metrics {
	m := &Metrics{
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(m)
	}

	namespace := sanitize(serviceName)

	m.RequestCount = register(m.registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	))

	m.RequestDuration = register(m.registerer, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	))

	m.ErrorsCount = register(m.registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "Total number of HTTP errors",
		},
		[]string{"method", "route", "error_type"},
	))

	m.TokenValidations = register(m.registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "token_validations_total",
			Help:      "Token validations against the identity backend by result",
		},
		[]string{"result"},
	))

	m.ValidationDuration = register(m.registerer, prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "token_validation_duration_seconds",
			Help:      "Duration of token validation calls",
			Buckets:   prometheus.DefBuckets,
		},
	))

	m.LoginAttempts = register(m.registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "login_attempts_total",
			Help:      "Login attempts by result",
		},
		[]string{"result"},
	))

	m.GuardDecisions = register(m.registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "decisions_total",
			Help:      "Access guard decisions by policy kind and outcome",
		},
		[]string{"policy", "outcome"},
	))

	m.AuditEvents = register(m.registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_total",
			Help:      "Published audit events by type and delivery result",
		},
		[]string{"type", "result"},
	))

	m.Tracer = otel.Tracer(serviceName)

	return m
}

// register регистрирует коллектор. При повторной регистрации возвращает уже существующий
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func sanitize(name string) string {
	out := []byte(name)
	for i, c := range out {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			out[i] = '_'
		}
	}
	return string(out)
}

// GetHandler возвращает HTTP обработчик для эндпоинта /metrics
func (m *Metrics) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveValidation фиксирует результат проверки токена: valid, invalid, timeout, error
func (m *Metrics) ObserveValidation(result string, d time.Duration) {
	m.TokenValidations.WithLabelValues(result).Inc()
	m.ValidationDuration.Observe(d.Seconds())
}

// ObserveLogin фиксирует попытку входа
func (m *Metrics) ObserveLogin(result string) {
	m.LoginAttempts.WithLabelValues(result).Inc()
}

// ObserveDecision фиксирует решение guard'а
func (m *Metrics) ObserveDecision(policyKind, outcome string) {
	m.GuardDecisions.WithLabelValues(policyKind, outcome).Inc()
}

// ObserveAudit фиксирует публикацию события аудита
func (m *Metrics) ObserveAudit(eventType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AuditEvents.WithLabelValues(eventType, result).Inc()
}

// StartSpan начинает спан трассировки
func (m *Metrics) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Middleware создает middleware для сбора метрик
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := m.Tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(wrapped, r.WithContext(ctx))

		duration := time.Since(start).Seconds()
		route := routeLabel(r)

		m.RequestCount.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(duration)

		if wrapped.statusCode >= 400 {
			errorType := "client_error"
			if wrapped.statusCode >= 500 {
				errorType = "server_error"
			}
			m.ErrorsCount.WithLabelValues(r.Method, route, errorType).Inc()
		}

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", wrapped.statusCode),
			attribute.Float64("http.duration", duration),
		)
	})
}

// routeLabel возвращает шаблон маршрута chi, чтобы не раздувать кардинальность меток
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// responseWriter обертка для перехвата статуса ответа
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader перехватывает установку статуса
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// InitializeOpenTelemetry устанавливает глобальный провайдер трассировки.
// Возвращает функцию остановки провайдера
func InitializeOpenTelemetry(serviceName, version string) (func(context.Context) error, error) {
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(0.1))),
		tracesdk.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		)),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
