package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"PemkoPortal/pkg/events"
	"PemkoPortal/pkg/guard"
	"PemkoPortal/pkg/health"
	"PemkoPortal/pkg/logger"
	"PemkoPortal/pkg/metrics"
	"PemkoPortal/pkg/ratelimit"
	"PemkoPortal/services/portal/internal/middleware"
	"PemkoPortal/services/portal/internal/policy"
)

// RouterOptions зависимости маршрутизатора
type RouterOptions struct {
	Sessions middleware.SessionConfig

	// LoginLimiter ограничивает POST формы входа. nil отключает ограничение
	LoginLimiter   ratelimit.RateLimiter
	LoginPerMinute int

	AllowedOrigins []string
	GuardWait      time.Duration

	// TrustProxyHeaders переносит X-Forwarded-For/X-Real-IP в RemoteAddr.
	// Без него лимитер считает запросы по адресу соединения
	TrustProxyHeaders bool

	Health  health.HealthChecker
	Ready   func() bool
	Metrics *metrics.Metrics
	Events  events.Emitter
	Logger  logger.Logger
}

// NewRouter собирает маршруты портала
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	r := chi.NewRouter()
	if opts.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.LoggingMiddleware(log))
	r.Use(middleware.RecoveryMiddleware(log))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.NotFound(h.NotFound)

	checker := opts.Health
	if checker == nil {
		checker = health.NewChecker("", time.Second)
	}

	// Служебные маршруты без сессии
	r.Get("/health", health.Handler(checker))
	r.Get("/ready", health.ReadyHandler(opts.Ready))
	r.Get("/live", health.LiveHandler())
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.GetHandler())
	}
	r.Handle("/static/*", Static())

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionProvider(opts.Sessions))

		r.Get("/", h.Landing)
		r.Get(h.loginPath, h.LoginForm)
		r.With(loginLimit(opts, log)...).Post(h.loginPath, h.Login)
		r.Post("/logout", h.Logout)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.layoutGuard(opts))

			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, h.homePath, http.StatusSeeOther)
			})
			r.With(h.guard(opts, policy.Dashboard)).Get("/dashboard", h.Dashboard)
			r.With(h.guard(opts, policy.Users)).Get("/users", h.Users)
			r.With(h.guard(opts, policy.Roles)).Get("/roles", h.Roles)
			r.With(h.guard(opts, policy.Permissions)).Get("/permissions", h.Permissions)
		})

		r.Route("/api", func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   opts.AllowedOrigins,
				AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
				ExposedHeaders:   []string{"X-Request-ID"},
				AllowCredentials: true,
				MaxAge:           300,
			}))

			r.Get("/session", h.Session)
			r.Post("/session/refresh", h.RefreshSession)
		})
	})

	return r
}

// layoutGuard пускает в панель только вошедших клиентов, остальных уводит на страницу входа
func (h *Handler) layoutGuard(opts RouterOptions) func(http.Handler) http.Handler {
	g := h.guardOptions(opts, "admin", guard.Open())
	g.RedirectTo = h.loginPath
	g.AppendNext = true
	return middleware.RequireAccess(g)
}

// guard защищает маршрут политикой раздела, отказ показывается страницей 403
func (h *Handler) guard(opts RouterOptions, name string) func(http.Handler) http.Handler {
	return middleware.RequireAccess(h.guardOptions(opts, name, h.policies.MustGet(name)))
}

func (h *Handler) guardOptions(opts RouterOptions, name string, p guard.Policy) middleware.GuardOptions {
	return middleware.GuardOptions{
		Name:        name,
		Policy:      p,
		WaitTimeout: opts.GuardWait,
		LoginPath:   h.loginPath,
		HomePath:    h.homePath,
		Metrics:     opts.Metrics,
		Events:      opts.Events,
		Logger:      opts.Logger,
	}
}

func loginLimit(opts RouterOptions, log logger.Logger) []func(http.Handler) http.Handler {
	if opts.LoginLimiter == nil || opts.LoginPerMinute <= 0 {
		return nil
	}
	return []func(http.Handler) http.Handler{
		middleware.RateLimitMiddleware(opts.LoginLimiter, "login", opts.LoginPerMinute, time.Minute, log),
	}
}
