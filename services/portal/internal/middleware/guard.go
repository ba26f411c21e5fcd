package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/events"
	"PemkoPortal/pkg/guard"
	"PemkoPortal/pkg/logger"
	"PemkoPortal/pkg/metrics"
	"PemkoPortal/pkg/session"
)

// GuardOptions настройки защиты маршрута
type GuardOptions struct {
	// Name имя политики в логах и событиях
	Name   string
	Policy guard.Policy
	// RedirectTo если задан, клиента без доступа уводят туда вместо показа страницы
	RedirectTo string
	// AppendNext добавляет к RedirectTo параметр next с исходным адресом (только для входа)
	AppendNext bool
	// Fallback показывается вместо стандартной страницы отказа. Решение доступно через DecisionFromContext
	Fallback    http.Handler
	WaitTimeout time.Duration
	LoginPath   string
	HomePath    string

	Metrics *metrics.Metrics
	Events  events.Emitter
	Logger  logger.Logger
}

type decisionKey struct{}

// DecisionFromContext возвращает решение guard'а для текущего запроса
func DecisionFromContext(ctx context.Context) (guard.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(guard.Decision)
	return d, ok
}

// RequireAccess пропускает запрос, только если сессия удовлетворяет политике.
// Пока сессия загружается, решение не принимается
func RequireAccess(opts GuardOptions) func(http.Handler) http.Handler {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.LoginPath == "" {
		opts.LoginPath = session.DefaultLoginPath
	}
	if opts.HomePath == "" {
		opts.HomePath = "/admin/dashboard"
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := waitState(r, opts)
			d := guard.Evaluate(state, opts.Policy)

			if opts.Metrics != nil {
				opts.Metrics.ObserveDecision(d.Kind.String(), d.Outcome.String())
			}

			ctx := context.WithValue(r.Context(), decisionKey{}, d)
			r = r.WithContext(ctx)

			switch d.Outcome {
			case guard.OutcomeGranted:
				next.ServeHTTP(w, r)

			case guard.OutcomeLoading:
				w.Header().Set("Retry-After", "1")
				if WantsJSON(r) {
					errors.WriteJSON(w, errors.New(errors.ErrUnavailable, "session is loading"))
					return
				}
				writeNotice(w, http.StatusServiceUnavailable, notice{
					Title:   "Memuat",
					Message: "Sedang memeriksa sesi Anda. Halaman akan dimuat ulang.",
					Loading: true,
				})

			case guard.OutcomeUnauthenticated:
				opts.Logger.Debug("Access requires authentication",
					logger.CtxField(ctx),
					logger.String("policy", opts.Name),
					logger.String("path", r.URL.Path))
				deny(w, r, opts, errors.ErrUnauthorized, notice{
					Title:     "Login Diperlukan",
					Message:   "Anda harus login untuk mengakses halaman ini.",
					LoginPath: opts.LoginPath,
				})

			case guard.OutcomeForbidden:
				roles, perms := d.Missing()
				opts.Logger.Info("Access denied",
					logger.CtxField(ctx),
					logger.String("policy", opts.Name),
					logger.String("kind", d.Kind.String()),
					logger.String("path", r.URL.Path))
				emitDenied(ctx, opts, state, d, r.URL.Path)
				deny(w, r, opts, errors.ErrForbidden, notice{
					Code:        http.StatusForbidden,
					Title:       "Forbidden",
					Message:     "Access denied.",
					Roles:       roles,
					Permissions: perms,
					HomePath:    opts.HomePath,
				})
			}
		})
	}
}

// waitState ждет окончания загрузки сессии, но не дольше WaitTimeout.
// Без смонтированной сессии клиент считается неаутентифицированным
func waitState(r *http.Request, opts GuardOptions) session.State {
	s, ok := session.FromContext(r.Context())
	if !ok {
		opts.Logger.Error("No session mounted for guarded route",
			logger.CtxField(r.Context()),
			logger.String("path", r.URL.Path))
		return session.State{}
	}

	ctx, cancel := context.WithTimeout(r.Context(), opts.WaitTimeout)
	defer cancel()
	state, _ := s.Wait(ctx)
	return state
}

func deny(w http.ResponseWriter, r *http.Request, opts GuardOptions, code errors.ErrorCode, n notice) {
	if opts.RedirectTo != "" {
		http.Redirect(w, r, redirectTarget(r, opts), http.StatusSeeOther)
		return
	}
	if opts.Fallback != nil {
		opts.Fallback.ServeHTTP(w, r)
		return
	}
	if WantsJSON(r) {
		message := "authentication required"
		if code == errors.ErrForbidden {
			message = "access denied"
		}
		errors.WriteJSON(w, errors.New(code, message))
		return
	}

	e := errors.New(code, n.Title)
	if n.Code == 0 {
		n.Code = e.HTTPStatus()
	}
	writeNotice(w, e.HTTPStatus(), n)
}

func redirectTarget(r *http.Request, opts GuardOptions) string {
	if !opts.AppendNext || r.Method != http.MethodGet {
		return opts.RedirectTo
	}
	target, err := url.Parse(opts.RedirectTo)
	if err != nil {
		return opts.RedirectTo
	}
	q := target.Query()
	q.Set("next", r.URL.RequestURI())
	target.RawQuery = q.Encode()
	return target.String()
}

func emitDenied(ctx context.Context, opts GuardOptions, state session.State, d guard.Decision, path string) {
	e := events.New(events.TypeAccessDenied)
	if state.User != nil {
		e.UserID = state.User.ID
		e.Email = state.User.Email
	}
	e.RequestID = logger.RequestID(ctx)
	e.Attributes = map[string]string{
		"policy":      opts.Name,
		"kind":        d.Kind.String(),
		"path":        path,
		"roles":       strings.Join(d.Policy.AllowedRoles, ","),
		"permissions": strings.Join(d.Policy.AllowedPermissions, ","),
	}
	opts.Events.Emit(ctx, e)
}
