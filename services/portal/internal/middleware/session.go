package middleware

import (
	"context"
	"net/http"
	"time"

	"PemkoPortal/pkg/events"
	"PemkoPortal/pkg/logger"
	"PemkoPortal/pkg/metrics"
	"PemkoPortal/pkg/session"
)

// DefaultWaitTimeout сколько запрос ждет первую проверку токена
const DefaultWaitTimeout = 15 * time.Second

// SessionConfig настройки монтирования сессии на запрос
type SessionConfig struct {
	Cookie            session.CookieConfig
	Identity          session.IdentityClient
	Events            events.Emitter
	Metrics           *metrics.Metrics
	Logger            logger.Logger
	ValidationTimeout time.Duration
	WaitTimeout       time.Duration
	LoginPath         string
}

// SessionProvider монтирует сессию на каждый запрос: токен берется из cookie,
// проверяется через backend, сессия кладется в контекст и размонтируется после ответа
func SessionProvider(cfg SessionConfig) func(http.Handler) http.Handler {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := session.New(session.Dependencies{
				Store:     session.NewCookieStore(cfg.Cookie, w, r),
				Identity:  cfg.Identity,
				Navigator: redirectNavigator(w, r),
				Events:    cfg.Events,
				Metrics:   cfg.Metrics,
				Logger:    cfg.Logger,
			}, session.Options{
				ValidationTimeout: cfg.ValidationTimeout,
				LoginPath:         cfg.LoginPath,
			})
			defer s.Close()

			go s.ValidateToken(r.Context())

			waitCtx, cancel := context.WithTimeout(r.Context(), cfg.WaitTimeout)
			_, err := s.Wait(waitCtx)
			cancel()
			if err != nil {
				// Поздний результат проверки не должен писать cookie в уже идущий ответ
				s.Close()
				log.Warn("Session validation did not finish in time",
					logger.CtxField(r.Context()),
					logger.Duration("wait_timeout", cfg.WaitTimeout),
					logger.Error(err))
			}

			next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), s)))
		})
	}
}

// redirectNavigator переводит браузер на target ответом 303
func redirectNavigator(w http.ResponseWriter, r *http.Request) session.Navigator {
	return session.NavigatorFunc(func(_ context.Context, target string) {
		http.Redirect(w, r, target, http.StatusSeeOther)
	})
}
