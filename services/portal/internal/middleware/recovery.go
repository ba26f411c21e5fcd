package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/logger"
)

// RecoveryMiddleware обрабатывает паники в обработчиках HTTP
func RecoveryMiddleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				// http.ErrAbortHandler означает намеренный обрыв ответа
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}

				log.Error("Panic recovered in HTTP handler",
					logger.CtxField(r.Context()),
					logger.Any("panic", recovered),
					logger.String("stack_trace", string(debug.Stack())),
					logger.String("method", r.Method),
					logger.String("path", r.URL.Path),
					logger.String("remote_addr", r.RemoteAddr))

				errors.WriteJSON(w, errors.New(errors.ErrInternal, "Internal server error").
					WithDetails(fmt.Sprintf("request_id=%s", logger.RequestID(r.Context()))))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
