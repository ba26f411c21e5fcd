package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error представляет кастомную ошибку с дополнительной информацией
type Error struct {
	Code    ErrorCode           `json:"code"`
	Message string              `json:"message"`
	Details string              `json:"details,omitempty"`
	Fields  map[string][]string `json:"errors,omitempty"`
	Cause   error               `json:"-"`
	Context context.Context     `json:"-"`
}

// ErrorCode представляет код ошибки
type ErrorCode string

// Определение кодов ошибок
const (
	ErrNotFound        ErrorCode = "NOT_FOUND"
	ErrValidation      ErrorCode = "VALIDATION_ERROR"
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrForbidden       ErrorCode = "FORBIDDEN"
	ErrInternal        ErrorCode = "INTERNAL_ERROR"
	ErrConflict        ErrorCode = "CONFLICT"
	ErrUnavailable     ErrorCode = "UNAVAILABLE"
	ErrTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
)

// Error возвращает сообщение об ошибке
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap возвращает причину ошибки
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is проверяет, является ли ошибка указанного типа
func (e *Error) Is(target error) bool {
	if targetError, ok := target.(*Error); ok {
		return e.Code == targetError.Code
	}
	return false
}

// New создает новую кастомную ошибку
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap оборачивает существующую ошибку в кастомную
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// CodeOf возвращает код первой *Error в цепочке или ErrInternal
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrInternal
}

// As извлекает *Error из цепочки ошибок
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode проверяет, содержит ли цепочка ошибку с указанным кодом
func HasCode(err error, code ErrorCode) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

func (e *Error) clone() *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Fields:  e.Fields,
		Cause:   e.Cause,
		Context: e.Context,
	}
}

// WithDetails добавляет детали к ошибке
func (e *Error) WithDetails(details string) *Error {
	if e == nil {
		return nil
	}
	c := e.clone()
	c.Details = details
	return c
}

// WithFields добавляет ошибки по полям формы (ответ 422 от backend'а)
func (e *Error) WithFields(fields map[string][]string) *Error {
	if e == nil {
		return nil
	}
	c := e.clone()
	if len(fields) > 0 {
		c.Fields = make(map[string][]string, len(fields))
		for k, v := range fields {
			c.Fields[k] = append([]string(nil), v...)
		}
	}
	return c
}

// WithContext добавляет контекст к ошибке
func (e *Error) WithContext(ctx context.Context) *Error {
	if e == nil {
		return nil
	}
	c := e.clone()
	c.Context = ctx
	return c
}

// HTTPStatus возвращает соответствующий HTTP статус для ошибки
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusOK
	}

	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrValidation:
		return http.StatusUnprocessableEntity
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// GetUserMessage возвращает пользовательское сообщение об ошибке.
// Портал обслуживает пользователей на индонезийском
func (e *Error) GetUserMessage() string {
	if e == nil {
		return ""
	}

	if e.Context != nil {
		if localizedMsg, ok := e.Context.Value(localizedMessageKey{}).(string); ok {
			return localizedMsg
		}
	}

	switch e.Code {
	case ErrNotFound:
		return "Halaman tidak ditemukan."
	case ErrValidation:
		return "Data yang dikirim tidak valid."
	case ErrUnauthorized:
		return "Anda harus login untuk mengakses halaman ini."
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses halaman ini."
	case ErrConflict:
		return "Terjadi konflik data."
	case ErrUnavailable:
		return "Layanan sedang tidak tersedia. Silakan coba lagi."
	case ErrTooManyRequests:
		return "Terlalu banyak percobaan. Silakan coba lagi nanti."
	default:
		return "Terjadi kesalahan pada server."
	}
}

// Middleware обрабатывает ошибки в HTTP запросах
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			if recovered := recover(); recovered != nil {
				err := New(ErrInternal, "Internal server error").
					WithDetails(fmt.Sprintf("panic: %v", recovered))
				if !wrapped.written {
					WriteJSON(w, err)
				}
			}
		}()

		// Обработчик может положить *Error в контекст через Attach
		holder := &errorHolder{}
		next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), errorContextKey{}, holder)))

		if wrapped.written || holder.err == nil {
			return
		}
		WriteJSON(w, holder.err)
	})
}

// WriteJSON отправляет JSON ответ с ошибкой
func WriteJSON(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())

	body := map[string]interface{}{
		"code":    err.Code,
		"message": err.GetUserMessage(),
	}
	if err.Details != "" {
		body["details"] = err.Details
	}
	if len(err.Fields) > 0 {
		body["errors"] = err.Fields
	}

	jsonData, jsonErr := json.Marshal(map[string]interface{}{"error": body})
	if jsonErr != nil {
		_, _ = w.Write([]byte(`{"error":{"code":"INTERNAL_ERROR","message":"Internal server error"}}`))
		return
	}

	_, _ = w.Write(jsonData)
}

type errorContextKey struct{}

type localizedMessageKey struct{}

type errorHolder struct {
	err *Error
}

// Attach сохраняет ошибку для Middleware. Возвращает false, если Middleware не установлен
func Attach(ctx context.Context, err *Error) bool {
	holder, ok := ctx.Value(errorContextKey{}).(*errorHolder)
	if !ok {
		return false
	}
	holder.err = err
	return true
}

// GetError извлекает ошибку, сохраненную через Attach
func GetError(ctx context.Context) *Error {
	if holder, ok := ctx.Value(errorContextKey{}).(*errorHolder); ok {
		return holder.err
	}
	return nil
}

// WithLocalizedMessage добавляет локализованное сообщение в контекст
func WithLocalizedMessage(ctx context.Context, localizedMessage string) context.Context {
	return context.WithValue(ctx, localizedMessageKey{}, localizedMessage)
}

// responseWriter обертка для перехвата статуса ответа
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader перехватывает установку статуса
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.written = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.written = true
	return rw.ResponseWriter.Write(b)
}
