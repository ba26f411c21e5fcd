// Package session хранит состояние аутентификации одного клиента
// и проверяет сохраненный токен через backend.
//
// Сессия создается при монтировании клиента (запрос портала или запуск CLI)
// в состоянии загрузки. Переход из загрузки происходит ровно один раз:
// после первой проверки токена, входа или выхода.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"PemkoPortal/pkg/authz"
	"PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/events"
	"PemkoPortal/pkg/identity"
	"PemkoPortal/pkg/logger"
	"PemkoPortal/pkg/metrics"
)

const (
	// DefaultValidationTimeout сколько ждать ответа backend'а при проверке токена
	DefaultValidationTimeout = 10 * time.Second
	// DefaultLoginPath куда уводить клиента после выхода
	DefaultLoginPath = "/dk-login"
)

// Результаты проверки токена для метрик
const (
	resultValid   = "valid"
	resultInvalid = "invalid"
	resultAbsent  = "absent"
	resultTimeout = "timeout"
	resultError   = "error"
)

// State снимок состояния сессии. Всегда копируется целиком
type State struct {
	Token           string
	User            *identity.User
	IsLoading       bool
	IsAuthenticated bool
}

// IdentityClient получает текущего пользователя по токену (GET /api/user)
type IdentityClient interface {
	CurrentUser(ctx context.Context, token string) (*identity.User, error)
}

// Navigator переводит клиента на другую страницу
type Navigator interface {
	Navigate(ctx context.Context, target string)
}

// NavigatorFunc адаптер функции к Navigator
type NavigatorFunc func(ctx context.Context, target string)

// Navigate реализует Navigator
func (f NavigatorFunc) Navigate(ctx context.Context, target string) { f(ctx, target) }

// Dependencies внешние зависимости сессии
type Dependencies struct {
	Store     CredentialStore
	Identity  IdentityClient
	Navigator Navigator
	// Events и Metrics необязательны
	Events  events.Emitter
	Metrics *metrics.Metrics
	Logger  logger.Logger
}

// Options настройки сессии
type Options struct {
	ValidationTimeout time.Duration
	LoginPath         string
}

// Session сессия одного клиента.
// Все изменения состояния заменяют State целиком под writeMu;
// чтение идет под mu и не ждет сетевых вызовов
type Session struct {
	deps Dependencies
	opts Options
	log  logger.Logger

	// writeMu упорядочивает писателей вместе с операциями над хранилищем
	writeMu sync.Mutex

	mu         sync.RWMutex
	state      State
	generation uint64
	closed     bool

	ready     chan struct{}
	readyOnce sync.Once
}

// New создает сессию в состоянии загрузки
func New(deps Dependencies, opts Options) *Session {
	if opts.ValidationTimeout <= 0 {
		opts.ValidationTimeout = DefaultValidationTimeout
	}
	if opts.LoginPath == "" {
		opts.LoginPath = DefaultLoginPath
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}

	return &Session{
		deps:  deps,
		opts:  opts,
		log:   log.With(logger.String("component", "session")),
		state: State{IsLoading: true},
		ready: make(chan struct{}),
	}
}

// State возвращает текущий снимок состояния
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Wait блокируется до окончания первой загрузки или истечения ctx
func (s *Session) Wait(ctx context.Context) (State, error) {
	select {
	case <-s.ready:
		return s.State(), nil
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// Ready закрывается, когда загрузка закончилась
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Close помечает сессию размонтированной. Результаты проверок в полете отбрасываются.
// После возврата из Close сессия больше не обращается к хранилищу
func (s *Session) Close() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.markReady()
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Session) snapshotGeneration() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation, s.closed
}

// commit атомарно заменяет состояние. Вызывать под writeMu
func (s *Session) commit(next State) {
	s.mu.Lock()
	s.state = next
	s.generation++
	s.mu.Unlock()
	s.markReady()
}

// ValidateToken проверяет сохраненный токен через backend.
// Любая ошибка, таймаут или отказ backend'а приводят к удалению токена
// и неаутентифицированному состоянию. Повторных попыток нет
func (s *Session) ValidateToken(ctx context.Context) State {
	startGen, closed := s.snapshotGeneration()
	if closed {
		return s.State()
	}

	token, err := s.deps.Store.Token(ctx)
	if err != nil {
		s.log.Warn("Failed to read stored token", logger.CtxField(ctx), logger.Error(err))
		token = ""
	}

	if token == "" {
		s.observe(resultAbsent, 0)
		return s.apply(ctx, startGen, State{}, false)
	}

	user, result, took := s.fetchUser(ctx, token)
	s.observe(result, took)

	if result != resultValid {
		return s.apply(ctx, startGen, State{}, true)
	}

	return s.apply(ctx, startGen, State{
		Token:           token,
		User:            user,
		IsAuthenticated: true,
	}, false)
}

// RefreshUser повторно получает пользователя по сохраненному токену
func (s *Session) RefreshUser(ctx context.Context) State {
	return s.ValidateToken(ctx)
}

func (s *Session) fetchUser(ctx context.Context, token string) (*identity.User, string, time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ValidationTimeout)
	defer cancel()

	if s.deps.Metrics != nil {
		var span trace.Span
		ctx, span = s.deps.Metrics.StartSpan(ctx, "session.validate_token")
		defer span.End()
	}

	start := time.Now()
	user, err := s.deps.Identity.CurrentUser(ctx, token)
	took := time.Since(start)

	result := resultValid
	switch {
	case err == nil && user == nil:
		err = fmt.Errorf("identity backend returned no user")
		result = resultError
	case err == nil:
	case stderrors.Is(err, context.DeadlineExceeded):
		result = resultTimeout
	case errors.HasCode(err, errors.ErrUnauthorized):
		result = resultInvalid
	default:
		result = resultError
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("session.result", result))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.log.Info("Token validation failed",
			logger.CtxField(ctx),
			logger.String("result", result),
			logger.Duration("took", took),
			logger.Error(err),
		)
		return nil, result, took
	}

	s.log.Debug("Token validated",
		logger.CtxField(ctx),
		logger.Int64("user_id", user.ID),
		logger.Duration("took", took),
	)
	return user, result, took
}

// apply фиксирует результат проверки, если за время проверки не было входа,
// выхода или размонтирования. При clearToken токен удаляется до публикации состояния
func (s *Session) apply(ctx context.Context, startGen uint64, next State, clearToken bool) State {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	gen, closed := s.snapshotGeneration()
	if closed || gen != startGen {
		s.log.Debug("Discarding stale validation result", logger.CtxField(ctx))
		return s.State()
	}

	if clearToken {
		if err := s.deps.Store.ClearToken(ctx); err != nil {
			s.log.Warn("Failed to clear rejected token", logger.CtxField(ctx), logger.Error(err))
		}
		s.deps.Events.Emit(ctx, events.New(events.TypeInvalidated))
	}

	s.commit(next)
	return next
}

func (s *Session) observe(result string, took time.Duration) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveValidation(result, took)
	}
}

// Login сохраняет токен и устанавливает пользователя одним обновлением состояния.
// Если токен не удалось сохранить, состояние не меняется
func (s *Session) Login(ctx context.Context, token string, user *identity.User, opts PersistOptions) error {
	if token == "" {
		return errors.New(errors.ErrValidation, "token is required")
	}
	if user == nil {
		return errors.New(errors.ErrValidation, "user is required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, closed := s.snapshotGeneration(); closed {
		return errors.New(errors.ErrConflict, "session is closed")
	}

	if err := s.deps.Store.SaveToken(ctx, token, opts); err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to persist token")
	}

	s.commit(State{
		Token:           token,
		User:            user,
		IsAuthenticated: true,
	})

	e := events.New(events.TypeLogin)
	e.UserID = user.ID
	e.Email = user.Email
	e.Attributes = map[string]string{"remember": fmt.Sprintf("%t", opts.Remember)}
	s.deps.Events.Emit(ctx, e)

	s.log.Info("User logged in", logger.CtxField(ctx), logger.Int64("user_id", user.ID))
	return nil
}

// Logout удаляет токен, очищает состояние и уводит клиента на страницу входа.
// Состояние очищается даже при ошибке хранилища; ошибка возвращается
func (s *Session) Logout(ctx context.Context) error {
	s.writeMu.Lock()
	prev := s.State()
	storeErr := s.deps.Store.ClearToken(ctx)
	s.commit(State{})
	s.writeMu.Unlock()

	e := events.New(events.TypeLogout)
	if prev.User != nil {
		e.UserID = prev.User.ID
		e.Email = prev.User.Email
	}
	s.deps.Events.Emit(ctx, e)

	if s.deps.Navigator != nil {
		s.deps.Navigator.Navigate(ctx, s.opts.LoginPath)
	}

	if storeErr != nil {
		s.log.Warn("Failed to clear token on logout", logger.CtxField(ctx), logger.Error(storeErr))
		return errors.Wrap(storeErr, errors.ErrInternal, "failed to clear token")
	}
	return nil
}

// Evaluator возвращает Evaluator над текущим пользователем
func (s *Session) Evaluator() authz.Evaluator {
	st := s.State()
	if !st.IsAuthenticated {
		return authz.New(nil)
	}
	return authz.New(st.User)
}

// HasRole см. authz.Evaluator.HasRole
func (s *Session) HasRole(name string) bool {
	return s.Evaluator().HasRole(name)
}

// HasPermission см. authz.Evaluator.HasPermission
func (s *Session) HasPermission(name string) bool {
	return s.Evaluator().HasPermission(name)
}

// HasAnyRole см. authz.Evaluator.HasAnyRole
func (s *Session) HasAnyRole(names []string) bool {
	return s.Evaluator().HasAnyRole(names)
}

// HasAnyPermission см. authz.Evaluator.HasAnyPermission
func (s *Session) HasAnyPermission(names []string) bool {
	return s.Evaluator().HasAnyPermission(names)
}

type sessionKey struct{}

// NewContext возвращает контекст с сессией
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext извлекает сессию из контекста
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}
