package session

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/events"
	"PemkoPortal/pkg/identity"
	"PemkoPortal/pkg/logger"
	"PemkoPortal/pkg/metrics"
)

// mockIdentityClient отвечает заранее заданным результатом.
// Если block не nil, вызов ждет значения из канала или истечения ctx
type mockIdentityClient struct {
	mu    sync.Mutex
	user  *identity.User
	err   error
	calls int
	block chan struct{}
}

func (m *mockIdentityClient) CurrentUser(ctx context.Context, token string) (*identity.User, error) {
	m.mu.Lock()
	m.calls++
	block := m.block
	user, err := m.user, m.err
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return user, err
}

func (m *mockIdentityClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingNavigator struct {
	mu      sync.Mutex
	targets []string
}

func (n *recordingNavigator) Navigate(_ context.Context, target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, target)
}

func adminUser() *identity.User {
	return &identity.User{
		ID:          1,
		Name:        "Admin",
		Email:       "admin@pekanbaru.go.id",
		Roles:       []identity.Role{{ID: 1, Name: "admin"}},
		Permissions: []identity.Permission{{ID: 1, Name: "view users"}},
	}
}

type fixture struct {
	store    *MemoryStore
	identity *mockIdentityClient
	emitter  *recordingEmitter
	nav      *recordingNavigator
	metrics  *metrics.Metrics
	session  *Session
}

func newFixture(token string, opts Options) *fixture {
	f := &fixture{
		store:    NewMemoryStore(token),
		identity: &mockIdentityClient{user: adminUser()},
		emitter:  &recordingEmitter{},
		nav:      &recordingNavigator{},
		metrics:  metrics.NewMetrics("session_test", metrics.WithRegistry(prometheus.NewRegistry())),
	}
	f.session = New(Dependencies{
		Store:     f.store,
		Identity:  f.identity,
		Navigator: f.nav,
		Events:    f.emitter,
		Metrics:   f.metrics,
		Logger:    logger.NewNop(),
	}, opts)
	return f
}

func TestNew_StartsLoading(t *testing.T) {
	f := newFixture("tok", Options{})
	st := f.session.State()

	assert.True(t, st.IsLoading)
	assert.False(t, st.IsAuthenticated)
	assert.Nil(t, st.User)

	select {
	case <-f.session.Ready():
		t.Fatal("session must not be ready before validation")
	default:
	}
}

func TestValidateToken_NoToken(t *testing.T) {
	f := newFixture("", Options{})

	st := f.session.ValidateToken(context.Background())

	assert.False(t, st.IsLoading)
	assert.False(t, st.IsAuthenticated)
	assert.Equal(t, 0, f.identity.callCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokenValidations.WithLabelValues("absent")))
}

func TestValidateToken_StoreReadError(t *testing.T) {
	f := newFixture("tok", Options{})
	f.store.ReadErr = stderrors.New("disk error")

	st := f.session.ValidateToken(context.Background())

	assert.False(t, st.IsAuthenticated)
	assert.Equal(t, 0, f.identity.callCount())
}

func TestValidateToken_Valid(t *testing.T) {
	f := newFixture("tok", Options{})

	st := f.session.ValidateToken(context.Background())

	assert.False(t, st.IsLoading)
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, "tok", st.Token)
	assert.Equal(t, "admin@pekanbaru.go.id", st.User.Email)
	assert.True(t, f.session.HasRole("admin"))
	assert.True(t, f.session.HasPermission("view users"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokenValidations.WithLabelValues("valid")))
}

// Повторная проверка неизменного валидного токена дает то же состояние
func TestValidateToken_Idempotent(t *testing.T) {
	f := newFixture("tok", Options{})

	first := f.session.ValidateToken(context.Background())
	second := f.session.ValidateToken(context.Background())

	assert.Equal(t, first, second)
	assert.Equal(t, 2, f.identity.callCount())

	tok, _ := f.store.Token(context.Background())
	assert.Equal(t, "tok", tok)
}

// Любая ошибка проверки: токен удален, клиент не аутентифицирован
func TestValidateToken_FailClosed(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		result string
	}{
		{"401", errors.New(errors.ErrUnauthorized, "status 401"), "invalid"},
		{"403", errors.New(errors.ErrUnauthorized, "status 403"), "invalid"},
		{"500", errors.New(errors.ErrUnavailable, "status 500"), "error"},
		{"network", stderrors.New("dial tcp: connection refused"), "error"},
		{"decode", errors.Wrap(stderrors.New("unexpected EOF"), errors.ErrInternal, "decode"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture("tok", Options{})
			f.identity.user = nil
			f.identity.err = tt.err

			st := f.session.ValidateToken(context.Background())

			assert.False(t, st.IsLoading)
			assert.False(t, st.IsAuthenticated)
			assert.Nil(t, st.User)
			assert.Empty(t, st.Token)

			tok, _ := f.store.Token(context.Background())
			assert.Empty(t, tok, "credential must be removed")
			assert.Equal(t, []string{events.TypeInvalidated}, f.emitter.types())
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokenValidations.WithLabelValues(tt.result)))
		})
	}
}

func TestValidateToken_NilUserIsFailure(t *testing.T) {
	f := newFixture("tok", Options{})
	f.identity.user = nil

	st := f.session.ValidateToken(context.Background())

	assert.False(t, st.IsAuthenticated)
	tok, _ := f.store.Token(context.Background())
	assert.Empty(t, tok)
}

func TestValidateToken_Timeout(t *testing.T) {
	f := newFixture("tok", Options{ValidationTimeout: 20 * time.Millisecond})
	f.identity.block = make(chan struct{})

	start := time.Now()
	st := f.session.ValidateToken(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, st.IsLoading)
	assert.False(t, st.IsAuthenticated)
	tok, _ := f.store.Token(context.Background())
	assert.Empty(t, tok)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokenValidations.WithLabelValues("timeout")))
}

// Результат проверки, пришедший после размонтирования, игнорируется
func TestValidateToken_AfterClose(t *testing.T) {
	f := newFixture("tok", Options{})
	f.identity.block = make(chan struct{})

	done := make(chan State)
	go func() { done <- f.session.ValidateToken(context.Background()) }()

	require.Eventually(t, func() bool { return f.identity.callCount() == 1 }, time.Second, time.Millisecond)
	f.session.Close()
	close(f.identity.block)
	<-done

	st := f.session.State()
	assert.True(t, st.IsLoading, "closed session state must not change")
	assert.False(t, st.IsAuthenticated)
}

// Вход во время проверки старого токена: результат проверки отбрасывается
func TestValidateToken_StaleAfterLogin(t *testing.T) {
	f := newFixture("old", Options{})
	f.identity.err = errors.New(errors.ErrUnauthorized, "expired")
	f.identity.user = nil
	f.identity.block = make(chan struct{})

	done := make(chan State)
	go func() { done <- f.session.ValidateToken(context.Background()) }()
	require.Eventually(t, func() bool { return f.identity.callCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, f.session.Login(context.Background(), "new", adminUser(), PersistOptions{}))
	close(f.identity.block)
	<-done

	st := f.session.State()
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, "new", st.Token)
	tok, _ := f.store.Token(context.Background())
	assert.Equal(t, "new", tok, "stale failure must not remove the fresh token")
}

func TestLogin(t *testing.T) {
	f := newFixture("", Options{})
	user := adminUser()

	require.NoError(t, f.session.Login(context.Background(), "tok", user, PersistOptions{Remember: true}))

	st := f.session.State()
	assert.False(t, st.IsLoading)
	assert.True(t, st.IsAuthenticated)
	assert.Same(t, user, st.User)
	assert.True(t, f.store.Remembered())
	assert.Equal(t, []string{events.TypeLogin}, f.emitter.types())

	select {
	case <-f.session.Ready():
	default:
		t.Fatal("login must end loading")
	}
}

func TestLogin_InvalidArguments(t *testing.T) {
	f := newFixture("", Options{})

	err := f.session.Login(context.Background(), "", adminUser(), PersistOptions{})
	assert.True(t, errors.HasCode(err, errors.ErrValidation))

	err = f.session.Login(context.Background(), "tok", nil, PersistOptions{})
	assert.True(t, errors.HasCode(err, errors.ErrValidation))

	assert.True(t, f.session.State().IsLoading)
}

func TestLogin_PersistFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture("", Options{})
	f.session.ValidateToken(context.Background())
	before := f.session.State()
	f.store.SaveErr = stderrors.New("read-only")

	err := f.session.Login(context.Background(), "tok", adminUser(), PersistOptions{})

	require.Error(t, err)
	assert.Equal(t, before, f.session.State())
	assert.Empty(t, f.emitter.types())
}

// Выход: hasRole("admin") ложно, токена нет, переход на страницу входа
func TestLogout(t *testing.T) {
	f := newFixture("tok", Options{})
	f.session.ValidateToken(context.Background())
	require.True(t, f.session.HasRole("admin"))

	require.NoError(t, f.session.Logout(context.Background()))

	assert.False(t, f.session.HasRole("admin"))
	assert.False(t, f.session.State().IsAuthenticated)
	tok, _ := f.store.Token(context.Background())
	assert.Empty(t, tok)
	assert.Equal(t, []string{"/dk-login"}, f.nav.targets)
	assert.Equal(t, []string{events.TypeLogout}, f.emitter.types())
}

func TestLogout_StoreFailureStillClearsState(t *testing.T) {
	f := newFixture("tok", Options{LoginPath: "/masuk"})
	f.session.ValidateToken(context.Background())
	f.store.ClearErr = stderrors.New("permission denied")

	err := f.session.Logout(context.Background())

	require.Error(t, err)
	assert.False(t, f.session.State().IsAuthenticated)
	assert.Nil(t, f.session.State().User)
	assert.Equal(t, []string{"/masuk"}, f.nav.targets)
}

func TestWait(t *testing.T) {
	f := newFixture("tok", Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	st, err := f.session.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, st.IsLoading)

	go f.session.ValidateToken(context.Background())

	st, err = f.session.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, st.IsAuthenticated)
}

func TestClose_ReleasesWaiters(t *testing.T) {
	f := newFixture("tok", Options{})
	f.session.Close()

	st, err := f.session.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, st.IsLoading)

	// проверка после размонтирования ничего не делает
	f.session.ValidateToken(context.Background())
	assert.Equal(t, 0, f.identity.callCount())
}

func TestEvaluatorHelpers_Anonymous(t *testing.T) {
	f := newFixture("", Options{})
	f.session.ValidateToken(context.Background())

	assert.False(t, f.session.HasRole("admin"))
	assert.False(t, f.session.HasAnyRole([]string{"admin"}))
	assert.False(t, f.session.HasAnyPermission([]string{"view users"}))
	assert.Nil(t, f.session.Evaluator().User())
}

func TestContext(t *testing.T) {
	f := newFixture("", Options{})

	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	got, ok := FromContext(NewContext(context.Background(), f.session))
	assert.True(t, ok)
	assert.Same(t, f.session, got)
}

// Конкурентные чтения и записи не гоняются друг с другом (go test -race)
func TestConcurrentAccess(t *testing.T) {
	f := newFixture("tok", Options{})
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); f.session.ValidateToken(context.Background()) }()
		go func() { defer wg.Done(); _ = f.session.HasRole("admin"); _ = f.session.State() }()
		go func() {
			defer wg.Done()
			_ = f.session.Login(context.Background(), "tok", adminUser(), PersistOptions{})
		}()
	}
	wg.Wait()

	st := f.session.State()
	assert.False(t, st.IsLoading)
	assert.True(t, st.IsAuthenticated)
}
