package middleware

import (
	"context"
	"sync"

	"PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/events"
	"PemkoPortal/pkg/identity"
	"PemkoPortal/pkg/logger"
	"PemkoPortal/pkg/session"
)

// mockIdentity знает пользователей по токену. Если block не nil, вызов ждет его закрытия
type mockIdentity struct {
	users map[string]*identity.User
	block chan struct{}
}

func (m *mockIdentity) CurrentUser(ctx context.Context, token string) (*identity.User, error) {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if u, ok := m.users[token]; ok {
		return u, nil
	}
	return nil, errors.New(errors.ErrUnauthorized, "Unauthenticated.")
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

func (r *recordingEmitter) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func editorUser() *identity.User {
	return &identity.User{
		ID:          7,
		Name:        "Siti Nurhaliza",
		Email:       "siti.nurhaliza@pekanbaru.go.id",
		Roles:       []identity.Role{{ID: 2, Name: "editor"}},
		Permissions: []identity.Permission{{ID: 3, Name: "edit posts"}},
	}
}

// mountedContext возвращает контекст с проверенной сессией для токена token
func mountedContext(token string, users map[string]*identity.User) context.Context {
	s := session.New(session.Dependencies{
		Store:    session.NewMemoryStore(token),
		Identity: &mockIdentity{users: users},
		Logger:   logger.NewNop(),
	}, session.Options{})
	s.ValidateToken(context.Background())
	return session.NewContext(context.Background(), s)
}

// loadingContext возвращает контекст с сессией, которая еще не проверена
func loadingContext() context.Context {
	s := session.New(session.Dependencies{
		Store:    session.NewMemoryStore("tok"),
		Identity: &mockIdentity{},
		Logger:   logger.NewNop(),
	}, session.Options{})
	return session.NewContext(context.Background(), s)
}
