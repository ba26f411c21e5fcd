// Package mocks моки зависимостей сессии и портала на testify/mock.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"PemkoPortal/pkg/events"
	"PemkoPortal/pkg/identity"
	"PemkoPortal/pkg/session"
)

// MockIdentityClient имитирует session.IdentityClient (GET /api/user)
type MockIdentityClient struct {
	mock.Mock
}

func (m *MockIdentityClient) CurrentUser(ctx context.Context, token string) (*identity.User, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.User), args.Error(1)
}

// MockCredentialStore имитирует session.CredentialStore
type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) Token(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockCredentialStore) SaveToken(ctx context.Context, token string, opts session.PersistOptions) error {
	args := m.Called(ctx, token, opts)
	return args.Error(0)
}

func (m *MockCredentialStore) ClearToken(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockRateLimiter имитирует ratelimit.RateLimiter
type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

// MockPublisher имитирует events.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, e events.Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}
