package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"PemkoPortal/pkg/identity"
)

// MockCatalogSource имитирует authz.CatalogSource (GET /api/roles, GET /api/permissions/all)
type MockCatalogSource struct {
	mock.Mock
}

func (m *MockCatalogSource) Roles(ctx context.Context, token string) ([]identity.Role, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]identity.Role), args.Error(1)
}

func (m *MockCatalogSource) Permissions(ctx context.Context, token string) ([]identity.Permission, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]identity.Permission), args.Error(1)
}
