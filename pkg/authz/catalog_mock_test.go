package authz_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"PemkoPortal/pkg/authz"
	"PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/identity"
	"PemkoPortal/pkg/logger"
	"PemkoPortal/pkg/mocks"
)

func TestCatalog_ValidatePolicyNames(t *testing.T) {
	src := new(mocks.MockCatalogSource)
	src.On("Roles", mock.Anything, "service-token").
		Return([]identity.Role{{ID: 1, Name: "super_admin"}, {ID: 2, Name: "editor"}}, nil).Once()
	src.On("Permissions", mock.Anything, "service-token").
		Return([]identity.Permission{{ID: 1, Name: "view users"}}, nil).Once()

	c := authz.NewCatalog(src, time.Minute, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Validate(ctx, "service-token", []string{"editor"}, []string{"view users"}))

	err := c.Validate(ctx, "service-token", []string{"superadmin"}, []string{"view users", "view roles"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrValidation))
	e, _ := errors.As(err)
	assert.Equal(t, `role "superadmin", permission "view roles"`, e.Details)

	// Второй вызов обслуживается из кэша
	src.AssertExpectations(t)
}

func TestCatalog_SourceFailure(t *testing.T) {
	src := new(mocks.MockCatalogSource)
	src.On("Roles", mock.Anything, "tok").Return(nil, assert.AnError)

	c := authz.NewCatalog(src, time.Minute, logger.NewNop())

	_, err := c.RoleNames(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrUnavailable))
	assert.False(t, c.Loaded())
}
