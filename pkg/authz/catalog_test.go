package authz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/identity"
	"PemkoPortal/pkg/logger"
)

type mockCatalogSource struct {
	mu          sync.Mutex
	roles       []identity.Role
	permissions []identity.Permission
	err         error
	roleCalls   int
	permCalls   int
	lastToken   string
}

func (m *mockCatalogSource) Roles(ctx context.Context, token string) ([]identity.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roleCalls++
	m.lastToken = token
	return m.roles, m.err
}

func (m *mockCatalogSource) Permissions(ctx context.Context, token string) ([]identity.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permCalls++
	m.lastToken = token
	return m.permissions, m.err
}

func newSource() *mockCatalogSource {
	return &mockCatalogSource{
		roles:       []identity.Role{{ID: 2, Name: "super_admin"}, {ID: 1, Name: "admin"}},
		permissions: []identity.Permission{{ID: 1, Name: "view users"}, {ID: 2, Name: "view roles"}},
	}
}

func TestCatalog_CachesNames(t *testing.T) {
	src := newSource()
	c := NewCatalog(src, time.Minute, logger.NewNop())
	assert.False(t, c.Loaded())

	names, err := c.RoleNames(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "super_admin"}, names)
	assert.True(t, c.Loaded())
	assert.Equal(t, "tok", src.lastToken)

	_, err = c.RoleNames(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, 1, src.roleCalls)

	c.Invalidate()
	_, err = c.RoleNames(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, 2, src.roleCalls)
}

func TestCatalog_Expiry(t *testing.T) {
	src := newSource()
	c := NewCatalog(src, 20*time.Millisecond, logger.NewNop())

	_, err := c.PermissionNames(context.Background(), "")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	_, err = c.PermissionNames(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, src.permCalls)
}

func TestCatalog_SourceError(t *testing.T) {
	src := newSource()
	src.err = errors.New("connection refused")
	c := NewCatalog(src, time.Minute, logger.NewNop())

	_, err := c.RoleNames(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrUnavailable, apperrors.CodeOf(err))
	assert.False(t, c.Loaded())
}

func TestCatalog_Validate(t *testing.T) {
	c := NewCatalog(newSource(), time.Minute, logger.NewNop())
	ctx := context.Background()

	assert.NoError(t, c.Validate(ctx, "", []string{"admin"}, []string{"view users"}))
	assert.NoError(t, c.Validate(ctx, "", nil, nil))

	err := c.Validate(ctx, "", []string{"admin", "ghost"}, []string{"delete everything"})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrValidation, appErr.Code)
	assert.Contains(t, appErr.Details, `role "ghost"`)
	assert.Contains(t, appErr.Details, `permission "delete everything"`)

	err = c.Validate(ctx, "", []string{"bad<name>"}, nil)
	assert.Equal(t, apperrors.ErrValidation, apperrors.CodeOf(err))
}

func TestCatalog_ReturnsCopies(t *testing.T) {
	c := NewCatalog(newSource(), time.Minute, logger.NewNop())
	ctx := context.Background()

	first, err := c.RoleNames(ctx, "")
	require.NoError(t, err)
	first[0] = "zzz"

	cached, err := c.RoleNames(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "super_admin"}, cached)
	cached[0] = "zzz"

	perms, err := c.PermissionNames(ctx, "")
	require.NoError(t, err)
	perms[0] = "zzz"

	assert.NoError(t, c.Validate(ctx, "", []string{"admin"}, []string{"view roles"}))
}
