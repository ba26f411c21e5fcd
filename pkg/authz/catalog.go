package authz

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/identity"
	"PemkoPortal/pkg/logger"
	"PemkoPortal/pkg/validation"
)

// CatalogSource источник списков ролей и прав (backend)
type CatalogSource interface {
	Roles(ctx context.Context, token string) ([]identity.Role, error)
	Permissions(ctx context.Context, token string) ([]identity.Permission, error)
}

const (
	rolesKey       = "roles"
	permissionsKey = "permissions"
)

// Catalog известные backend'у имена ролей и прав с кэшированием на TTL
type Catalog struct {
	source    CatalogSource
	cache     *expirable.LRU[string, []string]
	validator *validation.Validator
	log       logger.Logger
	loaded    atomic.Bool
}

// NewCatalog создает каталог с заданным временем жизни кэша
func NewCatalog(source CatalogSource, ttl time.Duration, log logger.Logger) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{
		source:    source,
		cache:     expirable.NewLRU[string, []string](2, nil, ttl),
		validator: validation.NewValidator(),
		log:       log,
	}
}

// Loaded сообщает, был ли каталог хотя бы раз загружен успешно
func (c *Catalog) Loaded() bool {
	return c.loaded.Load()
}

// Invalidate сбрасывает кэш
func (c *Catalog) Invalidate() {
	c.cache.Purge()
}

// RoleNames возвращает копию отсортированных имен ролей
func (c *Catalog) RoleNames(ctx context.Context, token string) ([]string, error) {
	if names, ok := c.cache.Get(rolesKey); ok {
		return slices.Clone(names), nil
	}

	roles, err := c.source.Roles(ctx, token)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrUnavailable, "failed to fetch role catalog")
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return c.store(rolesKey, names), nil
}

// PermissionNames возвращает отсортированные имена прав
func (c *Catalog) PermissionNames(ctx context.Context, token string) ([]string, error) {
	if names, ok := c.cache.Get(permissionsKey); ok {
		return slices.Clone(names), nil
	}

	perms, err := c.source.Permissions(ctx, token)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrUnavailable, "failed to fetch permission catalog")
	}
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return c.store(permissionsKey, names), nil
}

func (c *Catalog) store(key string, names []string) []string {
	sort.Strings(names)
	c.cache.Add(key, names)
	c.loaded.Store(true)
	c.log.Debug("Catalog refreshed", logger.String("kind", key), logger.Int("count", len(names)))
	return slices.Clone(names)
}

// Validate проверяет, что имена корректны по форме и известны backend'у.
// Возвращает ErrValidation со списком неизвестных имен
func (c *Catalog) Validate(ctx context.Context, token string, roles, permissions []string) error {
	if err := c.validator.ValidateIdentifiers(roles, "role"); err != nil {
		return errors.Wrap(err, errors.ErrValidation, "malformed role name")
	}
	if err := c.validator.ValidateIdentifiers(permissions, "permission"); err != nil {
		return errors.Wrap(err, errors.ErrValidation, "malformed permission name")
	}

	var unknown []string
	if len(roles) > 0 {
		known, err := c.RoleNames(ctx, token)
		if err != nil {
			return err
		}
		unknown = append(unknown, missing("role", roles, known)...)
	}
	if len(permissions) > 0 {
		known, err := c.PermissionNames(ctx, token)
		if err != nil {
			return err
		}
		unknown = append(unknown, missing("permission", permissions, known)...)
	}

	if len(unknown) > 0 {
		return errors.New(errors.ErrValidation, "unknown role or permission names").
			WithDetails(strings.Join(unknown, ", "))
	}
	return nil
}

func missing(kind string, names, known []string) []string {
	var out []string
	for _, n := range names {
		i := sort.SearchStrings(known, n)
		if i == len(known) || known[i] != n {
			out = append(out, fmt.Sprintf("%s %q", kind, n))
		}
	}
	return out
}
