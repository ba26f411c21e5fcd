// Package policy задает политики доступа к разделам панели администратора.
// Одна и та же политика используется guard'ом страницы и меню навигации
package policy

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v2"

	"PemkoPortal/pkg/guard"
)

// Разделы панели администратора
const (
	Dashboard   = "dashboard"
	Users       = "users"
	Roles       = "roles"
	Permissions = "permissions"
)

// Validator проверяет имена ролей и прав по каталогу backend'а (authz.Catalog)
type Validator interface {
	Validate(ctx context.Context, token string, roles, permissions []string) error
}

// Registry реестр политик по имени раздела
type Registry struct {
	mu       sync.RWMutex
	policies map[string]guard.Policy
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]guard.Policy)}
}

// Default возвращает политики разделов панели
func Default() *Registry {
	r := NewRegistry()
	r.Register(Dashboard, guard.Open())
	r.Register(Users, guard.Either([]string{"super_admin"}, []string{"view users"}))
	r.Register(Roles, guard.Either([]string{"super_admin"}, []string{"view roles"}))
	r.Register(Permissions, guard.Either([]string{"super_admin"}, []string{"view permissions"}))
	return r
}

// Register добавляет или заменяет политику
func (r *Registry) Register(name string, p guard.Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[name] = p
}

// Get возвращает политику раздела
func (r *Registry) Get(name string) (guard.Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	return p, ok
}

// MustGet возвращает политику или паникует. Используется при сборке маршрутов
func (r *Registry) MustGet(name string) guard.Policy {
	p, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("policy %q is not registered", name))
	}
	return p
}

// Names возвращает отсортированные имена разделов
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load переопределяет политики из YAML:
//
//	roles:
//	  allowed_roles: [super_admin]
//	  allowed_permissions: [view roles]
//	  require_all: false
func (r *Registry) Load(in io.Reader) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read policies: %w", err)
	}

	var overrides map[string]guard.Policy
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("failed to parse policies: %w", err)
	}
	for name, p := range overrides {
		r.Register(name, p)
	}
	return nil
}

// LoadFile переопределяет политики из файла. Пустой путь ничего не делает
func (r *Registry) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open policies file: %w", err)
	}
	defer f.Close()
	return r.Load(f)
}

// Validate проверяет, что все роли и права из политик известны backend'у
func (r *Registry) Validate(ctx context.Context, v Validator, token string) error {
	for _, name := range r.Names() {
		p, _ := r.Get(name)
		if err := v.Validate(ctx, token, p.AllowedRoles, p.AllowedPermissions); err != nil {
			return fmt.Errorf("policy %q: %w", name, err)
		}
	}
	return nil
}
