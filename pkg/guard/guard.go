// Package guard принимает решение о доступе клиента к защищенной функции.
//
// Решение принимается только после окончания загрузки сессии. Анонимный клиент
// всегда получает OutcomeUnauthenticated, а не OutcomeForbidden.
package guard

import (
	"PemkoPortal/pkg/authz"
	"PemkoPortal/pkg/session"
)

// Kind вид политики доступа
type Kind int

const (
	// KindOpen достаточно аутентификации
	KindOpen Kind = iota
	// KindRoleOnly любая из ролей
	KindRoleOnly
	// KindPermissionOnly любое из прав
	KindPermissionOnly
	// KindEither любая из ролей или любое из прав
	KindEither
	// KindBoth все роли и все права
	KindBoth
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindRoleOnly:
		return "role_only"
	case KindPermissionOnly:
		return "permission_only"
	case KindEither:
		return "either"
	case KindBoth:
		return "both"
	default:
		return "unknown"
	}
}

// Policy требования доступа к функции
type Policy struct {
	AllowedRoles       []string `json:"allowed_roles,omitempty" yaml:"allowed_roles"`
	AllowedPermissions []string `json:"allowed_permissions,omitempty" yaml:"allowed_permissions"`
	RequireAll         bool     `json:"require_all,omitempty" yaml:"require_all"`
}

// Open политика без требований к ролям и правам
func Open() Policy { return Policy{} }

// AnyRole политика "любая из ролей"
func AnyRole(roles ...string) Policy { return Policy{AllowedRoles: roles} }

// AnyPermission политика "любое из прав"
func AnyPermission(perms ...string) Policy { return Policy{AllowedPermissions: perms} }

// Either политика "любая роль или любое право"
func Either(roles, perms []string) Policy {
	return Policy{AllowedRoles: roles, AllowedPermissions: perms}
}

// All политика "все роли и все права"
func All(roles, perms []string) Policy {
	return Policy{AllowedRoles: roles, AllowedPermissions: perms, RequireAll: true}
}

// Kind выводит вид политики. Оба списка пустые дают KindOpen независимо от RequireAll
func (p Policy) Kind() Kind {
	hasRoles := len(p.AllowedRoles) > 0
	hasPerms := len(p.AllowedPermissions) > 0

	switch {
	case !hasRoles && !hasPerms:
		return KindOpen
	case p.RequireAll:
		return KindBoth
	case hasRoles && hasPerms:
		return KindEither
	case hasRoles:
		return KindRoleOnly
	default:
		return KindPermissionOnly
	}
}

// Allows проверяет политику для evaluator'а без учета состояния сессии
func (p Policy) Allows(e authz.Evaluator) bool {
	switch p.Kind() {
	case KindOpen:
		return true
	case KindRoleOnly:
		return e.HasAnyRole(p.AllowedRoles)
	case KindPermissionOnly:
		return e.HasAnyPermission(p.AllowedPermissions)
	case KindEither:
		return e.HasAnyRole(p.AllowedRoles) || e.HasAnyPermission(p.AllowedPermissions)
	case KindBoth:
		return e.HasAllRoles(p.AllowedRoles) && e.HasAllPermissions(p.AllowedPermissions)
	default:
		return false
	}
}

// Outcome результат проверки доступа
type Outcome int

const (
	OutcomeLoading Outcome = iota
	OutcomeUnauthenticated
	OutcomeForbidden
	OutcomeGranted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLoading:
		return "loading"
	case OutcomeUnauthenticated:
		return "unauthenticated"
	case OutcomeForbidden:
		return "forbidden"
	case OutcomeGranted:
		return "granted"
	default:
		return "unknown"
	}
}

// Decision решение guard'а
type Decision struct {
	Outcome Outcome
	Policy  Policy
	Kind    Kind
}

// Granted true, если доступ разрешен
func (d Decision) Granted() bool {
	return d.Outcome == OutcomeGranted
}

// Missing роли и права, любая из которых (или все, для KindBoth) дала бы доступ.
// Для не-Forbidden решений пусто
func (d Decision) Missing() (roles, permissions []string) {
	if d.Outcome != OutcomeForbidden {
		return nil, nil
	}
	return append([]string(nil), d.Policy.AllowedRoles...), append([]string(nil), d.Policy.AllowedPermissions...)
}

// Evaluate принимает решение по снимку сессии:
// загрузка, затем аутентификация, затем роли и права
func Evaluate(state session.State, p Policy) Decision {
	d := Decision{Policy: p, Kind: p.Kind()}

	switch {
	case state.IsLoading:
		d.Outcome = OutcomeLoading
	case !state.IsAuthenticated || state.User == nil:
		d.Outcome = OutcomeUnauthenticated
	case p.Allows(authz.New(state.User)):
		d.Outcome = OutcomeGranted
	default:
		d.Outcome = OutcomeForbidden
	}

	return d
}
