// Package authz отвечает на вопросы о ролях и правах текущего пользователя.
package authz

import "PemkoPortal/pkg/identity"

// Evaluator чистые предикаты над снимком пользователя. Результаты не кэшируются:
// каждый вызов пересчитывается по текущему пользователю
type Evaluator struct {
	user *identity.User
}

// New создает Evaluator для пользователя. nil означает анонимного клиента
func New(user *identity.User) Evaluator {
	return Evaluator{user: user}
}

// User возвращает пользователя, над которым построен Evaluator
func (e Evaluator) User() *identity.User {
	return e.user
}

// HasRole точное, регистрозависимое совпадение имени роли
func (e Evaluator) HasRole(name string) bool {
	if e.user == nil {
		return false
	}
	for _, r := range e.user.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// HasPermission точное, регистрозависимое совпадение имени права
func (e Evaluator) HasPermission(name string) bool {
	if e.user == nil {
		return false
	}
	for _, p := range e.user.Permissions {
		if p.Name == name {
			return true
		}
	}
	return false
}

// HasAnyRole true, если у пользователя есть хотя бы одна из ролей. Пустой список дает false
func (e Evaluator) HasAnyRole(names []string) bool {
	for _, n := range names {
		if e.HasRole(n) {
			return true
		}
	}
	return false
}

// HasAnyPermission true, если у пользователя есть хотя бы одно из прав. Пустой список дает false
func (e Evaluator) HasAnyPermission(names []string) bool {
	for _, n := range names {
		if e.HasPermission(n) {
			return true
		}
	}
	return false
}

// HasAllRoles true, если у пользователя есть каждая роль. Пустой список дает true
func (e Evaluator) HasAllRoles(names []string) bool {
	for _, n := range names {
		if !e.HasRole(n) {
			return false
		}
	}
	return true
}

// HasAllPermissions true, если у пользователя есть каждое право. Пустой список дает true
func (e Evaluator) HasAllPermissions(names []string) bool {
	for _, n := range names {
		if !e.HasPermission(n) {
			return false
		}
	}
	return true
}
