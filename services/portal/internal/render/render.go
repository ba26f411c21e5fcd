// Package render показывает или скрывает фрагменты страниц в зависимости от ролей и прав.
// Неподходящий фрагмент молча опускается, страница ошибки не показывается
package render

import "html/template"

// Authorizer проверяет роли и права текущего клиента.
// Реализуется *session.Session и authz.Evaluator
type Authorizer interface {
	HasAnyRole(names []string) bool
	HasAnyPermission(names []string) bool
}

// ShowForRoles возвращает content, если у клиента есть хотя бы одна из ролей
func ShowForRoles(a Authorizer, roles []string, content template.HTML) template.HTML {
	if a != nil && a.HasAnyRole(roles) {
		return content
	}
	return ""
}

// ShowForPermissions возвращает content, если у клиента есть хотя бы одно из прав
func ShowForPermissions(a Authorizer, permissions []string, content template.HTML) template.HTML {
	if a != nil && a.HasAnyPermission(permissions) {
		return content
	}
	return ""
}

// HideForRoles возвращает content, если у клиента нет ни одной из ролей
func HideForRoles(a Authorizer, roles []string, content template.HTML) template.HTML {
	if a != nil && a.HasAnyRole(roles) {
		return ""
	}
	return content
}

// HideForPermissions возвращает content, если у клиента нет ни одного из прав
func HideForPermissions(a Authorizer, permissions []string, content template.HTML) template.HTML {
	if a != nil && a.HasAnyPermission(permissions) {
		return ""
	}
	return content
}

// AccessFunc сообщает, открыт ли клиенту раздел с данной политикой
type AccessFunc func(feature string) bool

// FuncMap функции шаблонов для клиента a:
//
//	{{if showForPermissions "create roles" "edit roles"}}...{{end}}
//	{{if canAccess "users"}}<a href="/admin/users">Pengguna</a>{{end}}
func FuncMap(a Authorizer, canAccess AccessFunc) template.FuncMap {
	return template.FuncMap{
		"showForRoles": func(names ...string) bool {
			return a != nil && a.HasAnyRole(names)
		},
		"showForPermissions": func(names ...string) bool {
			return a != nil && a.HasAnyPermission(names)
		},
		"hideForRoles": func(names ...string) bool {
			return a == nil || !a.HasAnyRole(names)
		},
		"hideForPermissions": func(names ...string) bool {
			return a == nil || !a.HasAnyPermission(names)
		},
		"canAccess": func(feature string) bool {
			return canAccess != nil && canAccess(feature)
		},
	}
}
