// Package identity описывает пользователя панели администратора, его роли и права
// в том виде, в котором их отдает backend.
package identity

// Role роль пользователя
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Permission право пользователя
type Permission struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	GuardName string `json:"guard_name,omitempty"`
}

// User аутентифицированный пользователь. После создания не изменяется:
// сессия хранит указатель и заменяет его целиком
type User struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Email       string       `json:"email"`
	Department  string       `json:"department,omitempty"`
	Phone       string       `json:"phone,omitempty"`
	Status      string       `json:"status,omitempty"`
	Roles       []Role       `json:"roles"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   string       `json:"created_at,omitempty"`
	UpdatedAt   string       `json:"updated_at,omitempty"`
}

// RoleNames возвращает имена ролей пользователя
func (u *User) RoleNames() []string {
	if u == nil {
		return nil
	}
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

// PermissionNames возвращает имена прав пользователя
func (u *User) PermissionNames() []string {
	if u == nil {
		return nil
	}
	names := make([]string, 0, len(u.Permissions))
	for _, p := range u.Permissions {
		names = append(names, p.Name)
	}
	return names
}

// Clone возвращает глубокую копию пользователя
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = append([]Role(nil), u.Roles...)
	c.Permissions = append([]Permission(nil), u.Permissions...)
	return &c
}
