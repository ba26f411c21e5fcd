package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateLogin(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		email    string
		password string
		fields   []string
	}{
		{"valid", "admin@pekanbaru.go.id", "secret123", nil},
		{"empty both", "", "", []string{"email", "password"}},
		{"bad email", "admin@", "secret123", []string{"email"}},
		{"short password", "admin@pekanbaru.go.id", "12345", []string{"password"}},
		{"email with spaces trimmed", "  admin@pekanbaru.go.id ", "123456", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := v.ValidateLogin(tt.email, tt.password)
			if tt.fields == nil {
				assert.True(t, errs.Empty(), "unexpected errors: %v", errs)
				return
			}
			assert.Len(t, errs, len(tt.fields))
			for _, f := range tt.fields {
				assert.NotEmpty(t, errs[f])
			}
		})
	}
}

func TestValidateLogin_Messages(t *testing.T) {
	errs := NewValidator().ValidateLogin("", "123")
	assert.Equal(t, []string{"Email wajib diisi"}, errs["email"])
	assert.Equal(t, []string{"Password minimal 6 karakter"}, errs["password"])
}

func TestValidateIdentifier(t *testing.T) {
	v := NewValidator()

	for _, name := range []string{"admin", "super_admin", "view users", "reports:export", "editor-2"} {
		assert.NoError(t, v.ValidateIdentifier(name, "role"), name)
	}

	for _, name := range []string{"", " admin", "admin ", "<script>", "_hidden", string(make([]byte, 101))} {
		assert.Error(t, v.ValidateIdentifier(name, "role"), "%q", name)
	}

	assert.NoError(t, v.ValidateIdentifiers([]string{"admin", "editor"}, "role"))
	assert.Error(t, v.ValidateIdentifiers([]string{"admin", "bad/name"}, "role"))
}

func TestValidateURL(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateURL("https://api.pekanbaru.go.id", []string{"http", "https"}))
	assert.Error(t, v.ValidateURL("", nil))
	assert.Error(t, v.ValidateURL("ftp://host", []string{"http", "https"}))
	assert.Error(t, v.ValidateURL("http://", nil))
	assert.Error(t, v.ValidateURL("http://a b", nil))
}

func TestSafeRedirect(t *testing.T) {
	v := NewValidator()
	const home = "/admin/dashboard"

	assert.Equal(t, "/admin/users", v.SafeRedirect("/admin/users", home))
	assert.Equal(t, "/admin/users?page=2", v.SafeRedirect("/admin/users?page=2", home))
	assert.Equal(t, home, v.SafeRedirect("", home))
	assert.Equal(t, home, v.SafeRedirect("https://evil.example", home))
	assert.Equal(t, home, v.SafeRedirect("//evil.example", home))
	assert.Equal(t, home, v.SafeRedirect(`/\evil.example`, home))
	assert.Equal(t, home, v.SafeRedirect("admin", home))
}

func TestValidateEmail(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateEmail("a.b@c.id"))
	assert.Error(t, v.ValidateEmail("not-an-email"))
}
