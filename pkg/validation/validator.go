package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// identifierPattern имена ролей и прав: буквы, цифры, пробел, '_', '-', '.', ':'.
	// Пример: "super_admin", "view users"
	identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.:\-]*$`)
)

// MinPasswordLength минимальная длина пароля в форме входа
const MinPasswordLength = 6

// MaxIdentifierLength максимальная длина имени роли или права
const MaxIdentifierLength = 100

// FieldErrors ошибки валидации по полям формы
type FieldErrors map[string][]string

// Add добавляет сообщение к полю
func (f FieldErrors) Add(field, message string) {
	f[field] = append(f[field], message)
}

// Empty возвращает true, если ошибок нет
func (f FieldErrors) Empty() bool {
	return len(f) == 0
}

// Validator предоставляет общие функции валидации
type Validator struct{}

// NewValidator создает новый Validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogin проверяет поля формы входа.
// Сообщения на индонезийском, как в форме входа панели администратора
func (v *Validator) ValidateLogin(email, password string) FieldErrors {
	errs := FieldErrors{}

	email = strings.TrimSpace(email)
	switch {
	case email == "":
		errs.Add("email", "Email wajib diisi")
	case !emailPattern.MatchString(email):
		errs.Add("email", "Format email tidak valid")
	}

	switch {
	case password == "":
		errs.Add("password", "Password wajib diisi")
	case len(password) < MinPasswordLength:
		errs.Add("password", fmt.Sprintf("Password minimal %d karakter", MinPasswordLength))
	}

	return errs
}

// ValidateEmail проверяет формат email
func (v *Validator) ValidateEmail(email string) error {
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		return fmt.Errorf("invalid email format: %q", email)
	}
	return nil
}

// ValidateIdentifier проверяет имя роли или права
func (v *Validator) ValidateIdentifier(name, kind string) error {
	if name == "" {
		return fmt.Errorf("%s name is required", kind)
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("%s name must not exceed %d characters, got: %d", kind, MaxIdentifierLength, len(name))
	}
	if name != strings.TrimSpace(name) {
		return fmt.Errorf("%s name %q has leading or trailing whitespace", kind, name)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid %s name: %q", kind, name)
	}
	return nil
}

// ValidateIdentifiers проверяет список имен и возвращает первую ошибку
func (v *Validator) ValidateIdentifiers(names []string, kind string) error {
	for _, name := range names {
		if err := v.ValidateIdentifier(name, kind); err != nil {
			return err
		}
	}
	return nil
}

// ValidateURL проверяет корректность URL
func (v *Validator) ValidateURL(target string, allowedSchemes []string) error {
	if target == "" {
		return fmt.Errorf("target is required")
	}

	if strings.ContainsAny(target, " \t\n\r") {
		return fmt.Errorf("URL contains invalid whitespace characters")
	}

	parsedURL, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if len(allowedSchemes) > 0 {
		schemeValid := false
		for _, scheme := range allowedSchemes {
			if parsedURL.Scheme == scheme {
				schemeValid = true
				break
			}
		}
		if !schemeValid {
			return fmt.Errorf("URL must use one of allowed schemes %v, got: %s", allowedSchemes, parsedURL.Scheme)
		}
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("URL must have a valid host")
	}

	return nil
}

// SafeRedirect возвращает target, если это локальный путь, иначе fallback.
// Защищает параметр ?next= формы входа от открытого редиректа
func (v *Validator) SafeRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return target
}
