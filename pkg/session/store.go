package session

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// PersistOptions параметры сохранения токена
type PersistOptions struct {
	// Remember продлевает срок жизни токена ("Ingat saya"), иначе токен живет до конца сессии браузера
	Remember bool
}

// CredentialStore хранилище токена клиента
type CredentialStore interface {
	Token(ctx context.Context) (string, error)
	SaveToken(ctx context.Context, token string, opts PersistOptions) error
	ClearToken(ctx context.Context) error
}

// CookieConfig настройки cookie с токеном
type CookieConfig struct {
	Name        string
	Domain      string
	Path        string
	Secure      bool
	RememberFor time.Duration
}

// CookieStore хранит токен в cookie одного HTTP запроса
type CookieStore struct {
	cfg CookieConfig
	r   *http.Request
	w   http.ResponseWriter

	mu       sync.Mutex
	override *string
}

// NewCookieStore создает хранилище для запроса r и ответа w
func NewCookieStore(cfg CookieConfig, w http.ResponseWriter, r *http.Request) *CookieStore {
	if cfg.Name == "" {
		cfg.Name = "token"
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &CookieStore{cfg: cfg, r: r, w: w}
}

// Token возвращает токен, записанный в этом запросе, или пришедший в cookie
func (c *CookieStore) Token(_ context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.override != nil {
		return *c.override, nil
	}
	cookie, err := c.r.Cookie(c.cfg.Name)
	if err == http.ErrNoCookie {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// SaveToken записывает cookie с токеном в ответ
func (c *CookieStore) SaveToken(_ context.Context, token string, opts PersistOptions) error {
	cookie := c.cookie(token)
	if opts.Remember && c.cfg.RememberFor > 0 {
		cookie.MaxAge = int(c.cfg.RememberFor.Seconds())
		cookie.Expires = time.Now().Add(c.cfg.RememberFor)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	http.SetCookie(c.w, cookie)
	c.override = &token
	return nil
}

// ClearToken удаляет cookie с токеном
func (c *CookieStore) ClearToken(_ context.Context) error {
	cookie := c.cookie("")
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)

	c.mu.Lock()
	defer c.mu.Unlock()
	http.SetCookie(c.w, cookie)
	empty := ""
	c.override = &empty
	return nil
}

func (c *CookieStore) cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     c.cfg.Name,
		Value:    value,
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		Secure:   c.cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// MemoryStore хранилище в памяти
type MemoryStore struct {
	mu       sync.Mutex
	token    string
	remember bool

	// Ошибки для тестов
	ReadErr  error
	SaveErr  error
	ClearErr error
}

// NewMemoryStore создает хранилище с начальным токеном
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

// Token реализует CredentialStore
func (m *MemoryStore) Token(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return "", m.ReadErr
	}
	return m.token, nil
}

// SaveToken реализует CredentialStore
func (m *MemoryStore) SaveToken(_ context.Context, token string, opts PersistOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.token = token
	m.remember = opts.Remember
	return nil
}

// ClearToken реализует CredentialStore
func (m *MemoryStore) ClearToken(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClearErr != nil {
		return m.ClearErr
	}
	m.token = ""
	m.remember = false
	return nil
}

// Remembered сообщает, был ли токен сохранен с Remember
func (m *MemoryStore) Remembered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remember
}
