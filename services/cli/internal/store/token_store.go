// Package store хранилища токена CLI. Оба реализуют session.CredentialStore.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"PemkoPortal/pkg/session"
)

// TokenInfo сохраненный токен
type TokenInfo struct {
	Token     string    `json:"token"`
	Remember  bool      `json:"remember"`
	SavedAt   time.Time `json:"saved_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Lifetime сроки жизни токена
type Lifetime struct {
	// Session срок жизни токена без "remember"
	Session time.Duration
	// Remember срок жизни токена с "remember"
	Remember time.Duration
}

func (l Lifetime) ttl(opts session.PersistOptions) time.Duration {
	if opts.Remember {
		return l.Remember
	}
	return l.Session
}

// FileStore хранит токен в файле Home/.pemko/token с правами 0600
type FileStore struct {
	path     string
	lifetime Lifetime
	now      func() time.Time

	mu sync.Mutex
}

// NewFileStore создает файловое хранилище. Директория создается при необходимости
func NewFileStore(home string, lifetime Lifetime) (*FileStore, error) {
	if home == "" {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("ошибка получения домашней директории: %w", err)
		}
	}

	dir := filepath.Join(home, ".pemko")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("ошибка создания директории %s: %w", dir, err)
	}

	return &FileStore{
		path:     filepath.Join(dir, "token"),
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// Path путь к файлу токена
func (fs *FileStore) Path() string {
	return fs.path
}

// Token возвращает сохраненный токен. Истекший токен удаляется, отсутствие токена не ошибка
func (fs *FileStore) Token(_ context.Context) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	info, err := fs.load()
	if err != nil || info == nil {
		return "", err
	}

	if !info.ExpiresAt.IsZero() && !fs.now().Before(info.ExpiresAt) {
		if err := fs.remove(); err != nil {
			return "", err
		}
		return "", nil
	}
	return info.Token, nil
}

// SaveToken сохраняет токен
func (fs *FileStore) SaveToken(_ context.Context, token string, opts session.PersistOptions) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := fs.now().UTC()
	info := TokenInfo{
		Token:    token,
		Remember: opts.Remember,
		SavedAt:  now,
	}
	if ttl := fs.lifetime.ttl(opts); ttl > 0 {
		info.ExpiresAt = now.Add(ttl)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации токена: %w", err)
	}

	// Атомарная замена файла
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("ошибка сохранения токена: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("ошибка сохранения токена: %w", err)
	}

	return nil
}

// ClearToken удаляет файл токена
func (fs *FileStore) ClearToken(_ context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.remove()
}

func (fs *FileStore) load() (*TokenInfo, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения файла токена: %w", err)
	}

	var info TokenInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("ошибка десериализации токена: %w", err)
	}
	return &info, nil
}

func (fs *FileStore) remove() error {
	if err := os.Remove(fs.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла токена: %w", err)
	}
	return nil
}
