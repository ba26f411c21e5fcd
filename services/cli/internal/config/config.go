package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	pkgconfig "PemkoPortal/pkg/config"
)

// HomeEnv переменная окружения с корнем данных CLI вместо домашней директории
const HomeEnv = "PEMKO_HOME"

// Хранилища токена
const (
	StoreFile  = "file"
	StoreRedis = "redis"
)

// Config представляет конфигурацию CLI
type Config struct {
	// Backend панели администратора
	Backend struct {
		BaseURL string `yaml:"base_url" json:"base_url"`
		Timeout string `yaml:"timeout" json:"timeout"`
	} `yaml:"backend" json:"backend"`

	// Хранение токена
	Store struct {
		Driver string `yaml:"driver" json:"driver"` // file, redis
		// Home корень для файлового хранилища, токен лежит в Home/.pemko/token
		Home string `yaml:"home" json:"home"`
		// SessionTTL срок жизни токена без "remember", RememberFor с ним
		SessionTTL  string                `yaml:"session_ttl" json:"session_ttl"`
		RememberFor string                `yaml:"remember_for" json:"remember_for"`
		KeyPrefix   string                `yaml:"key_prefix" json:"key_prefix"`
		Redis       pkgconfig.RedisConfig `yaml:"redis" json:"redis"`
	} `yaml:"store" json:"store"`

	// Настройки вывода
	Output struct {
		Colors bool `yaml:"colors" json:"colors"`
	} `yaml:"output" json:"output"`

	Logger struct {
		Level string `yaml:"level" json:"level"`
	} `yaml:"logger" json:"logger"`

	// Путь к файлу конфигурации
	Path string `yaml:"-" json:"-"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	config := &Config{}

	config.Backend.BaseURL = "http://localhost:8000"
	config.Backend.Timeout = "10s"

	config.Store.Driver = StoreFile
	config.Store.SessionTTL = "12h"
	config.Store.RememberFor = "720h"
	config.Store.KeyPrefix = "pemko:cli:"
	config.Store.Redis = pkgconfig.RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      2,
		MaxRetries:    1,
		RetryInterval: "500ms",
		HealthCheck:   "30s",
	}

	config.Output.Colors = true
	config.Logger.Level = "warn"

	return config
}

// LoadConfig загружает конфигурацию из файла.
// Если файла нет, возвращается конфигурация по умолчанию
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	config.Path = path

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	return config, nil
}

// Save сохраняет конфигурацию в файл
func (c *Config) Save() error {
	if c.Path == "" {
		return fmt.Errorf("путь к файлу конфигурации не указан")
	}

	if err := os.MkdirAll(filepath.Dir(c.Path), 0700); err != nil {
		return fmt.Errorf("ошибка создания директории: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("ошибка сериализации конфигурации: %w", err)
	}

	if err := os.WriteFile(c.Path, data, 0600); err != nil {
		return fmt.Errorf("ошибка записи файла конфигурации: %w", err)
	}

	return nil
}

// HomeDir возвращает корень данных CLI: $PEMKO_HOME или домашнюю директорию
func HomeDir() (string, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("ошибка получения домашней директории: %w", err)
	}
	return home, nil
}

// GetConfigPath возвращает путь к файлу конфигурации по умолчанию
func GetConfigPath() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pemko", "config.yaml"), nil
}

// Validate проверяет валидность конфигурации
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base_url не может быть пустым")
	}

	switch c.Store.Driver {
	case StoreFile, StoreRedis:
	default:
		return fmt.Errorf("неверное хранилище токена: %s", c.Store.Driver)
	}

	for name, value := range map[string]string{
		"backend.timeout":    c.Backend.Timeout,
		"store.session_ttl":  c.Store.SessionTTL,
		"store.remember_for": c.Store.RememberFor,
	} {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("неверная длительность %s: %s", name, value)
		}
	}

	if c.Store.Driver == StoreRedis && c.Store.Redis.Addr == "" {
		return fmt.Errorf("store.redis.addr обязателен для хранилища redis")
	}

	return nil
}

// BackendTimeout таймаут вызовов backend'а
func (c *Config) BackendTimeout() time.Duration {
	return pkgconfig.Duration(c.Backend.Timeout, 10*time.Second)
}

// SessionTTL срок жизни токена без "remember"
func (c *Config) SessionTTL() time.Duration {
	return pkgconfig.Duration(c.Store.SessionTTL, 12*time.Hour)
}

// RememberFor срок жизни токена с "remember"
func (c *Config) RememberFor() time.Duration {
	return pkgconfig.Duration(c.Store.RememberFor, 30*24*time.Hour)
}
