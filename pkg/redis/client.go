package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"PemkoPortal/pkg/config"
	"PemkoPortal/pkg/connection"
)

// Client представляет подключение к Redis
type Client struct {
	Client *redis.Client
}

// Config представляет конфигурацию Redis
type Config struct {
	Addr     string
	Password string
	DB       int
	// Connection pool settings
	PoolSize    int
	MinIdleConn int
	// Retry settings
	MaxRetries    int
	RetryInterval time.Duration
	// Health check
	HealthCheck time.Duration
}

// NewConfig создает конфигурацию по умолчанию
func NewConfig() *Config {
	return &Config{
		Addr:          "localhost:6379",
		Password:      "",
		DB:            0,
		PoolSize:      10,
		MinIdleConn:   2,
		MaxRetries:    3,
		RetryInterval: 1 * time.Second,
		HealthCheck:   30 * time.Second,
	}
}

// FromConfig строит Config из секции redis конфигурации портала
func FromConfig(c config.RedisConfig) *Config {
	defaults := NewConfig()
	cfg := &Config{
		Addr:          c.Addr,
		Password:      c.Password,
		DB:            c.DB,
		PoolSize:      c.PoolSize,
		MinIdleConn:   c.MinIdleConn,
		MaxRetries:    c.MaxRetries,
		RetryInterval: config.Duration(c.RetryInterval, defaults.RetryInterval),
		HealthCheck:   config.Duration(c.HealthCheck, defaults.HealthCheck),
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return cfg
}

func (c *Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConn,
		// Таймауты
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		// Таймаут для получения соединения из пула
		PoolTimeout:        4 * time.Second,
		IdleCheckFrequency: c.HealthCheck,
	}
}

// Connect устанавливает подключение к Redis с retry логикой
func Connect(ctx context.Context, cfg *Config) (*Client, error) {
	client := redis.NewClient(cfg.options())

	retry := connection.RetryConfig{
		MaxAttempts:  cfg.MaxRetries + 1,
		InitialDelay: cfg.RetryInterval,
		MaxDelay:     cfg.RetryInterval * 4,
		Multiplier:   2.0,
	}

	err := connection.WithRetry(ctx, retry, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return &Client{Client: client}, nil
}

// Close закрывает подключение к Redis
func (r *Client) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// HealthCheck проверяет состояние подключения к Redis
func (r *Client) HealthCheck(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}

	return r.Client.Ping(ctx).Err()
}
