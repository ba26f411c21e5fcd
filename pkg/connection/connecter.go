package connection

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"PemkoPortal/pkg/logger"
)

// Connecter определяет интерфейс для подключения к внешним системам
type Connecter interface {
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// RetryConfig содержит конфигурацию повторных попыток
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryFunc представляет функцию для повторной попытки
type RetryFunc func(ctx context.Context) error

// WithRetry выполняет функцию с retry логикой
func WithRetry(ctx context.Context, config RetryConfig, operation RetryFunc) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(CalculateDelay(attempt, config)):
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxAttempts, lastErr)
}

// ConnectWithRetry выполняет подключение с retry логикой и логирует неудачные попытки
func ConnectWithRetry(ctx context.Context, connecter Connecter, config RetryConfig, log logger.Logger) error {
	attempt := 0
	return WithRetry(ctx, config, func(ctx context.Context) error {
		attempt++
		err := connecter.Connect(ctx)
		if err != nil && log != nil {
			log.Warn("Connection attempt failed",
				logger.Int("attempt", attempt),
				logger.Int("max_attempts", config.MaxAttempts),
				logger.Error(err),
			)
		}
		return err
	})
}

// CalculateDelay вычисляет задержку перед попыткой attempt+1
func CalculateDelay(attempt int, config RetryConfig) time.Duration {
	multiplier := config.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := time.Duration(float64(config.InitialDelay) * math.Pow(multiplier, float64(attempt-1)))

	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if config.Jitter {
		delay = addJitter(delay)
	}

	return delay
}

// addJitter добавляет случайную вариацию ±25% к задержке
func addJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return delay
	}
	spread := float64(delay) * 0.25
	return delay + time.Duration(spread*(2*rand.Float64()-1))
}
