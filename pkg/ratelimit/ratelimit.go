package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter интерфейс для ограничения частоты запросов
type RateLimiter interface {
	// CheckRateLimit проверяет лимит для заданного ключа
	// Возвращает true, если лимит превышен
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// fixedWindowScript увеличивает счетчик и выставляет TTL только при создании ключа,
// иначе каждая попытка продлевала бы окно
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisRateLimiter реализация RateLimiter с использованием Redis (fixed window)
type RedisRateLimiter struct {
	client redis.Cmdable
	prefix string
}

// NewRedisRateLimiter создает новый экземпляр RedisRateLimiter
func NewRedisRateLimiter(client redis.Cmdable) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: "rate_limit:"}
}

// CheckRateLimit атомарно увеличивает счетчик и сравнивает его с лимитом
func (r *RedisRateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}

	current, err := fixedWindowScript.Run(ctx, r.client, []string{r.prefix + key}, window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to execute rate limit script: %w", err)
	}

	return current > int64(limit), nil
}

// MemoryRateLimiter реализация RateLimiter в памяти процесса.
// Используется, когда Redis отключен
type MemoryRateLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*window
}

type window struct {
	count   int
	expires time.Time
}

// NewMemoryRateLimiter создает новый MemoryRateLimiter
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{now: time.Now, windows: make(map[string]*window)}
}

// CheckRateLimit проверяет лимит для заданного ключа
func (m *MemoryRateLimiter) CheckRateLimit(_ context.Context, key string, limit int, win time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.expires) {
		m.gc(now)
		w = &window{expires: now.Add(win)}
		m.windows[key] = w
	}
	w.count++

	return w.count > limit, nil
}

// gc удаляет истекшие окна
func (m *MemoryRateLimiter) gc(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.expires) {
			delete(m.windows, k)
		}
	}
}
