package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"PemkoPortal/pkg/session"
)

// RedisStore хранит токен в Redis под ключом prefix+"token" с TTL
type RedisStore struct {
	client   redis.Cmdable
	prefix   string
	lifetime Lifetime
}

// NewRedisStore создает хранилище токена в Redis
func NewRedisStore(client redis.Cmdable, prefix string, lifetime Lifetime) *RedisStore {
	return &RedisStore{
		client:   client,
		prefix:   prefix,
		lifetime: lifetime,
	}
}

func (rs *RedisStore) key() string {
	return rs.prefix + "token"
}

// Token возвращает сохраненный токен. Отсутствие ключа не ошибка
func (rs *RedisStore) Token(ctx context.Context) (string, error) {
	data, err := rs.client.Get(ctx, rs.key()).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("ошибка загрузки токена из Redis: %w", err)
	}

	var info TokenInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return "", fmt.Errorf("ошибка десериализации токена: %w", err)
	}
	return info.Token, nil
}

// SaveToken сохраняет токен, TTL ключа равен сроку жизни токена
func (rs *RedisStore) SaveToken(ctx context.Context, token string, opts session.PersistOptions) error {
	now := time.Now().UTC()
	ttl := rs.lifetime.ttl(opts)

	info := TokenInfo{
		Token:    token,
		Remember: opts.Remember,
		SavedAt:  now,
	}
	if ttl > 0 {
		info.ExpiresAt = now.Add(ttl)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("ошибка сериализации токена: %w", err)
	}

	if err := rs.client.Set(ctx, rs.key(), data, ttl).Err(); err != nil {
		return fmt.Errorf("ошибка сохранения токена в Redis: %w", err)
	}
	return nil
}

// ClearToken удаляет токен из Redis
func (rs *RedisStore) ClearToken(ctx context.Context) error {
	if err := rs.client.Del(ctx, rs.key()).Err(); err != nil {
		return fmt.Errorf("ошибка удаления токена из Redis: %w", err)
	}
	return nil
}
