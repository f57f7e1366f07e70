package cache

import (
	"context"
	"time"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// SetNX - запись только если ключа нет (для локов).
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	// DelIfEqual - удалить ключ, только если значение совпадает (снятие своего лока).
	DelIfEqual(ctx context.Context, key string, value string) (bool, error)

	// Ограниченный список (входящие уведомления пациента).
	LPushTrim(ctx context.Context, key string, value []byte, maxLen int64) error
	LRange(ctx context.Context, key string, limit int64) ([][]byte, error)

	Close() error
}
