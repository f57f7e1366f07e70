package cache

import (
	"context"
	"errors"
	"time"

	"hcen_sync/internal/metrics"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	c *redis.Client
}

func NewRedisCache(addr, password string, db int) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{c: rdb}
}

// NewRedisCacheFromClient - для тестов (miniredis) и общих клиентов.
func NewRedisCacheFromClient(c *redis.Client) *RedisCache {
	return &RedisCache{c: c}
}

func (r *RedisCache) Close() error { return r.c.Close() }

// command label для метрик
const (
	cmdGet        = "get"
	cmdSet        = "set"
	cmdDel        = "del"
	cmdSetNX      = "setnx"
	cmdDelIfEqual = "del_if_equal"
	cmdLPushTrim  = "lpush_trim"
	cmdLRange     = "lrange"
	cmdInfo       = "info"
)

// снятие лока только владельцем токена
var delIfEqualScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (r *RedisCache) Get(ctx context.Context, key string) (_ []byte, _ bool, err error) {
	defer func(start time.Time) { metrics.ObserveRedisCommand(cmdGet, start, err) }(time.Now())

	b, err := r.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.IncRedisLookup(false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	metrics.IncRedisLookup(true)
	return b, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (err error) {
	defer func(start time.Time) { metrics.ObserveRedisCommand(cmdSet, start, err) }(time.Now())
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) (err error) {
	if len(keys) == 0 {
		return nil
	}
	defer func(start time.Time) { metrics.ObserveRedisCommand(cmdDel, start, err) }(time.Now())
	return r.c.Del(ctx, keys...).Err()
}

func (r *RedisCache) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (_ bool, err error) {
	defer func(start time.Time) { metrics.ObserveRedisCommand(cmdSetNX, start, err) }(time.Now())
	return r.c.SetNX(ctx, key, value, ttl).Result()
}

func (r *RedisCache) DelIfEqual(ctx context.Context, key string, value string) (_ bool, err error) {
	defer func(start time.Time) { metrics.ObserveRedisCommand(cmdDelIfEqual, start, err) }(time.Now())

	n, err := delIfEqualScript.Run(ctx, r.c, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LPushTrim - LPUSH + LTRIM в одной транзакции: список не длиннее maxLen.
func (r *RedisCache) LPushTrim(ctx context.Context, key string, value []byte, maxLen int64) (err error) {
	if maxLen <= 0 {
		maxLen = 100
	}
	defer func(start time.Time) { metrics.ObserveRedisCommand(cmdLPushTrim, start, err) }(time.Now())

	_, err = r.c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, value)
		p.LTrim(ctx, key, 0, maxLen-1)
		return nil
	})
	return err
}

func (r *RedisCache) LRange(ctx context.Context, key string, limit int64) (_ [][]byte, err error) {
	if limit <= 0 {
		limit = 50
	}
	defer func(start time.Time) { metrics.ObserveRedisCommand(cmdLRange, start, err) }(time.Now())

	vals, err := r.c.LRange(ctx, key, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	res := make([][]byte, 0, len(vals))
	for _, v := range vals {
		res = append(res, []byte(v))
	}
	return res, nil
}

func (r *RedisCache) RawClient() *redis.Client { return r.c }
