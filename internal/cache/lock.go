package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Lock - распределённый лок на одном ключе (SET NX PX + снятие по токену).
type Lock struct {
	c   Cache
	key string
	ttl time.Duration
}

func NewLock(c Cache, key string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Lock{c: c, key: key, ttl: ttl}
}

// TryAcquire не ждёт: ok=false, если лок держит кто-то другой.
func (l *Lock) TryAcquire(ctx context.Context) (release func(), ok bool, err error) {
	token := uuid.NewString()

	ok, err = l.c.SetNX(ctx, l.key, token, l.ttl)
	if err != nil || !ok {
		return func() {}, false, err
	}

	return func() {
		// ctx вызова мог уже истечь
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = l.c.DelIfEqual(rctx, l.key, token)
	}, true, nil
}
