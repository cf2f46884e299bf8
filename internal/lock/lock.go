// Package lock serializes work on a single sale or goods receipt across
// requests, and across processes when Redis is configured.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"

	"tokoku/backend/internal/store"
)

// Locker obtains an exclusive, expiring lock on key. The returned release
// func is safe to call once.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

func SaleKey(id string) string {
	return "lock:sale:" + id
}

func ReceiptKey(id string) string {
	return "lock:goods-receipt:" + id
}

type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(client)}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	held, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", store.ErrLocked, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func() {
		// Detached from ctx so a cancelled request still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = held.Release(releaseCtx)
	}, nil
}

// LocalLocker is an in-process keyed lock for single-instance deployments.
// A key held past its ttl is treated as abandoned and may be taken over.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localEntry
	now   func() time.Time
	token uint64
}

type localEntry struct {
	token     uint64
	expiresAt time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), now: time.Now}
}

func (l *LocalLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, exists := l.held[key]; exists && now.Before(entry.expiresAt) {
		return nil, fmt.Errorf("%w: %s", store.ErrLocked, key)
	}

	l.token++
	token := l.token
	l.held[key] = localEntry{token: token, expiresAt: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if entry, exists := l.held[key]; exists && entry.token == token {
				delete(l.held, key)
			}
		})
	}, nil
}
