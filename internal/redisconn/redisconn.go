// Package redisconn opens the shared Redis client used by the catalog cache and
// the document locker.
package redisconn

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

func Open(ctx context.Context, addr string, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}
