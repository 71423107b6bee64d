package session

import (
	"context"
	"fmt"
	"time"

	"storefront-checkout/internal/db"

	"github.com/redis/go-redis/v9"
)

// Options select and configure the backing Repository.
type Options struct {
	Kind          string
	DSN           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// Open connects the Repository named by opts.Kind. The returned close func
// releases its connections and is never nil.
func Open(ctx context.Context, opts Options) (Repository, func(), error) {
	switch opts.Kind {
	case "postgres", "":
		pool, err := db.Connect(ctx, opts.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return NewPostgres(pool), pool.Close, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", opts.RedisAddr, err)
		}
		return NewRedis(client, opts.TTL), func() { client.Close() }, nil
	case "memory":
		return NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q", opts.Kind)
	}
}
