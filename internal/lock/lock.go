// Package lock provides the short lease the settler takes before sweeping,
// so that with several server instances only one of them settles per tick.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Lease interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Local is the lease used when no Redis is configured. A single process
// always holds it.
type Local struct{}

func (Local) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (Local) Release(ctx context.Context, key string) error {
	return nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	client redis.UniversalClient
	token  string
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, token: uuid.NewString()}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, r.token, ttl).Result()
}

func (r *Redis) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, r.client, []string{key}, r.token).Err()
}
