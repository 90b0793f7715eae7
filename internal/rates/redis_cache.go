package rates

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisCache compartilha cotações entre instâncias com TTL no próprio Redis.
type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisCache(c *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{Client: c, TTL: ttl}
}

func key(asset string) string { return "rates:usd:" + asset }

func (r *RedisCache) Get(ctx context.Context, asset string) (Quote, bool, error) {
	b, err := r.Client.Get(ctx, key(asset)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Quote{}, false, nil
	}
	if err != nil {
		return Quote{}, false, err
	}
	var q Quote
	if err := json.Unmarshal(b, &q); err != nil {
		return Quote{}, false, err
	}
	return q, true, nil
}

func (r *RedisCache) Set(ctx context.Context, q Quote) error {
	b, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, key(q.Asset), b, r.TTL).Err()
}

func (r *RedisCache) Invalidate(ctx context.Context, asset string) error {
	return r.Client.Del(ctx, key(asset)).Err()
}
