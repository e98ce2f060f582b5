package report

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache はレポート結果のキャッシュ。
type Cache interface {
	// Get はキーに対応する値を返す。未登録の場合はokがfalse。
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache はRedisを使ったCache実装。
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCache はRedisCacheを生成する。キーにはprefixが付与される。
func NewRedisCache(client redis.Cmdable, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Get はRedisから値を取得する。
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set はRedisに値を保存する。
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

// NopCache は何も保存しないCache。REDIS_URL未設定時に使う。
type NopCache struct{}

// Get は常に未登録を返す。
func (NopCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set は何もしない。
func (NopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

var (
	_ Cache = (*RedisCache)(nil)
	_ Cache = NopCache{}
)
