package redis

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// TranslationCache is the shared content-hash cache: Redis is the
// cross-instance source of truth, with a small in-process LRU in front of
// it to spare round trips for hot content.
type TranslationCache struct {
	rdb *redis.Client
	hot *lru.Cache[string, string]
	ttl time.Duration
}

func NewTranslationCache(rdb *redis.Client, hotSize int, ttl time.Duration) (*TranslationCache, error) {
	hot, err := lru.New[string, string](hotSize)
	if err != nil {
		return nil, err
	}
	return &TranslationCache{rdb: rdb, hot: hot, ttl: ttl}, nil
}

func cacheKey(source, target, contentHash string) string {
	return "trcache:" + source + ":" + target + ":" + contentHash
}

func (c *TranslationCache) Get(ctx context.Context, source, target, contentHash string) (string, bool, error) {
	key := cacheKey(source, target, contentHash)
	if text, ok := c.hot.Get(key); ok {
		return text, true, nil
	}
	text, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	c.hot.Add(key, text)
	return text, true, nil
}

func (c *TranslationCache) Put(ctx context.Context, source, target, contentHash, text string) error {
	key := cacheKey(source, target, contentHash)
	c.hot.Add(key, text)
	return c.rdb.Set(ctx, key, text, c.ttl).Err()
}
