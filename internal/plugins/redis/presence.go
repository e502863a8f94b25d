package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceStore keeps one ZSET per conversation, scored by last check-in
// time. Stale members are trimmed on read so the set self-cleans.
type PresenceStore struct {
	rdb *redis.Client
}

func NewPresenceStore(rdb *redis.Client) *PresenceStore {
	return &PresenceStore{rdb: rdb}
}

func presenceKey(convID string) string { return "presence:" + convID }

func (p *PresenceStore) UpdateOnlineStatus(
	ctx context.Context,
	convID string,
	identityID string,
	ttl time.Duration,
) error {
	key := presenceKey(convID)
	now := time.Now().Unix()

	err := p.rdb.ZAdd(ctx, key, redis.Z{
		Score:  float64(now),
		Member: identityID,
	}).Err()
	if err != nil {
		return err
	}

	// Expire the whole ZSET so an abandoned conversation does not leak.
	return p.rdb.Expire(ctx, key, ttl*2).Err()
}

func (p *PresenceStore) GetOnline(ctx context.Context, convID string, staleAfter time.Duration) ([]string, error) {
	key := presenceKey(convID)
	threshold := time.Now().Add(-staleAfter).Unix()

	// Remove stale members first (self-cleaning)
	p.rdb.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(threshold, 10))

	return p.rdb.ZRange(ctx, key, 0, -1).Result()
}

func (p *PresenceStore) MarkOffline(ctx context.Context, convID, identityID string) error {
	return p.rdb.ZRem(ctx, presenceKey(convID), identityID).Err()
}
