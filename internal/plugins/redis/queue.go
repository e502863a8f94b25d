package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/isopen-io/meeshy-sub020/pkg/logging"
)

// JobQueue is a Redis Streams consumer-group queue. Entries survive process
// restarts until acknowledged.
type JobQueue struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewJobQueue(rdb *redis.Client, log *slog.Logger) *JobQueue {
	return &JobQueue{rdb: rdb, log: log}
}

func (q *JobQueue) Publish(ctx context.Context, stream string, payload []byte) error {
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 10000,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{"data": payload},
	}).Err()
}

func (q *JobQueue) Subscribe(
	ctx context.Context,
	stream string,
	group string,
	handler func(ctx context.Context, entryID string, data []byte) error,
) error {
	// Create group if not exists
	err := q.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	consumerName := uuid.NewString()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
					Group:    group,
					Consumer: consumerName,
					Streams:  []string{stream, ">"},
					Count:    8,
					Block:    2 * time.Second,
				}).Result()
				if err != nil {
					if err != redis.Nil && ctx.Err() == nil {
						q.log.Error("queue - subscribe - stream read error", logging.Err(err))
					}
					continue
				}
				for _, s := range res {
					for _, msg := range s.Messages {
						raw, ok := msg.Values["data"].(string)
						if !ok {
							continue
						}
						if err := handler(ctx, msg.ID, []byte(raw)); err != nil {
							q.log.Error("queue - subscribe - handler error",
								slog.String("entry_id", msg.ID), logging.Err(err))
						}
					}
				}
			}
		}
	}()
	return nil
}

func (q *JobQueue) Ack(ctx context.Context, stream, group, entryID string) error {
	return q.rdb.XAck(ctx, stream, group, entryID).Err()
}

func (q *JobQueue) Delete(ctx context.Context, stream, entryID string) error {
	return q.rdb.XDel(ctx, stream, entryID).Err()
}
