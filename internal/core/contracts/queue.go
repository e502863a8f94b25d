package contracts

import "context"

// JobQueue is the durable hand-off between the translation coordinator and
// the worker pool, backed by a Redis Stream with consumer groups.
type JobQueue interface {
	Publish(ctx context.Context, stream string, payload []byte) error
	// Subscribe starts a consumer-group read loop in the background and
	// hands each entry to handler. Handler errors are logged by the caller's
	// handler itself; the loop keeps going.
	Subscribe(ctx context.Context, stream, group string, handler func(ctx context.Context, entryID string, data []byte) error) error
	Ack(ctx context.Context, stream, group, entryID string) error
	Delete(ctx context.Context, stream, entryID string) error
}
