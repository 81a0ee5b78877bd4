package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/dahch/task-board-sync/domain"
)

// Redis keeps the snapshot in a Redis string without expiry.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis creates a Redis backed cache using the TasksKey key.
func NewRedis(client *redis.Client) *Redis {
	if client == nil {
		panic("storage.NewRedis: redis client is nil")
	}
	return &Redis{client: client, key: TasksKey}
}

func (r *Redis) Load(ctx context.Context) ([]domain.Task, bool, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	tasks, err := decodeTasks(data)
	if err != nil {
		// A value we cannot read is as good as no value.
		_ = r.client.Del(ctx, r.key).Err()
		return nil, false, nil
	}
	return tasks, true, nil
}

func (r *Redis) Store(ctx context.Context, tasks []domain.Task) error {
	data, err := encodeTasks(tasks)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key, data, 0).Err()
}

// Close is a no-op; the redis client is owned by the caller.
func (r *Redis) Close() error { return nil }
