package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/dahch/task-board-sync/domain"
)

// DefaultKey is the Redis key of the canonical snapshot.
const DefaultKey = "relay:tasks"

// Cache fronts a Store with a Redis copy of the snapshot. With a nil base
// Redis is the only store.
type Cache struct {
	base  Store
	redis *redis.Client
	key   string
	ttl   time.Duration
}

// NewCache wraps base with Redis. A zero ttl keeps the value without expiry.
func NewCache(base Store, client *redis.Client, key string, ttl time.Duration) *Cache {
	if client == nil {
		panic("storage.NewCache: redis client is nil")
	}
	if key == "" {
		key = DefaultKey
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, key: key, ttl: ttl}
}

func (c *Cache) Load(ctx context.Context) ([]domain.Task, bool, error) {
	if tasks, ok := c.loadFromRedis(ctx); ok {
		return tasks, true, nil
	}
	if c.base == nil {
		return nil, false, nil
	}
	tasks, ok, err := c.base.Load(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	c.storeRedis(ctx, tasks)
	return tasks, true, nil
}

func (c *Cache) Save(ctx context.Context, tasks []domain.Task) error {
	if c.base != nil {
		if err := c.base.Save(ctx, tasks); err != nil {
			_ = c.redis.Del(ctx, c.key).Err()
			return err
		}
		c.storeRedis(ctx, tasks)
		return nil
	}
	data, err := marshalTasks(tasks)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, c.key, data, c.ttl).Err()
}

func (c *Cache) loadFromRedis(ctx context.Context) ([]domain.Task, bool) {
	data, err := c.redis.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && c.base != nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, c.key).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.ConfigStd.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, c.key).Err()
		return nil, false
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, true
}

func (c *Cache) storeRedis(ctx context.Context, tasks []domain.Task) {
	data, err := marshalTasks(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, c.key, data, c.ttl).Err()
}

func marshalTasks(tasks []domain.Task) ([]byte, error) {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return sonic.ConfigStd.Marshal(tasks)
}
