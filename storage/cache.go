package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ewen-r/to-do-list/domain"
)

type backend interface {
	CreateTask(ctx context.Context, list, text, owner string) (domain.Task, error)
	ListTasks(ctx context.Context, list, owner string) ([]domain.Task, error)
	SetDone(ctx context.Context, owner, taskID string, done bool) (domain.Task, error)
	DeleteList(ctx context.Context, list, owner string) (int, error)
	PruneCompleted(ctx context.Context, list, owner string) (int, error)
}

// Cache wraps a Storage instance with Redis-backed caching of per-list reads.
// Every mutation evicts the affected (owner, list) entry; Redis failures fall
// back to the backing storage and never surface to callers.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client
// and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) ListTasks(ctx context.Context, list, owner string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasks(ctx, list, owner); ok {
		return tasks, nil
	}

	tasks, err := c.base.ListTasks(ctx, list, owner)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, list, owner, tasks)
	return tasks, nil
}

func (c *Cache) CreateTask(ctx context.Context, list, text, owner string) (domain.Task, error) {
	t, err := c.base.CreateTask(ctx, list, text, owner)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, list, owner)
	return t, nil
}

func (c *Cache) SetDone(ctx context.Context, owner, taskID string, done bool) (domain.Task, error) {
	t, err := c.base.SetDone(ctx, owner, taskID, done)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, t.List, owner)
	return t, nil
}

func (c *Cache) DeleteList(ctx context.Context, list, owner string) (int, error) {
	n, err := c.base.DeleteList(ctx, list, owner)
	if err != nil {
		return n, err
	}
	c.evict(ctx, list, owner)
	return n, nil
}

func (c *Cache) PruneCompleted(ctx context.Context, list, owner string) (int, error) {
	n, err := c.base.PruneCompleted(ctx, list, owner)
	if err != nil {
		return n, err
	}
	c.evict(ctx, list, owner)
	return n, nil
}

func (c *Cache) loadTasks(ctx context.Context, list, owner string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(list, owner)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(list, owner)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(list, owner)).Err()
		return nil, false
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	// Owner is not part of the serialized form; restore it from the key.
	for i := range tasks {
		tasks[i].Owner = owner
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, list, owner string, tasks []domain.Task) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(list, owner), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, list, owner string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, tasksCacheKey(list, owner)).Err()
}

func tasksCacheKey(list, owner string) string {
	return "tasks:" + owner + ":" + list
}
