package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"checklist-api/domain"
)

type backend interface {
	GetTask(ctx context.Context, scope domain.ProjectScope, id string) (*domain.TaskRecord, error)
	FindByTemplate(ctx context.Context, scope domain.ProjectScope, templateID string) ([]domain.TaskRecord, error)
	FindByPrefix(ctx context.Context, scope domain.ProjectScope, prefix string) ([]domain.TaskRecord, error)
	UpdateTask(ctx context.Context, scope domain.ProjectScope, rec domain.TaskRecord) (domain.TaskRecord, error)
	EnqueueAudit(ctx context.Context, ev domain.TaskUpdatedEvent) error
}

// Cache wraps a task store with a Redis read-through cache for lookups by
// exact key. Query lookups always reach the store.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

type cachedTask struct {
	Record domain.TaskRecord `json:"record"`
	ETag   string            `json:"etag"`
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A nil client or zero TTL disables caching.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) GetTask(ctx context.Context, scope domain.ProjectScope, id string) (*domain.TaskRecord, error) {
	if rec, ok := c.load(ctx, scope, id); ok {
		return rec, nil
	}
	rec, err := c.base.GetTask(ctx, scope, id)
	if err != nil || rec == nil {
		return rec, err
	}
	c.store(ctx, scope, *rec)
	return rec, nil
}

func (c *Cache) FindByTemplate(ctx context.Context, scope domain.ProjectScope, templateID string) ([]domain.TaskRecord, error) {
	return c.base.FindByTemplate(ctx, scope, templateID)
}

func (c *Cache) FindByPrefix(ctx context.Context, scope domain.ProjectScope, prefix string) ([]domain.TaskRecord, error) {
	return c.base.FindByPrefix(ctx, scope, prefix)
}

// UpdateTask writes through and evicts the cached row whatever the outcome,
// so a retry after a conflict reads the current version.
func (c *Cache) UpdateTask(ctx context.Context, scope domain.ProjectScope, rec domain.TaskRecord) (domain.TaskRecord, error) {
	saved, err := c.base.UpdateTask(ctx, scope, rec)
	c.evict(ctx, scope, rec.ID)
	return saved, err
}

func (c *Cache) EnqueueAudit(ctx context.Context, ev domain.TaskUpdatedEvent) error {
	return c.base.EnqueueAudit(ctx, ev)
}

func (c *Cache) load(ctx context.Context, scope domain.ProjectScope, id string) (*domain.TaskRecord, bool) {
	if c.redis == nil || c.ttl == 0 {
		return nil, false
	}
	key := taskCacheKey(scope, id)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var ct cachedTask
	if err := json.Unmarshal(data, &ct); err != nil || ct.Record.ProjectID != scope.String() || ct.Record.ID != id {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	ct.Record.ETag = ct.ETag
	return &ct.Record, true
}

func (c *Cache) store(ctx context.Context, scope domain.ProjectScope, rec domain.TaskRecord) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(cachedTask{Record: rec, ETag: rec.ETag})
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, taskCacheKey(scope, rec.ID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, scope domain.ProjectScope, id string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, taskCacheKey(scope, id)).Result()
}

func taskCacheKey(scope domain.ProjectScope, id string) string {
	return "task:" + scope.String() + ":" + id
}
