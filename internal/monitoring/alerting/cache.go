package alerting

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

// Cache mirrors alert state to a fast external store so sibling processes
// (dashboards, ops tooling) can read it without hitting this process. All
// writes are best-effort; errors never impact the alerting pipeline.
type Cache interface {
	WriteAlert(ctx context.Context, a *model.Alert) error
	MarkResolved(ctx context.Context, a *model.Alert) error
}

// NoopCache is used when no Redis client is configured.
type NoopCache struct{}

func (NoopCache) WriteAlert(ctx context.Context, a *model.Alert) error   { return nil }
func (NoopCache) MarkResolved(ctx context.Context, a *model.Alert) error { return nil }

const (
	alertKeyPrefix  = "perfwatch:alert:"
	activeIndexKey  = "perfwatch:alert:index:active"
	historyIndexKey = "perfwatch:alert:index:history"
	alertTTL        = 24 * time.Hour
)

// RedisCache keeps alert JSON under perfwatch:alert:{id} with active/history
// index sets, expiring after a day.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache wraps an existing client. A nil client yields a cache whose
// operations are no-ops, mirroring how schedulers tolerate a nil Redis.
func NewRedisCache(rdb *redis.Client) *RedisCache { return &RedisCache{rdb: rdb} }

func (c *RedisCache) WriteAlert(ctx context.Context, a *model.Alert) error {
	if c.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, alertKeyPrefix+a.ID, payload, alertTTL)
	pipe.SAdd(ctx, activeIndexKey, a.ID)
	pipe.SAdd(ctx, historyIndexKey, a.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisCache) MarkResolved(ctx context.Context, a *model.Alert) error {
	if c.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, alertKeyPrefix+a.ID, payload, alertTTL)
	pipe.SRem(ctx, activeIndexKey, a.ID)
	_, err = pipe.Exec(ctx)
	return err
}
