package quota

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mbrainaly/flashcard-backend/pkg/credits"
)

const defaultPlanCacheTTL = 5 * time.Minute

// PlanCache decorates a PlanStore with a short-TTL Redis cache. Plan
// definitions change rarely, so a stale read within the TTL is
// acceptable. Cache failures degrade to the inner store and are only
// logged; they never fail a lookup.
type PlanCache struct {
	inner credits.PlanStore
	rdb   *redis.Client
	ttl   time.Duration
	log   *slog.Logger
}

// NewPlanCache creates a PlanCache. A nil rdb disables caching and
// passes every lookup straight through. ttl defaults to five minutes
// when zero.
func NewPlanCache(inner credits.PlanStore, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *PlanCache {
	if inner == nil {
		panic("quota: inner PlanStore is required")
	}
	if ttl <= 0 {
		ttl = defaultPlanCacheTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &PlanCache{inner: inner, rdb: rdb, ttl: ttl, log: log}
}

// FindPlanByID implements credits.PlanStore.
func (c *PlanCache) FindPlanByID(ctx context.Context, id string) (*credits.Plan, error) {
	if c.rdb == nil {
		return c.inner.FindPlanByID(ctx, id)
	}

	key := planCacheKey(id)
	if data, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var plan credits.Plan
		if err := json.Unmarshal(data, &plan); err == nil {
			return &plan, nil
		}
		// poisoned entry, fall through to the inner store
	} else if !errors.Is(err, redis.Nil) {
		c.log.WarnContext(ctx, "plan cache read failed", slog.String("plan_id", id), slog.Any("error", err))
	}

	plan, err := c.inner.FindPlanByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(plan); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.WarnContext(ctx, "plan cache write failed", slog.String("plan_id", id), slog.Any("error", err))
		}
	}
	return plan, nil
}

func planCacheKey(id string) string {
	return "plan:" + id
}
