package profilecache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/repository"
)

// Cache is a read-through profile cache. A lookup is one MGET plus, for
// the misses only, one bulk DB load whose results are written back with a
// TTL in a single pipeline.
type Cache struct {
	repo  repository.ProfileRepository
	cache *redis.Client
	ttl   time.Duration
	log   *zap.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	bulkLoads atomic.Int64
}

func New(repo repository.ProfileRepository, cache *redis.Client, ttl time.Duration, log *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{repo: repo, cache: cache, ttl: ttl, log: log}
}

func key(uid string) string { return fmt.Sprintf("profile:%s", uid) }

// Load returns the profiles that exist, in the order of uids. Unknown uids
// are skipped. A redis failure degrades to a DB load.
func (c *Cache) Load(ctx context.Context, uids []string) ([]model.Profile, error) {
	if len(uids) == 0 {
		return []model.Profile{}, nil
	}

	keys := make([]string, len(uids))
	for i, id := range uids {
		keys[i] = key(id)
	}

	cached := make(map[string]model.Profile, len(uids))
	if vals, err := c.cache.MGet(ctx, keys...).Result(); err == nil {
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var p model.Profile
			if uErr := json.Unmarshal([]byte(str), &p); uErr == nil {
				cached[uids[i]] = p
			}
		}
	} else {
		c.log.Warn("profile cache mget failed", zap.Error(err))
	}

	missing := make([]string, 0, len(uids))
	for _, id := range uids {
		if _, ok := cached[id]; !ok {
			missing = append(missing, id)
		}
	}
	c.hits.Add(int64(len(uids) - len(missing)))
	c.misses.Add(int64(len(missing)))

	if len(missing) > 0 {
		c.bulkLoads.Add(1)
		rows, err := c.repo.ListByUIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		pipe := c.cache.Pipeline()
		for _, p := range rows {
			cached[p.UID] = *p
			if payload, err := json.Marshal(p); err == nil {
				pipe.Set(ctx, key(p.UID), payload, c.ttl)
			}
		}
		if _, err := pipe.Exec(ctx); err != nil && len(rows) > 0 {
			c.log.Warn("profile cache write-back failed", zap.Error(err))
		}
	}

	result := make([]model.Profile, 0, len(uids))
	for _, id := range uids {
		if p, ok := cached[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

// Invalidate drops cached profiles after they changed.
func (c *Cache) Invalidate(ctx context.Context, uids ...string) error {
	if len(uids) == 0 {
		return nil
	}
	keys := make([]string, len(uids))
	for i, id := range uids {
		keys[i] = key(id)
	}
	return c.cache.Del(ctx, keys...).Err()
}

// ResetCounters clears recorded counters.
func (c *Cache) ResetCounters() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.bulkLoads.Store(0)
}

// Counters reports cache effectiveness since the last reset.
func (c *Cache) Counters() Counters {
	return Counters{Hits: c.hits.Load(), Misses: c.misses.Load(), BulkLoads: c.bulkLoads.Load()}
}

// Counters summarises lookups during a run.
type Counters struct {
	Hits      int64
	Misses    int64
	BulkLoads int64
}
