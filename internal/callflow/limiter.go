package callflow

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ai-hotline/pkg/utils"
)

// Limiter caps live sessions per tenant.
type Limiter interface {
	Acquire(ctx context.Context, tenantID string) (bool, error)
	Release(ctx context.Context, tenantID string) error
}

// RedisLimiter shares the cap across API replicas. A slot leaked by a
// crashed replica expires with the counter TTL.
type RedisLimiter struct {
	rdb   redis.Scripter
	limit int
	ttl   time.Duration
}

func NewRedisLimiter(rdb redis.Scripter, limit int, ttl time.Duration) *RedisLimiter {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisLimiter{rdb: rdb, limit: limit, ttl: ttl}
}

func (l *RedisLimiter) Acquire(ctx context.Context, tenantID string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	return utils.AcquireConcurrencyCap(ctx, l.rdb, utils.TenantSessionsKey(tenantID), l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, tenantID string) error {
	if l.limit <= 0 {
		return nil
	}
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, utils.TenantSessionsKey(tenantID))
}

// MemoryLimiter is a single-process Limiter for tests and local runs.
// limit <= 0 means unlimited.
type MemoryLimiter struct {
	mu    sync.Mutex
	limit int
	live  map[string]int
}

func NewMemoryLimiter(limit int) *MemoryLimiter {
	return &MemoryLimiter{limit: limit, live: map[string]int{}}
}

func (l *MemoryLimiter) Acquire(ctx context.Context, tenantID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit > 0 && l.live[tenantID] >= l.limit {
		return false, nil
	}
	l.live[tenantID]++
	return true, nil
}

func (l *MemoryLimiter) Release(ctx context.Context, tenantID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.live[tenantID] > 0 {
		l.live[tenantID]--
	}
	return nil
}

// InUse reports the live slot count for a tenant.
func (l *MemoryLimiter) InUse(tenantID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live[tenantID]
}
