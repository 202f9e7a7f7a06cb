package guestdesk

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultGuardTTL is how long a status-change claim suppresses duplicates.
const DefaultGuardTTL = 5 * time.Second

// StatusGuardKey is the claim key for a status transition on one appeal.
func StatusGuardKey(appealID int64, status Status) string {
	return fmt.Sprintf("appeal:%d:status:%s", appealID, status)
}

// Guard suppresses duplicate side effects of rapidly repeated staff
// actions. TryClaim is an atomic check-and-set: the first caller within
// the TTL wins, later callers for the same key are told to skip.
//
// The guard is advisory. Backends fail open: if the backend is
// unreachable, the claim is granted and the error logged, so a guard
// outage degrades to duplicate notifications rather than lost ones.
type Guard interface {
	TryClaim(ctx context.Context, key string, ttl time.Duration) bool
	Close() error
}

type redisGuard struct {
	client *redis.Client
	logger Logger
}

// NewRedisGuard connects to the Redis instance named by a redis:// URL.
func NewRedisGuard(url string, logger Logger) (Guard, error) {
	if logger == nil {
		logger = log.Default()
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 2
	return &redisGuard{client: redis.NewClient(opts), logger: logger}, nil
}

func (g *redisGuard) TryClaim(ctx context.Context, key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultGuardTTL
	}
	ok, err := g.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		g.logger.Printf("dedup guard unavailable, allowing %s: %v", key, err)
		return true
	}
	return ok
}

func (g *redisGuard) Close() error {
	return g.client.Close()
}

type memoryGuard struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

// NewMemoryGuard returns an in-process TTL guard for single-host
// deployments and tests.
func NewMemoryGuard() Guard {
	return &memoryGuard{
		claims: map[string]time.Time{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (g *memoryGuard) TryClaim(ctx context.Context, key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultGuardTTL
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for staleKey, expiry := range g.claims {
		if !expiry.After(now) {
			delete(g.claims, staleKey)
		}
	}
	if expiry, ok := g.claims[key]; ok && expiry.After(now) {
		return false
	}
	g.claims[key] = now.Add(ttl)
	return true
}

func (g *memoryGuard) Close() error {
	return nil
}

type nopGuard struct{}

// NewNopGuard returns a guard that never suppresses anything.
func NewNopGuard() Guard {
	return nopGuard{}
}

func (nopGuard) TryClaim(ctx context.Context, key string, ttl time.Duration) bool {
	return true
}

func (nopGuard) Close() error {
	return nil
}
