package reports

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tutorbill/tutorbill-backend/pkg/logger"
	"github.com/tutorbill/tutorbill-backend/pkg/metrics"
)

// Report kinds used in cache keys and metric labels.
const (
	kindStatistics     = "statistics"
	kindRevenue        = "revenue"
	kindOutstanding    = "outstanding"
	kindPaymentHistory = "payment-history"
)

const (
	counterHit  = "hit"
	counterMiss = "miss"
)

// Store is the slice of the Redis client the report cache needs.
type Store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Incr(ctx context.Context, key string) (int64, error)
	ReportKey(kind, actorID, filtersHash string) string
	ReportCounterKey(actorID, outcome string) string
}

// Cache wraps the Redis store with report-shaped entries. Every operation is
// best-effort: failures are logged and the caller falls through to the
// database.
//
// Invalidation bumps a per-actor generation counter that is folded into
// every cache key, so one increment logically drops all of the actor's
// entries regardless of filters. Orphaned entries age out via their TTL.
type Cache struct {
	store   Store
	metrics *metrics.ReportCacheMetrics
	logger  *logger.Logger
}

// NewCache builds the report cache. Store may be nil, in which case every
// lookup misses and invalidation is a no-op.
func NewCache(store Store, cacheMetrics *metrics.ReportCacheMetrics, logg *logger.Logger) (*Cache, error) {
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Cache{
		store:   store,
		metrics: cacheMetrics,
		logger:  logg,
	}, nil
}

type cacheEntry struct {
	Data      json.RawMessage `json:"data"`
	ETag      string          `json:"etag"`
	Timestamp time.Time       `json:"timestamp"`
}

// Lookup returns the cached report for (kind, actor, filters), or nil on a
// miss. Hits and misses are counted both in Prometheus and in the per-actor
// Redis counters.
func (c *Cache) Lookup(ctx context.Context, kind string, actorID uuid.UUID, filtersHash string) *Report {
	if c.store == nil {
		return nil
	}
	key, err := c.entryKey(ctx, kind, actorID, filtersHash)
	if err != nil {
		c.logger.Warn(ctx, fmt.Sprintf("report cache key for %s unavailable: %v", kind, err))
		return nil
	}
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.logger.Warn(ctx, fmt.Sprintf("report cache read for %s failed: %v", kind, err))
		}
		c.recordMiss(ctx, kind, actorID)
		return nil
	}
	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Warn(ctx, fmt.Sprintf("report cache entry for %s corrupt: %v", kind, err))
		c.recordMiss(ctx, kind, actorID)
		return nil
	}
	c.recordHit(ctx, kind, actorID)
	return &Report{
		Data:        entry.Data,
		ETag:        entry.ETag,
		GeneratedAt: entry.Timestamp,
		FromCache:   true,
	}
}

// Save stores a freshly computed report and returns it in the same shape a
// cache hit would have, ETag included.
func (c *Cache) Save(ctx context.Context, kind string, actorID uuid.UUID, filtersHash string, data json.RawMessage, generatedAt time.Time, ttl time.Duration) *Report {
	report := &Report{
		Data:        data,
		ETag:        contentETag(data),
		GeneratedAt: generatedAt,
	}
	if c.store == nil {
		return report
	}
	key, err := c.entryKey(ctx, kind, actorID, filtersHash)
	if err != nil {
		c.logger.Warn(ctx, fmt.Sprintf("report cache key for %s unavailable: %v", kind, err))
		return report
	}
	payload, err := json.Marshal(cacheEntry{
		Data:      data,
		ETag:      report.ETag,
		Timestamp: generatedAt,
	})
	if err != nil {
		c.logger.Warn(ctx, fmt.Sprintf("report cache entry for %s not serializable: %v", kind, err))
		return report
	}
	if err := c.store.Set(ctx, key, string(payload), ttl); err != nil {
		c.logger.Warn(ctx, fmt.Sprintf("report cache write for %s failed: %v", kind, err))
	}
	return report
}

// InvalidateTutor drops every cached report for the tutor by bumping the
// generation counter. Best-effort: a failure is logged and never raised.
func (c *Cache) InvalidateTutor(ctx context.Context, tutorID uuid.UUID) {
	c.invalidateActor(ctx, tutorID)
}

// InvalidateParent drops a parent's cached payment history.
func (c *Cache) InvalidateParent(ctx context.Context, parentID uuid.UUID) {
	c.invalidateActor(ctx, parentID)
}

func (c *Cache) invalidateActor(ctx context.Context, actorID uuid.UUID) {
	if c.metrics != nil {
		c.metrics.IncInvalidation("all")
	}
	if c.store == nil {
		return
	}
	if _, err := c.store.Incr(ctx, c.generationKey(actorID)); err != nil {
		c.logger.Warn(ctx, fmt.Sprintf("report cache invalidation for %s failed: %v", actorID, err))
	}
}

func (c *Cache) entryKey(ctx context.Context, kind string, actorID uuid.UUID, filtersHash string) (string, error) {
	gen, err := c.generation(ctx, actorID)
	if err != nil {
		return "", err
	}
	return c.store.ReportKey(kind, actorID.String(), fmt.Sprintf("g%d-%s", gen, filtersHash)), nil
}

func (c *Cache) generation(ctx context.Context, actorID uuid.UUID) (int64, error) {
	raw, err := c.store.Get(ctx, c.generationKey(actorID))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse generation: %w", err)
	}
	return gen, nil
}

func (c *Cache) generationKey(actorID uuid.UUID) string {
	return c.store.ReportCounterKey(actorID.String(), "generation")
}

func (c *Cache) recordHit(ctx context.Context, kind string, actorID uuid.UUID) {
	if c.metrics != nil {
		c.metrics.IncHit(kind)
	}
	if _, err := c.store.Incr(ctx, c.store.ReportCounterKey(actorID.String(), counterHit)); err != nil {
		c.logger.Warn(ctx, fmt.Sprintf("report hit counter for %s failed: %v", actorID, err))
	}
}

func (c *Cache) recordMiss(ctx context.Context, kind string, actorID uuid.UUID) {
	if c.metrics != nil {
		c.metrics.IncMiss(kind)
	}
	if _, err := c.store.Incr(ctx, c.store.ReportCounterKey(actorID.String(), counterMiss)); err != nil {
		c.logger.Warn(ctx, fmt.Sprintf("report miss counter for %s failed: %v", actorID, err))
	}
}

// filtersHash collapses the query filters into a short stable key segment.
func filtersHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:12]
}

// contentETag hashes the payload so the presentation layer can answer
// conditional reads without re-serializing.
func contentETag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
