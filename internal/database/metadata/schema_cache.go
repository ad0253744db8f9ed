package metadata

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"querybridge/internal/metrics"
	"querybridge/internal/model"
)

const (
	DefaultCacheTTL      = 5 * time.Minute
	DefaultSweepInterval = 10 * time.Minute
)

// Cache is a TTL map guarded by a mutex. Expired entries are invisible to
// Get and are removed by Sweep, which the background sweeper started by
// Start calls periodically.
type Cache[K comparable, V any] struct {
	entries       map[K]cacheEntry[V]
	mutex         sync.RWMutex
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// CacheOption configures a Cache
type CacheOption func(*cacheConfig)

type cacheConfig struct {
	sweepInterval time.Duration
	now           func() time.Time
}

// WithSweepInterval sets how often the background sweeper runs
func WithSweepInterval(d time.Duration) CacheOption {
	return func(c *cacheConfig) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithClock replaces time.Now; used by tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *cacheConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache creates an empty cache. A non-positive ttl uses DefaultCacheTTL.
func NewCache[K comparable, V any](ttl time.Duration, opts ...CacheOption) *Cache[K, V] {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	cfg := cacheConfig{sweepInterval: DefaultSweepInterval, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Cache[K, V]{
		entries:       make(map[K]cacheEntry[V]),
		ttl:           ttl,
		sweepInterval: cfg.sweepInterval,
		now:           cfg.now,
		stopChan:      make(chan struct{}),
	}
}

// Start launches the sweeper. It returns immediately; the sweeper exits when
// ctx is done or Stop is called. Calling Start more than once has no effect.
func (c *Cache[K, V]) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.sweepLoop(ctx)
	})
}

func (c *Cache[K, V]) sweepLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Stop halts the sweeper and waits for it to exit. Safe to call repeatedly
// and without a prior Start.
func (c *Cache[K, V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
}

// Get returns the live value stored under key
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.entries[key]
	if !exists || !c.now().Before(entry.expiresAt) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Set stores value under key for the cache TTL
func (c *Cache[K, V]) Set(key K, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = cacheEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate removes the entry for key
func (c *Cache[K, V]) Invalidate(key K) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.entries, key)
}

// Sweep removes expired entries and reports how many were dropped
func (c *Cache[K, V]) Sweep() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len counts stored entries, expired ones included until swept
func (c *Cache[K, V]) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// Clear clears all cache entries
func (c *Cache[K, V]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[K]cacheEntry[V])
}

// SchemaExtractor produces a schema context for a connection
type SchemaExtractor interface {
	GetSchemaContext(ctx context.Context, cfg *model.ConnectionConfig) (*model.SchemaContext, error)
}

// SchemaService serves schema contexts from an injected cache keyed by
// connection id, introspecting on a miss.
type SchemaService struct {
	extractor SchemaExtractor
	cache     *Cache[string, *model.SchemaContext]
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewSchemaService wires an extractor to a cache. The caller owns the
// cache lifecycle (Start/Stop).
func NewSchemaService(extractor SchemaExtractor, cache *Cache[string, *model.SchemaContext], m *metrics.Metrics, logger *slog.Logger) *SchemaService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SchemaService{
		extractor: extractor,
		cache:     cache,
		metrics:   m,
		logger:    logger,
	}
}

// GetSchemaContext returns the cached context for cfg.ID, or introspects and
// caches it. Failures are not cached.
func (s *SchemaService) GetSchemaContext(ctx context.Context, cfg *model.ConnectionConfig) (*model.SchemaContext, error) {
	if cfg != nil && s.cache != nil {
		if sc, ok := s.cache.Get(cfg.ID); ok {
			s.metrics.RecordCacheLookup(true)
			s.logger.Debug("schema cache hit", "connection_id", cfg.ID)
			return sc, nil
		}
		s.metrics.RecordCacheLookup(false)
	}

	sc, err := s.extractor.GetSchemaContext(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(cfg.ID, sc)
	}
	return sc, nil
}

// Invalidate drops the cached context for a connection
func (s *SchemaService) Invalidate(connectionID string) {
	if s.cache != nil {
		s.cache.Invalidate(connectionID)
	}
}
