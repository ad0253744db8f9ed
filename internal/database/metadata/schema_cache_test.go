package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querybridge/internal/metrics"
	"querybridge/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCache_TTLAndSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewCache[string, int](time.Minute, WithClock(clock.Now))

	cache.Set("a", 1)
	clock.Advance(30 * time.Second)
	cache.Set("b", 2)

	v, ok := cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(31 * time.Second)
	_, ok = cache.Get("a")
	assert.False(t, ok, "expired entries are not served")
	assert.Equal(t, 2, cache.Len())

	assert.Equal(t, 1, cache.Sweep())
	assert.Equal(t, 1, cache.Len())

	cache.Invalidate("b")
	_, ok = cache.Get("b")
	assert.False(t, ok)

	cache.Set("c", 3)
	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}

func TestCache_StartStop(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cache := NewCache[string, string](time.Minute, WithClock(clock.Now), WithSweepInterval(5*time.Millisecond))
	cache.Set("k", "v")
	clock.Advance(2 * time.Minute)

	cache.Start(context.Background())
	cache.Start(context.Background())

	assert.Eventually(t, func() bool { return cache.Len() == 0 }, time.Second, 5*time.Millisecond)

	cache.Stop()
	cache.Stop()
}

func TestCache_StopWithoutStart(t *testing.T) {
	cache := NewCache[string, int](0)
	assert.NotPanics(t, cache.Stop)
}

func TestCache_StartHonoursContext(t *testing.T) {
	cache := NewCache[string, int](time.Minute, WithSweepInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cache.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		cache.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

type countingExtractor struct {
	calls int
	err   error
}

func (e *countingExtractor) GetSchemaContext(_ context.Context, cfg *model.ConnectionConfig) (*model.SchemaContext, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return &model.SchemaContext{Formatted: "DATABASE TYPE: " + string(cfg.Type)}, nil
}

func TestSchemaService(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	extractor := &countingExtractor{}
	cache := NewCache[string, *model.SchemaContext](time.Minute)
	svc := NewSchemaService(extractor, cache, m, nil)
	cfg := &model.ConnectionConfig{ID: "db1", Type: model.DatabaseTypeSQLite, Database: "x.db"}
	ctx := context.Background()

	first, err := svc.GetSchemaContext(ctx, cfg)
	require.NoError(t, err)
	second, err := svc.GetSchemaContext(ctx, cfg)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, extractor.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses))

	svc.Invalidate("db1")
	_, err = svc.GetSchemaContext(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, extractor.calls)
}

func TestSchemaService_ErrorsAreNotCached(t *testing.T) {
	extractor := &countingExtractor{err: errors.New("catalog unavailable")}
	cache := NewCache[string, *model.SchemaContext](time.Minute)
	svc := NewSchemaService(extractor, cache, nil, nil)
	cfg := &model.ConnectionConfig{ID: "db1", Type: model.DatabaseTypeSQLite}

	_, err := svc.GetSchemaContext(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len())
}

func TestSchemaService_WithoutCache(t *testing.T) {
	extractor := &countingExtractor{}
	svc := NewSchemaService(extractor, nil, nil, nil)
	cfg := &model.ConnectionConfig{ID: "db1", Type: model.DatabaseTypeSQLite}

	_, _ = svc.GetSchemaContext(context.Background(), cfg)
	_, _ = svc.GetSchemaContext(context.Background(), cfg)
	assert.Equal(t, 2, extractor.calls)
}
