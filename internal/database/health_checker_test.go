package database

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querybridge/internal/database/drivers"
	"querybridge/internal/metrics"
	"querybridge/internal/model"
)

func TestHealthChecker_Check(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hc := NewHealthChecker(NewDriverRegistry(nil, drivers.Options{}), m, nil)
	ctx := context.Background()

	healthy := hc.Check(ctx, &model.ConnectionConfig{ID: "local", Type: model.DatabaseTypeSQLite, Database: createUsersDB(t)})
	assert.Equal(t, HealthStatusHealthy, healthy.Status)
	assert.Equal(t, "local", healthy.ConnectionID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DataSourceHealth.WithLabelValues("local", "sqlite")))

	unsupported := hc.Check(ctx, &model.ConnectionConfig{ID: "ora", Type: "oracle", Host: "h"})
	assert.Equal(t, HealthStatusError, unsupported.Status)
	assert.Contains(t, unsupported.Message, "unsupported database type")

	missing := hc.Check(ctx, &model.ConnectionConfig{ID: "gone", Type: model.DatabaseTypeSQLite, Database: "/nonexistent/dir/app.db"})
	assert.Equal(t, HealthStatusUnhealthy, missing.Status)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DataSourceHealth.WithLabelValues("gone", "sqlite")))
}

func TestHealthChecker_CheckAll(t *testing.T) {
	hc := NewHealthChecker(NewDriverRegistry(nil, drivers.Options{ConnectTimeout: 500 * time.Millisecond}), nil, nil)
	path := createUsersDB(t)

	summary := hc.CheckAll(context.Background(), []model.ConnectionConfig{
		{ID: "a", Type: model.DatabaseTypeSQLite, Database: path},
		{ID: "b", Type: model.DatabaseTypePostgreSQL, Host: "127.0.0.1", Port: 1},
		{ID: "c", Type: model.DatabaseTypeSQLite, Database: path},
	})

	require.Len(t, summary.Results, 3)
	assert.Equal(t, "a", summary.Results[0].ConnectionID)
	assert.Equal(t, "b", summary.Results[1].ConnectionID)
	assert.Equal(t, 3, summary.TotalConnections)
	assert.Equal(t, 2, summary.HealthyConnections)
	assert.Equal(t, 1, summary.UnhealthyConnections)
	assert.Equal(t, TypeHealthSummary{Total: 2, Healthy: 2}, summary.SummaryByType["sqlite"])
	assert.Equal(t, TypeHealthSummary{Total: 1, Unhealthy: 1}, summary.SummaryByType["postgres"])
}

func TestHealthChecker_Periodic(t *testing.T) {
	spy := &spyAdapter{dbType: model.DatabaseTypePostgreSQL}
	hc := NewHealthChecker(&spyFactory{adapter: spy}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := hc.PeriodicHealthCheck(ctx, []model.ConnectionConfig{*postgresConfig()}, 10*time.Millisecond)
	select {
	case summary := <-ch:
		assert.Equal(t, 1, summary.HealthyConnections)
	case <-time.After(2 * time.Second):
		t.Fatal("no health summary received")
	}

	cancel()
	for range ch {
	}
}

func TestHealthChecker_PeriodicNonPositiveInterval(t *testing.T) {
	spy := &spyAdapter{dbType: model.DatabaseTypePostgreSQL}
	hc := NewHealthChecker(&spyFactory{adapter: spy}, nil, nil)

	for _, interval := range []time.Duration{0, -time.Second} {
		ctx, cancel := context.WithCancel(context.Background())

		var ch <-chan *DatabaseHealthSummary
		require.NotPanics(t, func() {
			ch = hc.PeriodicHealthCheck(ctx, []model.ConnectionConfig{*postgresConfig()}, interval)
		})

		cancel()
		select {
		case _, open := <-ch:
			assert.False(t, open)
		case <-time.After(2 * time.Second):
			t.Fatal("channel not closed after cancel")
		}
	}
}
