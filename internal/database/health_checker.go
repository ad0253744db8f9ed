package database

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"querybridge/internal/metrics"
	"querybridge/internal/model"
)

const (
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
	HealthStatusError     = "error"
)

// defaultHealthConcurrency bounds CheckAll fan-out
const defaultHealthConcurrency = 8

// DefaultHealthCheckInterval is used when PeriodicHealthCheck gets a
// non-positive interval.
const DefaultHealthCheckInterval = 30 * time.Second

// HealthChecker performs health checks on database connections
type HealthChecker struct {
	factory     AdapterFactory
	metrics     *metrics.Metrics
	logger      *slog.Logger
	concurrency int
}

// NewHealthChecker creates a new HealthChecker instance. m and logger may be nil.
func NewHealthChecker(factory AdapterFactory, m *metrics.Metrics, logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HealthChecker{
		factory:     factory,
		metrics:     m,
		logger:      logger,
		concurrency: defaultHealthConcurrency,
	}
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	ConnectionID string        `json:"connectionId"`
	DatabaseType string        `json:"databaseType"`
	Status       string        `json:"status"`
	Message      string        `json:"message,omitempty"`
	Latency      time.Duration `json:"latency"`
	CheckedAt    time.Time     `json:"checkedAt"`
}

// DatabaseHealthSummary represents a summary of database health
type DatabaseHealthSummary struct {
	TotalConnections     int                          `json:"totalConnections"`
	HealthyConnections   int                          `json:"healthyConnections"`
	UnhealthyConnections int                          `json:"unhealthyConnections"`
	Results              []HealthCheckResult          `json:"results"`
	SummaryByType        map[string]TypeHealthSummary `json:"summaryByType"`
	CheckedAt            time.Time                    `json:"checkedAt"`
}

// TypeHealthSummary represents health summary by database type
type TypeHealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
}

// Check builds an adapter for cfg and runs its connection test. A config
// that cannot produce an adapter reports status "error"; a failed test
// reports "unhealthy".
func (hc *HealthChecker) Check(ctx context.Context, cfg *model.ConnectionConfig) HealthCheckResult {
	startTime := time.Now()

	result := HealthCheckResult{
		CheckedAt: startTime,
	}
	if cfg != nil {
		result.ConnectionID = cfg.ID
		result.DatabaseType = string(cfg.Type)
	}

	adapter, err := hc.factory.CreateAdapter(cfg)
	if err != nil {
		result.Status = HealthStatusError
		result.Message = fmt.Sprintf("Adapter not available: %v", err)
		result.Latency = time.Since(startTime)
		hc.metrics.UpdateDataSourceHealth(result.ConnectionID, result.DatabaseType, false)
		return result
	}

	ok := adapter.TestConnection(ctx)
	result.Latency = time.Since(startTime)

	if ok {
		result.Status = HealthStatusHealthy
		result.Message = "Connection successful"
	} else {
		result.Status = HealthStatusUnhealthy
		result.Message = "Connection test failed"
	}
	hc.metrics.UpdateDataSourceHealth(result.ConnectionID, result.DatabaseType, ok)

	hc.logger.Debug("health check finished",
		"connection_id", result.ConnectionID,
		"database_type", result.DatabaseType,
		"status", result.Status,
		"duration", result.Latency,
	)
	return result
}

// CheckAll checks every config concurrently. Results keep the input order.
func (hc *HealthChecker) CheckAll(ctx context.Context, cfgs []model.ConnectionConfig) *DatabaseHealthSummary {
	results := make([]HealthCheckResult, len(cfgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hc.concurrency)
	for i := range cfgs {
		cfg := &cfgs[i]
		g.Go(func() error {
			results[i] = hc.Check(gctx, cfg)
			return nil
		})
	}
	_ = g.Wait()

	return summarize(results)
}

func summarize(results []HealthCheckResult) *DatabaseHealthSummary {
	summary := &DatabaseHealthSummary{
		TotalConnections: len(results),
		Results:          results,
		SummaryByType:    make(map[string]TypeHealthSummary),
		CheckedAt:        time.Now(),
	}

	for _, result := range results {
		byType := summary.SummaryByType[result.DatabaseType]
		byType.Total++
		if result.Status == HealthStatusHealthy {
			summary.HealthyConnections++
			byType.Healthy++
		} else {
			summary.UnhealthyConnections++
			byType.Unhealthy++
		}
		summary.SummaryByType[result.DatabaseType] = byType
	}

	return summary
}

// PeriodicHealthCheck runs CheckAll every interval until ctx is done
func (hc *HealthChecker) PeriodicHealthCheck(ctx context.Context, cfgs []model.ConnectionConfig, interval time.Duration) <-chan *DatabaseHealthSummary {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	results := make(chan *DatabaseHealthSummary)

	go func() {
		defer close(results)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				summary := hc.CheckAll(ctx, cfgs)
				select {
				case results <- summary:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return results
}
