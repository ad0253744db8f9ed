package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds the Prometheus collectors for query execution, introspection
// and the schema-context cache. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Query execution metrics
	QueryTotal    *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryRowsRead *prometheus.CounterVec
	QueryErrors   *prometheus.CounterVec

	// Connection lifecycle metrics
	ConnectTotal    *prometheus.CounterVec
	ConnectDuration *prometheus.HistogramVec

	// Schema introspection metrics
	IntrospectionTotal    *prometheus.CounterVec
	IntrospectionDuration *prometheus.HistogramVec

	// Schema-context cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Data source health metrics
	DataSourceHealth *prometheus.GaugeVec
}

// New registers all collectors on reg. Passing nil registers nothing, which
// is useful for tests that only inspect the collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		QueryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querybridge_query_total",
				Help: "Total number of executed requests",
			},
			[]string{"connection_id", "database_type", "status"},
		),
		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "querybridge_query_duration_seconds",
				Help:    "Request execution time in seconds, connect and disconnect included",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"connection_id", "database_type"},
		),
		QueryRowsRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querybridge_query_rows_read_total",
				Help: "Total number of rows returned by successful requests",
			},
			[]string{"connection_id", "database_type"},
		),
		QueryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querybridge_query_errors_total",
				Help: "Total number of failed requests by error code",
			},
			[]string{"connection_id", "database_type", "error_type"},
		),
		ConnectTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querybridge_connect_total",
				Help: "Total number of connection attempts",
			},
			[]string{"database_type", "status"},
		),
		ConnectDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "querybridge_connect_duration_seconds",
				Help:    "Time spent establishing connections",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"database_type"},
		),
		IntrospectionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querybridge_introspection_total",
				Help: "Total number of schema introspections",
			},
			[]string{"database_type", "status"},
		),
		IntrospectionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "querybridge_introspection_duration_seconds",
				Help:    "Schema introspection time in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"database_type"},
		),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "querybridge_schema_cache_hits_total",
			Help: "Schema-context cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "querybridge_schema_cache_misses_total",
			Help: "Schema-context cache misses",
		}),
		DataSourceHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "querybridge_datasource_health",
				Help: "Data source health status (1 = healthy, 0 = unhealthy)",
			},
			[]string{"connection_id", "database_type"},
		),
	}
}

// RecordQuery records one finished request
func (m *Metrics) RecordQuery(connectionID, databaseType, status string, duration time.Duration, rowsRead int) {
	if m == nil {
		return
	}

	m.QueryTotal.WithLabelValues(connectionID, databaseType, status).Inc()
	m.QueryDuration.WithLabelValues(connectionID, databaseType).Observe(duration.Seconds())

	if status == StatusSuccess && rowsRead > 0 {
		m.QueryRowsRead.WithLabelValues(connectionID, databaseType).Add(float64(rowsRead))
	}
}

// RecordQueryError records a failed request under its error code
func (m *Metrics) RecordQueryError(connectionID, databaseType, errorType string) {
	if m == nil {
		return
	}
	m.QueryErrors.WithLabelValues(connectionID, databaseType, errorType).Inc()
}

func (m *Metrics) RecordConnect(databaseType string, ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.ConnectTotal.WithLabelValues(databaseType, statusOf(ok)).Inc()
	m.ConnectDuration.WithLabelValues(databaseType).Observe(duration.Seconds())
}

func (m *Metrics) RecordIntrospection(databaseType string, ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.IntrospectionTotal.WithLabelValues(databaseType, statusOf(ok)).Inc()
	m.IntrospectionDuration.WithLabelValues(databaseType).Observe(duration.Seconds())
}

// RecordCacheLookup counts a schema-context cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// UpdateDataSourceHealth updates data source health metrics
func (m *Metrics) UpdateDataSourceHealth(connectionID, databaseType string, healthy bool) {
	if m == nil {
		return
	}

	healthValue := 0.0
	if healthy {
		healthValue = 1.0
	}
	m.DataSourceHealth.WithLabelValues(connectionID, databaseType).Set(healthValue)
}

func statusOf(ok bool) string {
	if ok {
		return StatusSuccess
	}
	return StatusError
}
