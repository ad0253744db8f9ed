package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"querybridge/internal/database/drivers"
	"querybridge/internal/metrics"
	"querybridge/internal/model"
	"querybridge/internal/security"
	"querybridge/internal/utils"
)

// WithConnection creates an adapter for cfg, connects it, runs fn and
// disconnects. Disconnect runs exactly once after a successful Connect, on
// every exit path of fn including a panic. A failed Connect leaves nothing
// to release. The value and error of fn are returned unchanged.
func WithConnection[T any](ctx context.Context, factory AdapterFactory, cfg *model.ConnectionConfig, fn func(ctx context.Context, adapter drivers.Adapter) (T, error)) (T, error) {
	var zero T

	adapter, err := factory.CreateAdapter(cfg)
	if err != nil {
		return zero, err
	}

	if err := adapter.Connect(ctx); err != nil {
		return zero, err
	}
	defer adapter.Disconnect(context.WithoutCancel(ctx))

	return fn(ctx, adapter)
}

// QueryExecutor runs validated requests against short-lived connections.
// It is safe for concurrent use; every call owns its adapter.
type QueryExecutor struct {
	factory   AdapterFactory
	validator *security.SQLValidator
	metrics   *metrics.Metrics
	logger    *slog.Logger
	stats     *executorStats
}

// ExecutorOption configures a QueryExecutor
type ExecutorOption func(*QueryExecutor)

func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(qe *QueryExecutor) {
		if logger != nil {
			qe.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) ExecutorOption {
	return func(qe *QueryExecutor) { qe.metrics = m }
}

// WithValidator replaces the default (non-strict) SQL validator.
func WithValidator(v *security.SQLValidator) ExecutorOption {
	return func(qe *QueryExecutor) {
		if v != nil {
			qe.validator = v
		}
	}
}

// NewQueryExecutor creates a new QueryExecutor instance
func NewQueryExecutor(factory AdapterFactory, opts ...ExecutorOption) *QueryExecutor {
	qe := &QueryExecutor{
		factory:   factory,
		validator: security.NewSQLValidator(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		stats:     newExecutorStats(),
	}
	for _, opt := range opts {
		opt(qe)
	}
	return qe
}

// ExecuteQuery validates sql against the read-only contract and runs the
// cleaned statement.
func (qe *QueryExecutor) ExecuteQuery(ctx context.Context, cfg *model.ConnectionConfig, sql string) (*model.QueryResult, error) {
	return qe.Execute(ctx, cfg, model.SQLQuery{SQL: sql})
}

// ExecuteDocumentQuery runs a find, aggregate or count against a document store.
func (qe *QueryExecutor) ExecuteDocumentQuery(ctx context.Context, cfg *model.ConnectionConfig, op model.DocumentOperation) (*model.QueryResult, error) {
	return qe.Execute(ctx, cfg, op)
}

// Execute runs any request kind. SQL is validated first; a request kind the
// engine cannot serve fails before any I/O.
func (qe *QueryExecutor) Execute(ctx context.Context, cfg *model.ConnectionConfig, req model.Request) (*model.QueryResult, error) {
	if cfg == nil {
		return nil, utils.NewInvalidConfigError("", errors.New("connection config is nil"))
	}
	if req == nil {
		return nil, utils.NewRequestMismatchError(string(cfg.Type), "nil")
	}

	if q, ok := req.(model.SQLQuery); ok {
		cleaned, err := qe.validator.ValidateAndClean(q.SQL)
		if err != nil {
			qe.record(cfg, time.Now(), nil, err)
			return nil, err
		}
		req = model.SQLQuery{SQL: cleaned}
	}

	if err := checkRequestKind(cfg.Type, req); err != nil {
		qe.record(cfg, time.Now(), nil, err)
		return nil, err
	}

	logger := qe.logger.With(
		"execution_id", uuid.NewString(),
		"connection_id", cfg.ID,
		"database_type", string(cfg.Type),
	)
	logger.Debug("executing request", "request", req.Describe())

	start := time.Now()
	result, err := WithConnection(ctx, qe.factory, cfg, func(ctx context.Context, adapter drivers.Adapter) (*model.QueryResult, error) {
		return adapter.Query(ctx, req)
	})
	qe.record(cfg, start, result, err)

	if err != nil {
		logger.Error("request failed", "error", err, "duration", time.Since(start))
		return nil, err
	}

	logger.Info("request completed", "rows", result.RowCount, "duration", time.Since(start))
	return result, nil
}

// Stats returns a snapshot of the executor's counters
func (qe *QueryExecutor) Stats() ExecutorStats {
	return qe.stats.snapshot()
}

// checkRequestKind rejects SQL for the document store and document
// operations for relational engines. Unknown engines are left to the factory.
func checkRequestKind(dbType model.DatabaseType, req model.Request) error {
	if !model.IsValidDatabaseType(string(dbType)) {
		return nil
	}

	switch req.(type) {
	case model.SQLQuery:
		if !model.IsRelational(dbType) {
			return utils.NewRequestMismatchError(string(dbType), "SQL")
		}
	case model.DocumentOperation:
		if model.IsRelational(dbType) {
			return utils.NewRequestMismatchError(string(dbType), "document operation")
		}
	}
	return nil
}

func (qe *QueryExecutor) record(cfg *model.ConnectionConfig, start time.Time, result *model.QueryResult, err error) {
	duration := time.Since(start)
	dbType := string(cfg.Type)

	if err != nil {
		code := utils.ErrorCode(err)
		if code == "" {
			code = "UNKNOWN"
		}
		qe.metrics.RecordQuery(cfg.ID, dbType, metrics.StatusError, duration, 0)
		qe.metrics.RecordQueryError(cfg.ID, dbType, code)
		qe.stats.record(dbType, false, duration)
		return
	}

	qe.metrics.RecordQuery(cfg.ID, dbType, metrics.StatusSuccess, duration, result.RowCount)
	qe.stats.record(dbType, true, duration)
}

// ExecutorStats summarizes executions since the executor was created
type ExecutorStats struct {
	TotalQueries         int64            `json:"totalQueries"`
	SuccessfulQueries    int64            `json:"successfulQueries"`
	FailedQueries        int64            `json:"failedQueries"`
	AverageExecutionTime time.Duration    `json:"averageExecutionTime"`
	LastQueryTime        time.Time        `json:"lastQueryTime"`
	QueriesByType        map[string]int64 `json:"queriesByType"`
}

type executorStats struct {
	totalQueries       int64
	successfulQueries  int64
	failedQueries      int64
	totalExecutionTime time.Duration
	lastQueryTime      time.Time
	queriesByType      map[string]int64
	mutex              sync.RWMutex
}

func newExecutorStats() *executorStats {
	return &executorStats{
		queriesByType: make(map[string]int64),
	}
}

func (s *executorStats) record(dbType string, success bool, duration time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.totalQueries++
	if success {
		s.successfulQueries++
	} else {
		s.failedQueries++
	}
	s.totalExecutionTime += duration
	s.lastQueryTime = time.Now()
	s.queriesByType[dbType]++
}

func (s *executorStats) snapshot() ExecutorStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := ExecutorStats{
		TotalQueries:      s.totalQueries,
		SuccessfulQueries: s.successfulQueries,
		FailedQueries:     s.failedQueries,
		LastQueryTime:     s.lastQueryTime,
		QueriesByType:     make(map[string]int64, len(s.queriesByType)),
	}
	if s.totalQueries > 0 {
		out.AverageExecutionTime = s.totalExecutionTime / time.Duration(s.totalQueries)
	}
	for k, v := range s.queriesByType {
		out.QueriesByType[k] = v
	}
	return out
}
