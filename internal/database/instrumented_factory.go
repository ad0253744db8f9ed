package database

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"querybridge/internal/database/drivers"
	"querybridge/internal/metrics"
	"querybridge/internal/model"
)

// InstrumentedFactory decorates an AdapterFactory so every Connect records
// connect metrics and, when a limiter is set, waits for a connect token first.
type InstrumentedFactory struct {
	next    AdapterFactory
	metrics *metrics.Metrics
	limiter *rate.Limiter
}

// NewInstrumentedFactory wraps next. Both m and limiter may be nil.
func NewInstrumentedFactory(next AdapterFactory, m *metrics.Metrics, limiter *rate.Limiter) *InstrumentedFactory {
	return &InstrumentedFactory{next: next, metrics: m, limiter: limiter}
}

func (f *InstrumentedFactory) CreateAdapter(cfg *model.ConnectionConfig) (drivers.Adapter, error) {
	adapter, err := f.next.CreateAdapter(cfg)
	if err != nil {
		return nil, err
	}
	return &instrumentedAdapter{Adapter: adapter, metrics: f.metrics, limiter: f.limiter}, nil
}

type instrumentedAdapter struct {
	drivers.Adapter
	metrics *metrics.Metrics
	limiter *rate.Limiter
}

func (a *instrumentedAdapter) Connect(ctx context.Context) error {
	if err := a.wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	err := a.Adapter.Connect(ctx)
	a.metrics.RecordConnect(string(a.DatabaseType()), err == nil, time.Since(start))
	return err
}

func (a *instrumentedAdapter) TestConnection(ctx context.Context) bool {
	if err := a.wait(ctx); err != nil {
		return false
	}
	return a.Adapter.TestConnection(ctx)
}

func (a *instrumentedAdapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for connect rate limit: %w", err)
	}
	return nil
}
