package archive

import (
	"context"
	"time"
)

// Metrics receives a duration observation for every Archive operation
// InstrumentedArchive wraps. Satisfied by *durabletelemetry.Collector.
type Metrics interface {
	RecordArchiveOp(backend, operation string, duration time.Duration)
}

// InstrumentedArchive wraps any Archive and records Metrics for every
// Save/Get/List/Delete call, independent of which concrete backend
// sits underneath — so switching backends in config never means
// losing, or having to re-wire, the metric.
type InstrumentedArchive struct {
	inner   Archive
	metrics Metrics
	backend string
}

// NewInstrumentedArchive wraps inner, tagging every recorded operation
// with backend (e.g. "postgres", "redis", "mongo", "memory").
func NewInstrumentedArchive(inner Archive, metrics Metrics, backend string) *InstrumentedArchive {
	return &InstrumentedArchive{inner: inner, metrics: metrics, backend: backend}
}

func (a *InstrumentedArchive) observe(op string, start time.Time) {
	a.metrics.RecordArchiveOp(a.backend, op, time.Since(start))
}

func (a *InstrumentedArchive) Save(ctx context.Context, rec Record) error {
	start := time.Now()
	defer a.observe("save", start)
	return a.inner.Save(ctx, rec)
}

func (a *InstrumentedArchive) Get(ctx context.Context, invocationID string) (Record, error) {
	start := time.Now()
	defer a.observe("get", start)
	return a.inner.Get(ctx, invocationID)
}

func (a *InstrumentedArchive) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	start := time.Now()
	defer a.observe("list", start)
	return a.inner.List(ctx, opts)
}

func (a *InstrumentedArchive) Delete(ctx context.Context, invocationID string) error {
	start := time.Now()
	defer a.observe("delete", start)
	return a.inner.Delete(ctx, invocationID)
}

func (a *InstrumentedArchive) Close() error {
	return a.inner.Close()
}

var _ Archive = (*InstrumentedArchive)(nil)
