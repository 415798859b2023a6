package durabletelemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector exposes Prometheus metrics for the invocation core,
// ported from internal/metrics.Collector onto invocation/journal/side
// effect concerns instead of HTTP/LLM/agent ones.
type Collector struct {
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec

	journalEntriesTotal *prometheus.CounterVec
	suspensionsTotal    *prometheus.CounterVec

	sideEffectAttemptsTotal *prometheus.CounterVec
	sideEffectDuration      *prometheus.HistogramVec

	archiveOpDuration *prometheus.HistogramVec
}

func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{}

	c.invocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Total number of invocations processed, by outcome",
		},
		[]string{"service", "handler", "outcome"},
	)

	c.invocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Invocation wall-clock duration from Start to End/Suspension",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "handler"},
	)

	c.journalEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_entries_total",
			Help:      "Total number of journal entries appended, by kind",
		},
		[]string{"kind"},
	)

	c.suspensionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspensions_total",
			Help:      "Total number of invocations suspended awaiting a completion",
		},
		[]string{"service", "handler"},
	)

	c.sideEffectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_attempts_total",
			Help:      "Total number of side effect attempts, by outcome",
		},
		[]string{"outcome"},
	)

	c.sideEffectDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "side_effect_duration_seconds",
			Help:      "Side effect function execution duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	c.archiveOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "archive_operation_duration_seconds",
			Help:      "Archive backend operation duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

func (c *Collector) RecordInvocation(service, handler, outcome string, duration time.Duration) {
	c.invocationsTotal.WithLabelValues(service, handler, outcome).Inc()
	c.invocationDuration.WithLabelValues(service, handler).Observe(duration.Seconds())
}

func (c *Collector) RecordJournalEntry(kind string) {
	c.journalEntriesTotal.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordSuspension(service, handler string) {
	c.suspensionsTotal.WithLabelValues(service, handler).Inc()
}

func (c *Collector) RecordSideEffectAttempt(outcome string, duration time.Duration) {
	c.sideEffectAttemptsTotal.WithLabelValues(outcome).Inc()
	c.sideEffectDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (c *Collector) RecordArchiveOp(backend, operation string, duration time.Duration) {
	c.archiveOpDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}
