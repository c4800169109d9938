package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsPrefix = "patchtrack_ingester_"

// Task label values for the per-invocation metrics.
const (
	TaskPatchFetch      = "patch_fetch"
	TaskDiscussionFetch = "discussion_fetch"
	TaskReconciliation  = "reconciliation"
)

type Metrics struct {
	recordsFetched    *prometheus.CounterVec
	recordsUpserted   *prometheus.CounterVec
	recordsRejected   *prometheus.CounterVec
	invocationLatency *prometheus.HistogramVec
	deadLetterRouted  prometheus.Counter
	deadLetterDepth   prometheus.Gauge
}

var (
	m    *Metrics
	once sync.Once
)

// Get returns the process-wide metrics, registering them on first use.
func Get() *Metrics {
	once.Do(func() {
		m = newMetrics(MetricsPrefix)
	})
	return m
}

func newMetrics(prefix string) *Metrics {
	return &Metrics{
		recordsFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "records_fetched",
			Help: "Number of records retrieved from the upstream source, grouped by task",
		}, []string{"task"}),
		recordsUpserted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "records_upserted",
			Help: "Number of records written to the store, grouped by task",
		}, []string{"task"}),
		recordsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "records_rejected",
			Help: "Number of records permanently rejected by mapping, grouped by task",
		}, []string{"task"}),
		invocationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "invocation_latency_seconds",
			Help:    "Task invocation latency in seconds, grouped by task and outcome",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}, []string{"task", "outcome"}),
		deadLetterRouted: promauto.NewCounter(prometheus.CounterOpts{
			Name: prefix + "dead_letter_routed",
			Help: "Number of invocation payloads routed to the dead-letter channel",
		}),
		deadLetterDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "dead_letter_depth",
			Help: "Current number of payloads waiting in the dead-letter channel",
		}),
	}
}

func (m *Metrics) RecordFetched(task string, count int) {
	m.recordsFetched.WithLabelValues(task).Add(float64(count))
}

func (m *Metrics) RecordUpserted(task string, count int) {
	m.recordsUpserted.WithLabelValues(task).Add(float64(count))
}

func (m *Metrics) RecordRejected(task string, count int) {
	m.recordsRejected.WithLabelValues(task).Add(float64(count))
}

func (m *Metrics) RecordInvocation(task, outcome string, seconds float64) {
	m.invocationLatency.WithLabelValues(task, outcome).Observe(seconds)
}

func (m *Metrics) RecordDeadLetterRouted() {
	m.deadLetterRouted.Inc()
}

func (m *Metrics) SetDeadLetterDepth(depth int64) {
	m.deadLetterDepth.Set(float64(depth))
}
