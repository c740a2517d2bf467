// Package metrics exposes Prometheus metrics of the workflow runtime.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "elsa"

// Metrics collects runtime metrics. A nil *Metrics records nothing.
//
//   - workflows_total{operation,status}: start and resume outcomes per final status
//   - activity_duration_ms{activity_type,status}: activity executions through the pipeline
//   - active_grains{kind}: live execution units
//   - bookmark_index_operations_total{operation}: bookmark store, remove and resolve calls
//   - triggers_indexed_total: triggers written by the indexer
type Metrics struct {
	workflows        *prometheus.CounterVec
	activityDuration *prometheus.HistogramVec
	activeGrains     *prometheus.GaugeVec
	bookmarkOps      *prometheus.CounterVec
	triggersIndexed  prometheus.Counter
}

// New registers every metric with registry, or the default registerer when nil.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		workflows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Workflow start and resume operations by resulting status",
		}, []string{"operation", "status"}),
		activityDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "activity_duration_ms",
			Help:      "Activity execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"activity_type", "status"}),
		activeGrains: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_grains",
			Help:      "Number of activated execution units",
		}, []string{"kind"}),
		bookmarkOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookmark_index_operations_total",
			Help:      "Bookmark index operations",
		}, []string{"operation"}),
		triggersIndexed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_indexed_total",
			Help:      "Triggers written to the trigger index",
		}),
	}
}

func (m *Metrics) WorkflowRan(operation, status string) {
	if m == nil {
		return
	}

	m.workflows.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) ActivityExecuted(activityType, status string, duration time.Duration) {
	if m == nil {
		return
	}

	m.activityDuration.WithLabelValues(activityType, status).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *Metrics) GrainActivated(kind string) {
	if m == nil {
		return
	}

	m.activeGrains.WithLabelValues(kind).Inc()
}

func (m *Metrics) GrainDeactivated(kind string) {
	if m == nil {
		return
	}

	m.activeGrains.WithLabelValues(kind).Dec()
}

func (m *Metrics) BookmarkOperation(operation string, count int) {
	if m == nil || count == 0 {
		return
	}

	m.bookmarkOps.WithLabelValues(operation).Add(float64(count))
}

func (m *Metrics) TriggersIndexed(count int) {
	if m == nil {
		return
	}

	m.triggersIndexed.Add(float64(count))
}
