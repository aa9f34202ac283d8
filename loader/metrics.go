package loader

import (
	"fmt"

	"github.com/chenyanchen/batchkit"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records loader activity in Prometheus, labelled by resource path.
// A nil *Metrics records nothing.
type Metrics struct {
	groups            *prometheus.CounterVec
	groupFailures     *prometheus.CounterVec
	reconcileFailures *prometheus.CounterVec
	itemsNotFound     *prometheus.CounterVec
	sharedFetches     *prometheus.CounterVec
	groupSize         *prometheus.HistogramVec
}

// NewMetrics creates and registers loader metrics.
// reg defaults to prometheus.DefaultRegisterer and namespace to "batchkit".
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "batchkit"
	}

	labels := []string{"resource"}
	m := &Metrics{
		groups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "groups_total",
			Help:      "Downstream group fetches by resource.",
		}, labels),
		groupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "group_failures_total",
			Help:      "Group fetches that failed as a whole.",
		}, labels),
		reconcileFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "reconcile_failures_total",
			Help:      "Responses that could not be matched back to their keys.",
		}, labels),
		itemsNotFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "items_not_found_total",
			Help:      "Requested keys missing from the response.",
		}, labels),
		sharedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "shared_fetches_total",
			Help:      "Group fetches whose result was shared with an identical concurrent fetch.",
		}, labels),
		groupSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "group_size",
			Help:      "Keys per downstream group fetch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, labels),
	}

	for _, c := range []prometheus.Collector{
		m.groups, m.groupFailures, m.reconcileFailures, m.itemsNotFound, m.sharedFetches, m.groupSize,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register loader metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observeGroup(path batchkit.ResourcePath, size int) {
	if m == nil {
		return
	}
	m.groups.WithLabelValues(path.String()).Inc()
	m.groupSize.WithLabelValues(path.String()).Observe(float64(size))
}

func (m *Metrics) groupFailed(path batchkit.ResourcePath) {
	if m == nil {
		return
	}
	m.groupFailures.WithLabelValues(path.String()).Inc()
}

func (m *Metrics) reconcileFailed(path batchkit.ResourcePath) {
	if m == nil {
		return
	}
	m.reconcileFailures.WithLabelValues(path.String()).Inc()
}

func (m *Metrics) notFound(path batchkit.ResourcePath, n int) {
	if m == nil || n == 0 {
		return
	}
	m.itemsNotFound.WithLabelValues(path.String()).Add(float64(n))
}

func (m *Metrics) sharedFetch(path batchkit.ResourcePath) {
	if m == nil {
		return
	}
	m.sharedFetches.WithLabelValues(path.String()).Inc()
}
