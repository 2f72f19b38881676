package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels ticks that produced a usable snapshot.
	OutcomeSuccess = "success"
	// OutcomeError labels ticks skipped because the source was unavailable.
	OutcomeError = "error"
)

var (
	samplingTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kvmonitor",
			Name:      "sampling_ticks_total",
			Help:      "Total sampling ticks handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	samplingTickSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kvmonitor",
			Name:      "sampling_tick_seconds",
			Help:      "Sampling tick latency in seconds, including the snapshot fetch.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kvmonitor",
			Name:      "anomalies_total",
			Help:      "Anomaly events fired, partitioned by metric and severity.",
		},
		[]string{"metric", "severity"},
	)

	groupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kvmonitor",
			Name:      "correlated_groups_total",
			Help:      "Correlated anomaly groups formed, partitioned by pattern.",
		},
		[]string{"pattern"},
	)

	persistenceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kvmonitor",
			Name:      "persistence_failures_total",
			Help:      "Best-effort store writes that failed, partitioned by object kind.",
		},
		[]string{"kind"},
	)

	metricsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kvmonitor",
			Name:      "metrics_skipped_total",
			Help:      "Tracked metrics skipped on a tick because extraction failed.",
		},
		[]string{"metric"},
	)
)

// Register attaches kvmonitor collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		samplingTicksTotal,
		samplingTickSeconds,
		anomaliesTotal,
		groupsTotal,
		persistenceFailuresTotal,
		metricsSkippedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTick records one sampling tick's duration and outcome.
func ObserveTick(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	samplingTicksTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	samplingTickSeconds.Observe(duration.Seconds())
}

// AnomalyDetected counts a fired event.
func AnomalyDetected(metric, severity string) {
	anomaliesTotal.WithLabelValues(metric, severity).Inc()
}

// GroupFormed counts a new correlated group.
func GroupFormed(pattern string) {
	groupsTotal.WithLabelValues(pattern).Inc()
}

// PersistenceFailure counts a failed best-effort store write.
func PersistenceFailure(kind string) {
	persistenceFailuresTotal.WithLabelValues(kind).Inc()
}

// MetricSkipped counts an extraction failure for one tracked metric.
func MetricSkipped(metric string) {
	metricsSkippedTotal.WithLabelValues(metric).Inc()
}
