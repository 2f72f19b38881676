package models

import "fmt"

// MetricType identifies one tracked instrumentation signal. The set is
// fixed at startup; buffers and detectors are created once per type.
type MetricType string

const (
	MetricConnections        MetricType = "connections"
	MetricOpsPerSec          MetricType = "ops_per_sec"
	MetricMemoryUsed         MetricType = "memory_used"
	MetricInputKbps          MetricType = "input_kbps"
	MetricOutputKbps         MetricType = "output_kbps"
	MetricSlowlogLength      MetricType = "slowlog_length"
	MetricACLDenied          MetricType = "acl_denied"
	MetricEvictedKeys        MetricType = "evicted_keys"
	MetricBlockedClients     MetricType = "blocked_clients"
	MetricKeyspaceMisses     MetricType = "keyspace_misses"
	MetricFragmentationRatio MetricType = "fragmentation_ratio"
)

// AllMetricTypes returns the tracked metrics in a stable order.
func AllMetricTypes() []MetricType {
	return []MetricType{
		MetricConnections,
		MetricOpsPerSec,
		MetricMemoryUsed,
		MetricInputKbps,
		MetricOutputKbps,
		MetricSlowlogLength,
		MetricACLDenied,
		MetricEvictedKeys,
		MetricBlockedClients,
		MetricKeyspaceMisses,
		MetricFragmentationRatio,
	}
}

// ParseMetricType validates a metric name from user input.
func ParseMetricType(value string) (MetricType, error) {
	for _, m := range AllMetricTypes() {
		if string(m) == value {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown metric type %q", value)
}

// BufferStats is the point-in-time view of one metric's rolling window.
type BufferStats struct {
	Metric      MetricType `json:"metricType"`
	Ready       bool       `json:"ready"`
	Mean        float64    `json:"mean"`
	StdDev      float64    `json:"stdDev"`
	SampleCount int        `json:"sampleCount"`
}
