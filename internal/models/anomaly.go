package models

import (
	"fmt"
	"time"
)

// Severity captures impact levels for anomalies and groups.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so groups can take the maximum of their members.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// ParseSeverity validates a severity from user input.
func ParseSeverity(value string) (Severity, error) {
	switch Severity(value) {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return Severity(value), nil
	}
	return "", fmt.Errorf("unknown severity %q", value)
}

// AnomalyKind distinguishes deviations above and below the baseline.
type AnomalyKind string

const (
	KindSpike AnomalyKind = "spike"
	KindDrop  AnomalyKind = "drop"
)

// PatternType names a diagnosed multi-metric incident signature.
type PatternType string

const (
	PatternMemoryPressure     PatternType = "memory_pressure"
	PatternConnectionStorm    PatternType = "connection_storm"
	PatternCredentialProbing  PatternType = "credential_probing"
	PatternCacheDegradation   PatternType = "cache_degradation"
	PatternIOSaturation       PatternType = "io_saturation"
	PatternLatencyDegradation PatternType = "latency_degradation"
	PatternFragmentation      PatternType = "fragmentation"
	PatternUnclassified       PatternType = "unclassified"
)

// AnomalyEvent records one detector firing. After creation the only
// mutation is flipping Resolved and the correlator assigning a group.
type AnomalyEvent struct {
	ID               string       `json:"id"`
	Timestamp        time.Time    `json:"timestamp"`
	Metric           MetricType   `json:"metricType"`
	Kind             AnomalyKind  `json:"kind"`
	Severity         Severity     `json:"severity"`
	Value            float64      `json:"value"`
	Baseline         float64      `json:"baseline"`
	StdDev           float64      `json:"stdDev"`
	ZScore           float64      `json:"zScore"`
	ThresholdCrossed string       `json:"thresholdCrossed"`
	Message          string       `json:"message"`
	CorrelationID    string       `json:"correlationId,omitempty"`
	RelatedMetrics   []MetricType `json:"relatedMetricTypes,omitempty"`
	Resolved         bool         `json:"resolved"`
}

// CorrelatedGroup bundles temporally-close anomalies under one diagnosis.
type CorrelatedGroup struct {
	CorrelationID   string         `json:"correlationId"`
	Timestamp       time.Time      `json:"timestamp"`
	Pattern         PatternType    `json:"pattern"`
	Severity        Severity       `json:"severity"`
	Diagnosis       string         `json:"diagnosis"`
	Recommendations []string       `json:"recommendations"`
	Events          []AnomalyEvent `json:"events"`
	Resolved        bool           `json:"resolved"`
}
