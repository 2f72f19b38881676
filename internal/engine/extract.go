package engine

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kvmonitor/kvmonitor/internal/metrics"
	"github.com/kvmonitor/kvmonitor/internal/models"
)

// gaugeFields maps raw instrumentation field names to the metric they feed
// directly, without differencing.
var gaugeFields = map[string]models.MetricType{
	"connected_clients":         models.MetricConnections,
	"instantaneous_ops_per_sec": models.MetricOpsPerSec,
	"used_memory":               models.MetricMemoryUsed,
	"instantaneous_input_kbps":  models.MetricInputKbps,
	"instantaneous_output_kbps": models.MetricOutputKbps,
	"slowlog_len":               models.MetricSlowlogLength,
	"blocked_clients":           models.MetricBlockedClients,
	"mem_fragmentation_ratio":   models.MetricFragmentationRatio,
}

// counterFields maps cumulative server counters to the per-second rate
// metric derived from them.
var counterFields = map[string]models.MetricType{
	"evicted_keys":     models.MetricEvictedKeys,
	"keyspace_misses":  models.MetricKeyspaceMisses,
	"errorstat_NOPERM": models.MetricACLDenied,
}

// extractor converts raw snapshots into metric values, differencing
// cumulative counters into rates across consecutive ticks.
type extractor struct {
	prevCounters map[models.MetricType]float64
	prevTime     time.Time
}

func newExtractor() *extractor {
	return &extractor{prevCounters: make(map[models.MetricType]float64)}
}

// extract returns the metric values observable in this snapshot. Gauges
// with missing or unparseable fields are omitted. Rate metrics are omitted
// on the first tick and whenever the counter moved backwards, which
// indicates a server restart; both cases re-baseline for the next tick.
func (x *extractor) extract(snap map[string]string, ts time.Time) map[models.MetricType]float64 {
	out := make(map[models.MetricType]float64, len(gaugeFields)+len(counterFields))

	for field, metric := range gaugeFields {
		raw, ok := snap[field]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			metrics.MetricSkipped(string(metric))
			continue
		}
		out[metric] = v
	}

	elapsed := ts.Sub(x.prevTime).Seconds()
	first := x.prevTime.IsZero()
	for field, metric := range counterFields {
		cur, ok := x.counterValue(snap, field, metric)
		if !ok {
			continue
		}
		prev, seen := x.prevCounters[metric]
		x.prevCounters[metric] = cur
		if first || !seen {
			continue
		}
		delta := cur - prev
		if delta < 0 || elapsed <= 0 {
			// Counter reset; the stored value is the new baseline.
			continue
		}
		out[metric] = delta / elapsed
	}
	x.prevTime = ts

	return out
}

// counterValue reads one cumulative counter from the snapshot. The access
// denial counter is reported as "count=N" by the errorstat section and is
// simply absent when no denials ever occurred, which counts as zero.
func (x *extractor) counterValue(snap map[string]string, field string, metric models.MetricType) (float64, bool) {
	raw, ok := snap[field]
	if !ok {
		if metric == models.MetricACLDenied {
			return 0, true
		}
		return 0, false
	}
	if metric == models.MetricACLDenied {
		raw = strings.TrimPrefix(raw, "count=")
		if i := strings.IndexByte(raw, ','); i >= 0 {
			raw = raw[:i]
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		metrics.MetricSkipped(string(metric))
		return 0, false
	}
	return v, true
}
