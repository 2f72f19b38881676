// Package detector turns per-metric sample streams into discrete anomaly
// events, with debouncing and rate limiting to suppress false positives.
package detector

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kvmonitor/kvmonitor/internal/models"
)

// Config holds per-metric detection tunables.
type Config struct {
	// WarningZScore and CriticalZScore bound |z| for the two severities.
	WarningZScore  float64
	CriticalZScore float64
	// Absolute thresholds fire regardless of the rolling statistics.
	// Nil means unset.
	WarningThreshold  *float64
	CriticalThreshold *float64
	// ConsecutiveRequired is the debounce count: crossings must repeat on
	// this many consecutive samples before an event fires.
	ConsecutiveRequired int
	// Cooldown is the minimum spacing between two firings.
	Cooldown time.Duration
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WarningZScore <= 0 {
		c.WarningZScore = d.WarningZScore
	}
	if c.CriticalZScore <= 0 {
		c.CriticalZScore = d.CriticalZScore
	}
	if c.ConsecutiveRequired <= 0 {
		c.ConsecutiveRequired = d.ConsecutiveRequired
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	return c
}

// DefaultConfig returns the baseline tunables applied to metrics without
// an override.
func DefaultConfig() Config {
	return Config{
		WarningZScore:       2.5,
		CriticalZScore:      3.5,
		ConsecutiveRequired: 3,
		Cooldown:            time.Minute,
	}
}

// DefaultConfigs maps each tracked metric to its tuned configuration.
// Metrics with wide natural variance get looser z bounds; metrics whose
// absolute level is meaningful on its own get absolute thresholds.
func DefaultConfigs() map[models.MetricType]Config {
	f := func(v float64) *float64 { return &v }
	cfgs := make(map[models.MetricType]Config)
	for _, m := range models.AllMetricTypes() {
		cfgs[m] = DefaultConfig()
	}
	// Throughput metrics oscillate with workload shape.
	cfgs[models.MetricOpsPerSec] = Config{WarningZScore: 3.0, CriticalZScore: 4.0, ConsecutiveRequired: 3, Cooldown: time.Minute}
	cfgs[models.MetricInputKbps] = cfgs[models.MetricOpsPerSec]
	cfgs[models.MetricOutputKbps] = cfgs[models.MetricOpsPerSec]
	// Fragmentation is meaningful as an absolute ratio.
	cfgs[models.MetricFragmentationRatio] = Config{
		WarningZScore: 3.0, CriticalZScore: 4.0,
		WarningThreshold: f(1.5), CriticalThreshold: f(2.0),
		ConsecutiveRequired: 2, Cooldown: 5 * time.Minute,
	}
	// Any blocked client is notable; more than a handful is an incident.
	cfgs[models.MetricBlockedClients] = Config{
		WarningZScore: 2.5, CriticalZScore: 3.5,
		WarningThreshold: f(5), CriticalThreshold: f(25),
		ConsecutiveRequired: 2, Cooldown: 2 * time.Minute,
	}
	cfgs[models.MetricSlowlogLength] = Config{
		WarningZScore: 2.5, CriticalZScore: 3.5,
		WarningThreshold: f(10), CriticalThreshold: f(50),
		ConsecutiveRequired: 2, Cooldown: 2 * time.Minute,
	}
	// Denied commands are rare in healthy deployments; a single sustained
	// denial rate is suspicious.
	cfgs[models.MetricACLDenied] = Config{
		WarningZScore: 2.5, CriticalZScore: 3.5,
		WarningThreshold: f(1), CriticalThreshold: f(20),
		ConsecutiveRequired: 1, Cooldown: 5 * time.Minute,
	}
	return cfgs
}

// SpikeDetector evaluates fresh samples against a buffer's statistics.
// It keeps a consecutive-crossing counter and the last firing time; both
// belong to the engine's single writer.
type SpikeDetector struct {
	metric      models.MetricType
	cfg         Config
	consecutive int
	lastFired   time.Time
}

// New constructs a detector for one metric.
func New(metric models.MetricType, cfg Config) *SpikeDetector {
	return &SpikeDetector{metric: metric, cfg: cfg.withDefaults()}
}

// Detect decides whether the sample is a significant deviation. The event
// is nil while the buffer is warming up, while evidence is insufficient,
// or while the cooldown window is open. The second result reports whether
// the sample crossed the warning bound at all: crossing samples must be
// held out of the baseline window by the caller, otherwise a sustained
// deviation absorbs into the very statistics it is judged against and the
// reported baseline drifts toward the anomaly.
func (d *SpikeDetector) Detect(st models.BufferStats, value float64, ts time.Time) (*models.AnomalyEvent, bool) {
	if !st.Ready {
		return nil, false
	}

	z := 0.0
	if st.StdDev > 0 {
		z = (value - st.Mean) / st.StdDev
	}
	kind := models.KindSpike
	if value < st.Mean {
		kind = models.KindDrop
	}

	crossesWarning := math.Abs(z) >= d.cfg.WarningZScore || breaches(d.cfg.WarningThreshold, value)
	crossesCritical := math.Abs(z) >= d.cfg.CriticalZScore || breaches(d.cfg.CriticalThreshold, value)

	if !crossesWarning {
		// Returning to baseline discards any partial run.
		d.consecutive = 0
		return nil, false
	}

	d.consecutive++
	if d.consecutive < d.cfg.ConsecutiveRequired {
		return nil, true
	}
	if !d.lastFired.IsZero() && ts.Sub(d.lastFired) < d.cfg.Cooldown {
		return nil, true
	}

	severity := models.SeverityWarning
	if crossesCritical {
		severity = models.SeverityCritical
	}
	d.lastFired = ts
	d.consecutive = 0

	return &models.AnomalyEvent{
		ID:               uuid.NewString(),
		Timestamp:        ts,
		Metric:           d.metric,
		Kind:             kind,
		Severity:         severity,
		Value:            value,
		Baseline:         st.Mean,
		StdDev:           st.StdDev,
		ZScore:           z,
		ThresholdCrossed: d.thresholdCrossed(crossesCritical, z, value),
		Message: fmt.Sprintf("%s %s: value %.2f vs baseline %.2f (z=%.2f)",
			d.metric, kind, value, st.Mean, z),
	}, true
}

func (d *SpikeDetector) thresholdCrossed(critical bool, z, value float64) string {
	if critical {
		if math.Abs(z) >= d.cfg.CriticalZScore {
			return fmt.Sprintf("|z|>=%.1f", d.cfg.CriticalZScore)
		}
		return fmt.Sprintf("value>=%.2f", *d.cfg.CriticalThreshold)
	}
	if math.Abs(z) >= d.cfg.WarningZScore {
		return fmt.Sprintf("|z|>=%.1f", d.cfg.WarningZScore)
	}
	return fmt.Sprintf("value>=%.2f", *d.cfg.WarningThreshold)
}

func breaches(threshold *float64, value float64) bool {
	return threshold != nil && value >= *threshold
}
