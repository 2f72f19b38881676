// Package correlator groups temporally-close anomalies across metrics and
// classifies each cluster against a catalog of known incident patterns.
package correlator

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kvmonitor/kvmonitor/internal/models"
)

// DefaultWindow bounds the gap between two anomalies of the same cluster.
// It is deliberately wider than the sampling period so anomalies from one
// incident land together even when detected on different ticks.
const DefaultWindow = 10 * time.Second

// Correlator clusters ungrouped anomalies and produces diagnosed groups.
type Correlator struct {
	window  time.Duration
	catalog []CatalogEntry
	logger  *slog.Logger
}

// New constructs a Correlator. A zero window or empty catalog falls back
// to the defaults.
func New(window time.Duration, catalog []CatalogEntry, logger *slog.Logger) *Correlator {
	if window <= 0 {
		window = DefaultWindow
	}
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{window: window, catalog: catalog, logger: logger}
}

// Correlate clusters the candidates and returns new groups. Candidates must
// be unresolved and ungrouped; anything else is skipped, which makes the
// call idempotent: re-running over already-grouped events yields nothing.
// Members of a produced group get their CorrelationID and RelatedMetrics
// assigned in place.
func (c *Correlator) Correlate(candidates []*models.AnomalyEvent) []*models.CorrelatedGroup {
	eligible := make([]*models.AnomalyEvent, 0, len(candidates))
	for _, ev := range candidates {
		if ev == nil || ev.Resolved || ev.CorrelationID != "" {
			continue
		}
		eligible = append(eligible, ev)
	}
	if len(eligible) == 0 {
		return nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Timestamp.Before(eligible[j].Timestamp)
	})

	var groups []*models.CorrelatedGroup
	cluster := []*models.AnomalyEvent{eligible[0]}
	for _, ev := range eligible[1:] {
		if ev.Timestamp.Sub(cluster[len(cluster)-1].Timestamp) <= c.window {
			cluster = append(cluster, ev)
			continue
		}
		if g := c.buildGroup(cluster); g != nil {
			groups = append(groups, g)
		}
		cluster = []*models.AnomalyEvent{ev}
	}
	if g := c.buildGroup(cluster); g != nil {
		groups = append(groups, g)
	}
	return groups
}

// buildGroup classifies one cluster. Single-anomaly clusters only form a
// group when the catalog carries an exact single-metric signature for them;
// otherwise the event stays ungrouped and is reconsidered next tick.
func (c *Correlator) buildGroup(cluster []*models.AnomalyEvent) *models.CorrelatedGroup {
	metricSet := distinctMetrics(cluster)
	entry := c.classify(metricSet)
	if entry == nil {
		if len(metricSet) < 2 {
			return nil
		}
		entry = &CatalogEntry{
			Pattern:   models.PatternUnclassified,
			Diagnosis: "Multiple metrics deviated together; no known incident signature matched: " + joinMetrics(metricSet),
			Recommendations: []string{
				"Inspect the member anomalies for a common trigger",
				"Review recent configuration or workload changes",
			},
		}
	}

	group := &models.CorrelatedGroup{
		CorrelationID:   uuid.NewString(),
		Timestamp:       cluster[0].Timestamp,
		Pattern:         entry.Pattern,
		Severity:        maxSeverity(cluster),
		Diagnosis:       entry.Diagnosis,
		Recommendations: append([]string(nil), entry.Recommendations...),
	}

	for _, ev := range cluster {
		ev.CorrelationID = group.CorrelationID
		ev.RelatedMetrics = relatedMetrics(metricSet, ev.Metric)
		group.Events = append(group.Events, *ev)
	}

	c.logger.Info("anomaly group formed",
		slog.String("correlation_id", group.CorrelationID),
		slog.String("pattern", string(group.Pattern)),
		slog.Int("members", len(group.Events)))
	return group
}

// classify picks the most specific catalog entry whose metric set is fully
// present in the cluster. Ties resolve to catalog order.
func (c *Correlator) classify(present []models.MetricType) *CatalogEntry {
	set := make(map[models.MetricType]struct{}, len(present))
	for _, m := range present {
		set[m] = struct{}{}
	}

	var best *CatalogEntry
	for i := range c.catalog {
		entry := &c.catalog[i]
		if !containsAll(set, entry.Metrics) {
			continue
		}
		if best == nil || len(entry.Metrics) > len(best.Metrics) {
			best = entry
		}
	}
	// A single-metric cluster must match exactly; a broader entry cannot
	// have matched anyway since all its metrics must be present.
	return best
}

func containsAll(set map[models.MetricType]struct{}, metrics []models.MetricType) bool {
	for _, m := range metrics {
		if _, ok := set[m]; !ok {
			return false
		}
	}
	return true
}

func distinctMetrics(cluster []*models.AnomalyEvent) []models.MetricType {
	seen := make(map[models.MetricType]struct{}, len(cluster))
	metrics := make([]models.MetricType, 0, len(cluster))
	for _, ev := range cluster {
		if _, ok := seen[ev.Metric]; ok {
			continue
		}
		seen[ev.Metric] = struct{}{}
		metrics = append(metrics, ev.Metric)
	}
	return metrics
}

func relatedMetrics(all []models.MetricType, own models.MetricType) []models.MetricType {
	related := make([]models.MetricType, 0, len(all))
	for _, m := range all {
		if m != own {
			related = append(related, m)
		}
	}
	if len(related) == 0 {
		return nil
	}
	return related
}

func maxSeverity(cluster []*models.AnomalyEvent) models.Severity {
	max := models.SeverityInfo
	for _, ev := range cluster {
		if ev.Severity.Rank() > max.Rank() {
			max = ev.Severity
		}
	}
	return max
}

func joinMetrics(metrics []models.MetricType) string {
	parts := make([]string, 0, len(metrics))
	for _, m := range metrics {
		parts = append(parts, string(m))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
