package correlator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kvmonitor/kvmonitor/internal/models"
)

func event(metric models.MetricType, sev models.Severity, ts time.Time) *models.AnomalyEvent {
	return &models.AnomalyEvent{
		ID:        string(metric) + "-" + ts.Format(time.RFC3339Nano),
		Timestamp: ts,
		Metric:    metric,
		Kind:      models.KindSpike,
		Severity:  sev,
	}
}

func TestCorrelateMemoryPressure(t *testing.T) {
	c := New(10*time.Second, nil, nil)
	now := time.Now()

	members := []*models.AnomalyEvent{
		event(models.MetricMemoryUsed, models.SeverityWarning, now),
		event(models.MetricEvictedKeys, models.SeverityCritical, now.Add(3*time.Second)),
	}
	groups := c.Correlate(members)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	g := groups[0]
	if g.Pattern != models.PatternMemoryPressure {
		t.Fatalf("pattern %s, want memory_pressure", g.Pattern)
	}
	if g.Severity != models.SeverityCritical {
		t.Fatalf("group severity %s, want max of members (critical)", g.Severity)
	}
	if len(g.Recommendations) == 0 || g.Diagnosis == "" {
		t.Fatalf("expected diagnosis and recommendations")
	}
	for _, ev := range members {
		if ev.CorrelationID != g.CorrelationID {
			t.Fatalf("member %s not assigned to group", ev.Metric)
		}
		if len(ev.RelatedMetrics) != 1 {
			t.Fatalf("member %s should reference the other metric", ev.Metric)
		}
	}
}

func TestCorrelateIdempotence(t *testing.T) {
	c := New(10*time.Second, nil, nil)
	now := time.Now()
	members := []*models.AnomalyEvent{
		event(models.MetricConnections, models.SeverityWarning, now),
		event(models.MetricBlockedClients, models.SeverityWarning, now.Add(time.Second)),
	}

	first := c.Correlate(members)
	if len(first) != 1 {
		t.Fatalf("expected 1 group, got %d", len(first))
	}
	// Members now carry a correlation id; a second run must produce nothing.
	if again := c.Correlate(members); len(again) != 0 {
		t.Fatalf("re-running correlation over grouped events produced %d new groups", len(again))
	}
}

func TestWindowSplitsClusters(t *testing.T) {
	c := New(5*time.Second, nil, nil)
	now := time.Now()
	events := []*models.AnomalyEvent{
		event(models.MetricMemoryUsed, models.SeverityWarning, now),
		event(models.MetricEvictedKeys, models.SeverityWarning, now.Add(4*time.Second)),
		// 20s gap starts a second cluster.
		event(models.MetricConnections, models.SeverityWarning, now.Add(24*time.Second)),
		event(models.MetricBlockedClients, models.SeverityWarning, now.Add(26*time.Second)),
	}
	groups := c.Correlate(events)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Pattern != models.PatternMemoryPressure || groups[1].Pattern != models.PatternConnectionStorm {
		t.Fatalf("patterns %s/%s, want memory_pressure/connection_storm", groups[0].Pattern, groups[1].Pattern)
	}
	if groups[0].CorrelationID == groups[1].CorrelationID {
		t.Fatalf("clusters share a correlation id")
	}
}

func TestLoneACLDeniedFormsCredentialProbing(t *testing.T) {
	c := New(10*time.Second, nil, nil)
	groups := c.Correlate([]*models.AnomalyEvent{
		event(models.MetricACLDenied, models.SeverityWarning, time.Now()),
	})
	if len(groups) != 1 || groups[0].Pattern != models.PatternCredentialProbing {
		t.Fatalf("expected credential_probing group, got %+v", groups)
	}
}

func TestLoneUnknownMetricStaysUngrouped(t *testing.T) {
	c := New(10*time.Second, nil, nil)
	ev := event(models.MetricMemoryUsed, models.SeverityWarning, time.Now())
	if groups := c.Correlate([]*models.AnomalyEvent{ev}); len(groups) != 0 {
		t.Fatalf("lone memory anomaly should not group, got %d groups", len(groups))
	}
	if ev.CorrelationID != "" {
		t.Fatalf("ungrouped event must keep an empty correlation id")
	}
}

func TestUnmatchedComboFallsBackToGeneric(t *testing.T) {
	c := New(10*time.Second, nil, nil)
	now := time.Now()
	groups := c.Correlate([]*models.AnomalyEvent{
		event(models.MetricFragmentationRatio, models.SeverityWarning, now),
		event(models.MetricOpsPerSec, models.SeverityWarning, now.Add(time.Second)),
	})
	if len(groups) != 1 || groups[0].Pattern != models.PatternUnclassified {
		t.Fatalf("expected generic fallback group, got %+v", groups)
	}
}

func TestResolvedEventsAreNotCandidates(t *testing.T) {
	c := New(10*time.Second, nil, nil)
	now := time.Now()
	resolved := event(models.MetricMemoryUsed, models.SeverityWarning, now)
	resolved.Resolved = true
	groups := c.Correlate([]*models.AnomalyEvent{
		resolved,
		event(models.MetricEvictedKeys, models.SeverityWarning, now.Add(time.Second)),
	})
	if len(groups) != 0 {
		t.Fatalf("resolved event must not be correlated")
	}
}

func TestLoadCatalogFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	data := `patterns:
  - pattern: replication_lag
    metrics: [output_kbps, connections]
    diagnosis: Replica fell behind.
    recommendations:
      - Check replica link
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if len(catalog) != 1 || catalog[0].Pattern != "replication_lag" {
		t.Fatalf("unexpected catalog: %+v", catalog)
	}

	// Missing file falls back to defaults.
	catalog, err = LoadCatalog(filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatalf("missing catalog should not error: %v", err)
	}
	if len(catalog) == 0 {
		t.Fatalf("expected built-in catalog fallback")
	}
}
