package correlator

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kvmonitor/kvmonitor/internal/models"
)

// CatalogEntry maps a combination of metric types to a diagnosed incident
// pattern. An entry matches a cluster when every listed metric is present.
type CatalogEntry struct {
	Pattern         models.PatternType  `yaml:"pattern"`
	Metrics         []models.MetricType `yaml:"metrics"`
	Diagnosis       string              `yaml:"diagnosis"`
	Recommendations []string            `yaml:"recommendations"`
}

type catalogFile struct {
	Patterns []CatalogEntry `yaml:"patterns"`
}

// DefaultCatalog returns the built-in incident signatures.
func DefaultCatalog() []CatalogEntry {
	return []CatalogEntry{
		{
			Pattern:   models.PatternMemoryPressure,
			Metrics:   []models.MetricType{models.MetricMemoryUsed, models.MetricEvictedKeys},
			Diagnosis: "Memory usage climbing while keys are evicted; the instance is at or near its memory limit.",
			Recommendations: []string{
				"Review maxmemory and the configured eviction policy",
				"Inspect large keys and TTL coverage with MEMORY USAGE / OBJECT FREQ",
				"Plan a memory capacity increase if the working set has grown",
			},
		},
		{
			Pattern:   models.PatternConnectionStorm,
			Metrics:   []models.MetricType{models.MetricConnections, models.MetricBlockedClients},
			Diagnosis: "Connection count and blocked clients rose together; clients are piling up faster than commands drain.",
			Recommendations: []string{
				"Check client-side connection pooling and retry storms",
				"Inspect blocking commands (BLPOP, WAIT) holding clients",
				"Verify maxclients headroom",
			},
		},
		{
			Pattern:   models.PatternCredentialProbing,
			Metrics:   []models.MetricType{models.MetricACLDenied},
			Diagnosis: "ACL-denied commands spiked with no other deviation; possible credential probing or a misconfigured client.",
			Recommendations: []string{
				"Audit recent AUTH failures and denied command sources",
				"Rotate credentials if the source is unknown",
				"Restrict network access to trusted clients",
			},
		},
		{
			Pattern:   models.PatternCacheDegradation,
			Metrics:   []models.MetricType{models.MetricKeyspaceMisses, models.MetricOpsPerSec},
			Diagnosis: "Keyspace misses rose alongside a throughput shift; the hit rate is degrading.",
			Recommendations: []string{
				"Check for key expiry or eviction bursts preceding the misses",
				"Verify cache warm-up after recent deploys or failovers",
			},
		},
		{
			Pattern:   models.PatternIOSaturation,
			Metrics:   []models.MetricType{models.MetricInputKbps, models.MetricOutputKbps},
			Diagnosis: "Input and output throughput deviated together; network or pipeline saturation is likely.",
			Recommendations: []string{
				"Inspect bulk operations (MGET/MSET, SCAN dumps, replication bursts)",
				"Check network bandwidth limits on the host",
			},
		},
		{
			Pattern:   models.PatternLatencyDegradation,
			Metrics:   []models.MetricType{models.MetricSlowlogLength, models.MetricOpsPerSec},
			Diagnosis: "Slow commands are accumulating while throughput shifts; command latency is degrading.",
			Recommendations: []string{
				"Review SLOWLOG GET for expensive commands and large keys",
				"Look for O(N) commands issued against grown collections",
			},
		},
		{
			Pattern:   models.PatternFragmentation,
			Metrics:   []models.MetricType{models.MetricFragmentationRatio, models.MetricMemoryUsed},
			Diagnosis: "Fragmentation ratio deviated together with memory usage; the allocator is wasting resident memory.",
			Recommendations: []string{
				"Consider activedefrag if supported by the deployment",
				"Check for workloads with highly variable value sizes",
			},
		},
	}
}

// LoadCatalog reads a pattern catalog from a YAML file. An empty path or a
// missing file falls back to the built-in catalog.
func LoadCatalog(path string) ([]CatalogEntry, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultCatalog(), nil
		}
		return nil, fmt.Errorf("read pattern catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pattern catalog: %w", err)
	}
	if len(file.Patterns) == 0 {
		return DefaultCatalog(), nil
	}
	for i, entry := range file.Patterns {
		if entry.Pattern == "" || len(entry.Metrics) == 0 {
			return nil, fmt.Errorf("pattern catalog entry %d: pattern and metrics are required", i)
		}
	}
	return file.Patterns, nil
}
