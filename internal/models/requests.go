package models

import (
	"errors"
	"time"
)

// ErrInvalidFilter marks contradictory or out-of-range query parameters.
// It is rejected to the caller and never retried.
var ErrInvalidFilter = errors.New("invalid filter")

// ErrNotFound reports that no event or group carries the requested id.
var ErrNotFound = errors.New("not found")

// EventFilter bounds an anomaly event query.
type EventFilter struct {
	Start    time.Time
	End      time.Time
	Severity Severity
	Metric   MetricType
	Limit    int
}

// GroupFilter bounds a correlated group query.
type GroupFilter struct {
	Start   time.Time
	End     time.Time
	Pattern PatternType
	Limit   int
}

// Summary aggregates events and groups over a window, split into
// active and resolved populations.
type Summary struct {
	WindowStart    time.Time           `json:"windowStart,omitempty"`
	WindowEnd      time.Time           `json:"windowEnd,omitempty"`
	TotalEvents    int                 `json:"totalEvents"`
	ActiveEvents   int                 `json:"activeEvents"`
	ResolvedEvents int                 `json:"resolvedEvents"`
	BySeverity     map[Severity]int    `json:"bySeverity"`
	ByMetric       map[MetricType]int  `json:"byMetric"`
	TotalGroups    int                 `json:"totalGroups"`
	ActiveGroups   int                 `json:"activeGroups"`
	ResolvedGroups int                 `json:"resolvedGroups"`
	ByPattern      map[PatternType]int `json:"byPattern"`
}
