package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kvmonitor/kvmonitor/internal/models"
)

// Events answers an anomaly query. Windows that begin inside the freshness
// horizon are served from the live ring; anything older falls through to
// the store, which also covers entries the ring has already evicted.
func (e *Engine) Events(ctx context.Context, f models.EventFilter) ([]models.AnomalyEvent, error) {
	if err := validateWindow(f.Start, f.End); err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = e.opts.DefaultLimit
	}
	if !e.isFresh(f.Start) {
		if e.store == nil {
			return []models.AnomalyEvent{}, nil
		}
		out, err := e.store.QueryEvents(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("query events: %w", err)
		}
		return out, nil
	}

	var out []models.AnomalyEvent
	err := e.do(ctx, func() {
		out = make([]models.AnomalyEvent, 0, f.Limit)
		// Ring is held oldest-first; answers are newest-first.
		for i := len(e.events) - 1; i >= 0 && len(out) < f.Limit; i-- {
			ev := e.events[i]
			if !f.Start.IsZero() && ev.Timestamp.Before(f.Start) {
				break
			}
			if !f.End.IsZero() && ev.Timestamp.After(f.End) {
				continue
			}
			if f.Severity != "" && ev.Severity != f.Severity {
				continue
			}
			if f.Metric != "" && ev.Metric != f.Metric {
				continue
			}
			out = append(out, *ev)
		}
	})
	return out, err
}

// Groups answers a correlated group query with the same routing rules as
// Events.
func (e *Engine) Groups(ctx context.Context, f models.GroupFilter) ([]models.CorrelatedGroup, error) {
	if err := validateWindow(f.Start, f.End); err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = e.opts.DefaultLimit
	}
	if !e.isFresh(f.Start) {
		if e.store == nil {
			return []models.CorrelatedGroup{}, nil
		}
		out, err := e.store.QueryGroups(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("query groups: %w", err)
		}
		return out, nil
	}

	var out []models.CorrelatedGroup
	err := e.do(ctx, func() {
		out = make([]models.CorrelatedGroup, 0, f.Limit)
		for i := len(e.groups) - 1; i >= 0 && len(out) < f.Limit; i-- {
			g := e.groups[i]
			if !f.Start.IsZero() && g.Timestamp.Before(f.Start) {
				break
			}
			if !f.End.IsZero() && g.Timestamp.After(f.End) {
				continue
			}
			if f.Pattern != "" && g.Pattern != f.Pattern {
				continue
			}
			out = append(out, *g)
		}
	})
	return out, err
}

// Summary aggregates events and groups over the window, following the same
// ring-or-store routing as Events: stale windows are recomputed from the
// persisted history rather than whatever the rings still hold.
func (e *Engine) Summary(ctx context.Context, start, end time.Time) (models.Summary, error) {
	if err := validateWindow(start, end); err != nil {
		return models.Summary{}, err
	}
	if !e.isFresh(start) {
		s := newSummary(start, end)
		if e.store == nil {
			return s, nil
		}
		events, err := e.store.QueryEvents(ctx, models.EventFilter{Start: start, End: end})
		if err != nil {
			return models.Summary{}, fmt.Errorf("summary events: %w", err)
		}
		groups, err := e.store.QueryGroups(ctx, models.GroupFilter{Start: start, End: end})
		if err != nil {
			return models.Summary{}, fmt.Errorf("summary groups: %w", err)
		}
		for i := range events {
			tallyEvent(&s, &events[i])
		}
		for i := range groups {
			tallyGroup(&s, &groups[i])
		}
		return s, nil
	}

	var s models.Summary
	err := e.do(ctx, func() {
		s = newSummary(start, end)
		for _, ev := range e.events {
			if inWindow(ev.Timestamp, start, end) {
				tallyEvent(&s, ev)
			}
		}
		for _, g := range e.groups {
			if inWindow(g.Timestamp, start, end) {
				tallyGroup(&s, g)
			}
		}
	})
	return s, err
}

func newSummary(start, end time.Time) models.Summary {
	return models.Summary{
		WindowStart: start,
		WindowEnd:   end,
		BySeverity:  make(map[models.Severity]int),
		ByMetric:    make(map[models.MetricType]int),
		ByPattern:   make(map[models.PatternType]int),
	}
}

func tallyEvent(s *models.Summary, ev *models.AnomalyEvent) {
	s.TotalEvents++
	if ev.Resolved {
		s.ResolvedEvents++
	} else {
		s.ActiveEvents++
	}
	s.BySeverity[ev.Severity]++
	s.ByMetric[ev.Metric]++
}

func tallyGroup(s *models.Summary, g *models.CorrelatedGroup) {
	s.TotalGroups++
	if g.Resolved {
		s.ResolvedGroups++
	} else {
		s.ActiveGroups++
	}
	s.ByPattern[g.Pattern]++
}

func inWindow(ts, start, end time.Time) bool {
	if !start.IsZero() && ts.Before(start) {
		return false
	}
	if !end.IsZero() && ts.After(end) {
		return false
	}
	return true
}

// BufferStats reports current rolling statistics for every tracked metric,
// sorted by metric name for stable output.
func (e *Engine) BufferStats(ctx context.Context) ([]models.BufferStats, error) {
	var out []models.BufferStats
	err := e.do(ctx, func() {
		out = make([]models.BufferStats, 0, len(e.buffers))
		for _, buf := range e.buffers {
			out = append(out, buf.Stats())
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out, nil
}

// ResolveEvent marks one event resolved. Resolution also reaches the copy
// embedded in the event's group, if any. It mutates live state only: the
// persisted history keeps the event as it fired, so re-saving it here
// would plant a second, conflicting copy in the store's sorted set.
// Resolving an already resolved event is a no-op, not an error.
func (e *Engine) ResolveEvent(ctx context.Context, id string) error {
	found := false
	err := e.do(ctx, func() {
		for _, ev := range e.events {
			if ev.ID != id {
				continue
			}
			found = true
			ev.Resolved = true
			if ev.CorrelationID != "" {
				e.resolveGroupMember(ev.CorrelationID, id)
			}
			return
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("event %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// ResolveGroup marks a group and all of its member events resolved. Like
// ResolveEvent it touches live state only, never the persisted history.
func (e *Engine) ResolveGroup(ctx context.Context, correlationID string) error {
	found := false
	err := e.do(ctx, func() {
		for _, g := range e.groups {
			if g.CorrelationID != correlationID {
				continue
			}
			found = true
			g.Resolved = true
			for i := range g.Events {
				g.Events[i].Resolved = true
			}
			for _, ev := range e.events {
				if ev.CorrelationID == correlationID {
					ev.Resolved = true
				}
			}
			return
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("group %s: %w", correlationID, models.ErrNotFound)
	}
	return nil
}

// ClearResolved drops resolved events and groups from the live rings and
// reports how many of each were removed. Persisted history is untouched.
func (e *Engine) ClearResolved(ctx context.Context) (events, groups int, err error) {
	err = e.do(ctx, func() {
		kept := e.events[:0]
		for _, ev := range e.events {
			if ev.Resolved {
				events++
				continue
			}
			kept = append(kept, ev)
		}
		for i := len(kept); i < len(e.events); i++ {
			e.events[i] = nil
		}
		e.events = kept

		keptGroups := e.groups[:0]
		for _, g := range e.groups {
			if g.Resolved {
				groups++
				continue
			}
			keptGroups = append(keptGroups, g)
		}
		for i := len(keptGroups); i < len(e.groups); i++ {
			e.groups[i] = nil
		}
		e.groups = keptGroups
	})
	return events, groups, err
}

// resolveGroupMember keeps the group's embedded copy in sync when a member
// event is resolved individually. Runs on the owner goroutine.
func (e *Engine) resolveGroupMember(correlationID, eventID string) {
	for _, g := range e.groups {
		if g.CorrelationID != correlationID {
			continue
		}
		for i := range g.Events {
			if g.Events[i].ID == eventID {
				g.Events[i].Resolved = true
			}
		}
		return
	}
}

// isFresh reports whether a window starting at start can be answered from
// the live ring. A zero start means "everything recent" and stays local.
func (e *Engine) isFresh(start time.Time) bool {
	if start.IsZero() {
		return true
	}
	return e.now().Sub(start) <= e.opts.FreshnessTTL
}

func validateWindow(start, end time.Time) error {
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("%w: end precedes start", models.ErrInvalidFilter)
	}
	return nil
}
