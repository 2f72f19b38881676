// Package engine drives sampling and correlation, owns the per-metric
// buffers and detectors, and serves low-latency reads from bounded
// in-memory rings.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/kvmonitor/kvmonitor/internal/correlator"
	"github.com/kvmonitor/kvmonitor/internal/detector"
	"github.com/kvmonitor/kvmonitor/internal/metrics"
	"github.com/kvmonitor/kvmonitor/internal/models"
	"github.com/kvmonitor/kvmonitor/internal/stats"
	"github.com/kvmonitor/kvmonitor/internal/utils"
)

// MetricSource supplies one flattened key/value instrumentation view per
// sampling tick.
type MetricSource interface {
	Snapshot(ctx context.Context) (map[string]string, error)
}

// Store persists detected events and groups and answers historical range
// queries. Writes are best-effort relative to detection.
type Store interface {
	SaveEvent(ctx context.Context, ev models.AnomalyEvent) error
	SaveGroup(ctx context.Context, g models.CorrelatedGroup) error
	QueryEvents(ctx context.Context, f models.EventFilter) ([]models.AnomalyEvent, error)
	QueryGroups(ctx context.Context, f models.GroupFilter) ([]models.CorrelatedGroup, error)
}

// Options tunes the engine's timers, rings and detection parameters.
type Options struct {
	PollInterval        time.Duration
	CorrelationInterval time.Duration
	CorrelationWindow   time.Duration
	FreshnessTTL        time.Duration
	EventRingSize       int
	GroupRingSize       int
	BufferCapacity      int
	WarmupSamples       int
	SourceTimeout       time.Duration
	StoreTimeout        time.Duration
	DefaultLimit        int
	DetectorConfigs     map[models.MetricType]detector.Config
	Catalog             []correlator.CatalogEntry
}

func (o *Options) normalize() {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.CorrelationInterval <= 0 {
		o.CorrelationInterval = 5 * time.Second
	}
	if o.CorrelationWindow <= 0 {
		o.CorrelationWindow = correlator.DefaultWindow
	}
	if o.FreshnessTTL <= 0 {
		o.FreshnessTTL = time.Hour
	}
	if o.EventRingSize <= 0 {
		o.EventRingSize = 1000
	}
	if o.GroupRingSize <= 0 {
		o.GroupRingSize = 100
	}
	if o.SourceTimeout <= 0 {
		o.SourceTimeout = 800 * time.Millisecond
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 2 * time.Second
	}
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = 100
	}
	if o.DetectorConfigs == nil {
		o.DetectorConfigs = detector.DefaultConfigs()
	}
}

// Engine owns all mutable detection state. A single goroutine started by
// Run mutates buffers, detectors and rings; the query surface hands it
// closures over a command channel, so no fine-grained locking exists.
type Engine struct {
	logger     *slog.Logger
	source     MetricSource
	store      Store
	opts       Options
	correlator *correlator.Correlator
	extractor  *extractor

	buffers   map[models.MetricType]*stats.Buffer
	detectors map[models.MetricType]*detector.SpikeDetector
	events    []*models.AnomalyEvent
	groups    []*models.CorrelatedGroup

	cmds      chan func()
	latencies *utils.LatencyTracker
	ticks     int
	now       func() time.Time
}

// New wires an engine for the fixed set of tracked metrics.
func New(logger *slog.Logger, source MetricSource, store Store, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	opts.normalize()

	buffers := make(map[models.MetricType]*stats.Buffer)
	detectors := make(map[models.MetricType]*detector.SpikeDetector)
	for _, m := range models.AllMetricTypes() {
		buffers[m] = stats.NewBuffer(m, opts.BufferCapacity, opts.WarmupSamples)
		detectors[m] = detector.New(m, opts.DetectorConfigs[m])
	}

	return &Engine{
		logger:     logger,
		source:     source,
		store:      store,
		opts:       opts,
		correlator: correlator.New(opts.CorrelationWindow, opts.Catalog, logger),
		extractor:  newExtractor(),
		buffers:    buffers,
		detectors:  detectors,
		events:     make([]*models.AnomalyEvent, 0, opts.EventRingSize),
		groups:     make([]*models.CorrelatedGroup, 0, opts.GroupRingSize),
		cmds:       make(chan func()),
		latencies:  utils.NewLatencyTracker(1024),
		now:        time.Now,
	}
}

// Run drives the sampling and correlation timers until the context is
// cancelled. It must be called exactly once; all engine state is owned by
// this goroutine.
func (e *Engine) Run(ctx context.Context) {
	sampleTicker := time.NewTicker(e.opts.PollInterval)
	defer sampleTicker.Stop()
	correlateTicker := time.NewTicker(e.opts.CorrelationInterval)
	defer correlateTicker.Stop()

	e.logger.Info("engine started",
		slog.Duration("poll_interval", e.opts.PollInterval),
		slog.Duration("correlation_interval", e.opts.CorrelationInterval))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return
		case <-sampleTicker.C:
			e.sampleOnce(ctx)
		case <-correlateTicker.C:
			e.correlateOnce()
		case fn := <-e.cmds:
			fn()
		}
	}
}

// sampleOnce runs one sampling tick: fetch, extract, detect, persist.
// A source failure skips the whole tick; an unparseable field skips only
// its metric. Nothing here is fatal.
func (e *Engine) sampleOnce(ctx context.Context) {
	started := e.now()

	snapCtx, cancel := context.WithTimeout(ctx, e.opts.SourceTimeout)
	snap, err := e.source.Snapshot(snapCtx)
	cancel()
	if err != nil {
		e.logger.Warn("snapshot fetch failed, skipping tick", slog.Any("error", err))
		metrics.ObserveTick(e.now().Sub(started), metrics.OutcomeError)
		return
	}

	ts := e.now()
	values := e.extractor.extract(snap, ts)
	for _, m := range models.AllMetricTypes() {
		value, ok := values[m]
		if !ok {
			metrics.MetricSkipped(string(m))
			continue
		}
		buf := e.buffers[m]
		// Detect against the pre-sample statistics; samples that cross the
		// warning bound are kept out of the window so a sustained deviation
		// does not dilute the baseline it is judged by.
		st := buf.Stats()
		ev, crossed := e.detectors[m].Detect(st, value, ts)
		if !crossed {
			buf.AddSample(value, ts)
		}
		if ev != nil {
			e.appendEvent(ev)
			metrics.AnomalyDetected(string(ev.Metric), string(ev.Severity))
			e.logger.Info("anomaly detected",
				slog.String("metric", string(ev.Metric)),
				slog.String("severity", string(ev.Severity)),
				slog.Float64("value", ev.Value),
				slog.Float64("z_score", ev.ZScore))
			e.persistEvent(*ev)
		}
	}

	elapsed := e.now().Sub(started)
	e.latencies.Observe(elapsed)
	metrics.ObserveTick(elapsed, metrics.OutcomeSuccess)
	e.ticks++
	if e.ticks%300 == 0 {
		e.logger.Info("sampling latency",
			slog.Duration("p95", e.latencies.Percentile(95)),
			slog.Int("ticks", e.ticks))
	}
}

// correlateOnce clusters the current ungrouped, unresolved anomalies.
func (e *Engine) correlateOnce() {
	candidates := make([]*models.AnomalyEvent, 0, len(e.events))
	for _, ev := range e.events {
		if !ev.Resolved && ev.CorrelationID == "" {
			candidates = append(candidates, ev)
		}
	}
	if len(candidates) == 0 {
		return
	}
	for _, g := range e.correlator.Correlate(candidates) {
		e.appendGroup(g)
		metrics.GroupFormed(string(g.Pattern))
		e.persistGroup(*g)
	}
}

// appendEvent adds to the live ring, evicting the oldest entry at capacity.
// The ring update always precedes persistence: a storage outage degrades
// durability, not availability of recent reads.
func (e *Engine) appendEvent(ev *models.AnomalyEvent) {
	if len(e.events) == e.opts.EventRingSize {
		copy(e.events, e.events[1:])
		e.events = e.events[:e.opts.EventRingSize-1]
	}
	e.events = append(e.events, ev)
}

func (e *Engine) appendGroup(g *models.CorrelatedGroup) {
	if len(e.groups) == e.opts.GroupRingSize {
		copy(e.groups, e.groups[1:])
		e.groups = e.groups[:e.opts.GroupRingSize-1]
	}
	e.groups = append(e.groups, g)
}

// persistEvent mirrors an event to the store without blocking the tick
// loop. Failures are logged and abandoned, never retried synchronously.
func (e *Engine) persistEvent(ev models.AnomalyEvent) {
	if e.store == nil {
		return
	}
	store, timeout, logger := e.store, e.opts.StoreTimeout, e.logger
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := store.SaveEvent(ctx, ev); err != nil {
			metrics.PersistenceFailure("event")
			logger.Warn("event persistence failed", slog.String("id", ev.ID), slog.Any("error", err))
		}
	}()
}

func (e *Engine) persistGroup(g models.CorrelatedGroup) {
	if e.store == nil {
		return
	}
	store, timeout, logger := e.store, e.opts.StoreTimeout, e.logger
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := store.SaveGroup(ctx, g); err != nil {
			metrics.PersistenceFailure("group")
			logger.Warn("group persistence failed", slog.String("correlation_id", g.CorrelationID), slog.Any("error", err))
		}
	}()
}

// do executes fn on the owner goroutine and waits for completion.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
