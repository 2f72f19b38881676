// Package store persists anomaly history to a Valkey/Redis-compatible
// server and answers range queries that fall outside the engine's
// freshness window.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kvmonitor/kvmonitor/internal/models"
	"github.com/kvmonitor/kvmonitor/internal/utils"
)

// Config holds connection and retention parameters. History may live on a
// different instance (or DB index) than the monitored deployment.
type Config struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
	MaxEvents    int64
	MaxGroups    int64
}

// ValkeyStore keeps events and groups as JSON members of two sorted sets
// scored by their timestamps, trimmed to a bounded retention.
type ValkeyStore struct {
	client    *redis.Client
	prefix    string
	maxEvents int64
	maxGroups int64
}

// NewValkeyStore builds the store and pings the target so misconfiguration
// fails fast; callers degrade to a NoopStore when it does.
func NewValkeyStore(cfg Config) (*ValkeyStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("store addr is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "kvmonitor"
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 50_000
	}
	if cfg.MaxGroups <= 0 {
		cfg.MaxGroups = 5_000
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, utils.NewAppError("store.New", "valkey store unreachable", err)
	}

	return &ValkeyStore{
		client:    client,
		prefix:    cfg.KeyPrefix,
		maxEvents: cfg.MaxEvents,
		maxGroups: cfg.MaxGroups,
	}, nil
}

func (s *ValkeyStore) eventsKey() string { return s.prefix + ":events" }
func (s *ValkeyStore) groupsKey() string { return s.prefix + ":groups" }

// SaveEvent appends an event to the history set and trims retention.
func (s *ValkeyStore) SaveEvent(ctx context.Context, ev models.AnomalyEvent) error {
	return s.save(ctx, s.eventsKey(), ev.Timestamp, ev, s.maxEvents)
}

// SaveGroup appends a group to the history set and trims retention.
func (s *ValkeyStore) SaveGroup(ctx context.Context, g models.CorrelatedGroup) error {
	return s.save(ctx, s.groupsKey(), g.Timestamp, g, s.maxGroups)
}

func (s *ValkeyStore) save(ctx context.Context, key string, ts time.Time, v any, max int64) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return utils.NewAppError("store.save", "encode "+key, err)
	}
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(ts.UnixMilli()), Member: payload})
	pipe.ZRemRangeByRank(ctx, key, 0, -(max + 1))
	if _, err := pipe.Exec(ctx); err != nil {
		return utils.NewAppError("store.save", "write "+key, err)
	}
	return nil
}

// QueryEvents returns persisted events in the filter's window, newest first.
func (s *ValkeyStore) QueryEvents(ctx context.Context, f models.EventFilter) ([]models.AnomalyEvent, error) {
	raw, err := s.rangeByScore(ctx, s.eventsKey(), f.Start, f.End)
	if err != nil {
		return nil, err
	}
	events := make([]models.AnomalyEvent, 0, len(raw))
	for _, member := range raw {
		var ev models.AnomalyEvent
		if err := json.Unmarshal([]byte(member), &ev); err != nil {
			continue
		}
		if f.Severity != "" && ev.Severity != f.Severity {
			continue
		}
		if f.Metric != "" && ev.Metric != f.Metric {
			continue
		}
		events = append(events, ev)
		if f.Limit > 0 && len(events) == f.Limit {
			break
		}
	}
	return events, nil
}

// QueryGroups returns persisted groups in the filter's window, newest first.
func (s *ValkeyStore) QueryGroups(ctx context.Context, f models.GroupFilter) ([]models.CorrelatedGroup, error) {
	raw, err := s.rangeByScore(ctx, s.groupsKey(), f.Start, f.End)
	if err != nil {
		return nil, err
	}
	groups := make([]models.CorrelatedGroup, 0, len(raw))
	for _, member := range raw {
		var g models.CorrelatedGroup
		if err := json.Unmarshal([]byte(member), &g); err != nil {
			continue
		}
		if f.Pattern != "" && g.Pattern != f.Pattern {
			continue
		}
		groups = append(groups, g)
		if f.Limit > 0 && len(groups) == f.Limit {
			break
		}
	}
	return groups, nil
}

func (s *ValkeyStore) rangeByScore(ctx context.Context, key string, start, end time.Time) ([]string, error) {
	min, max := "-inf", "+inf"
	if !start.IsZero() {
		min = strconv.FormatInt(start.UnixMilli(), 10)
	}
	if !end.IsZero() {
		max = strconv.FormatInt(end.UnixMilli(), 10)
	}
	raw, err := s.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return nil, utils.NewAppError("store.query", "range "+key, err)
	}
	return raw, nil
}

// Close releases the connection pool.
func (s *ValkeyStore) Close() error { return s.client.Close() }

// NoopStore discards writes and answers queries with nothing. Used when
// persistence is disabled or the history backend is unreachable at boot.
type NoopStore struct{}

func (NoopStore) SaveEvent(context.Context, models.AnomalyEvent) error    { return nil }
func (NoopStore) SaveGroup(context.Context, models.CorrelatedGroup) error { return nil }
func (NoopStore) QueryEvents(context.Context, models.EventFilter) ([]models.AnomalyEvent, error) {
	return nil, nil
}
func (NoopStore) QueryGroups(context.Context, models.GroupFilter) ([]models.CorrelatedGroup, error) {
	return nil, nil
}
func (NoopStore) Close() error { return nil }
