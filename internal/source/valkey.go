// Package source supplies flattened instrumentation snapshots of the
// monitored Valkey/Redis-compatible deployment.
package source

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kvmonitor/kvmonitor/internal/utils"
)

// Config holds connection parameters for the monitored deployment.
type Config struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// ValkeySource produces one flattened key/value view of the server's
// instrumentation per call: INFO ALL plus the slow-log length.
type ValkeySource struct {
	client *redis.Client
}

// NewValkeySource builds the client. Connectivity is not verified here so
// the engine can start during an upstream outage; use Ping to check.
func NewValkeySource(cfg Config) (*ValkeySource, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
	return &ValkeySource{client: client}, nil
}

// Ping verifies connectivity.
func (s *ValkeySource) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Snapshot returns the current instrumentation view. Fields that cannot be
// gathered are simply absent; the engine skips their metrics for the tick.
func (s *ValkeySource) Snapshot(ctx context.Context) (map[string]string, error) {
	raw, err := s.client.Info(ctx, "all").Result()
	if err != nil {
		return nil, utils.NewAppError("source.Snapshot", "INFO fetch failed", err)
	}
	snap := ParseInfo(raw)

	// SLOWLOG LEN is not part of INFO; merge it under its own field.
	if n, err := s.client.Do(ctx, "slowlog", "len").Int64(); err == nil {
		snap["slowlog_len"] = strconv.FormatInt(n, 10)
	}
	return snap, nil
}

// Close releases the connection pool.
func (s *ValkeySource) Close() error { return s.client.Close() }

// ParseInfo flattens an INFO reply into a key/value map. Section headers
// and malformed lines are dropped.
func ParseInfo(raw string) map[string]string {
	snap := make(map[string]string, 128)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok || key == "" {
			continue
		}
		snap[key] = value
	}
	return snap
}
