package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the monitor.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Valkey    ValkeyConfig              `yaml:"valkey"`
	Store     StoreConfig               `yaml:"store"`
	Engine    EngineConfig              `yaml:"engine"`
	Detectors map[string]DetectorConfig `yaml:"detectors"`
	Patterns  PatternsConfig            `yaml:"patterns"`
	Logging   LoggingConfig             `yaml:"logging"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ValkeyConfig configures the monitored server connection.
type ValkeyConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	PoolSize     int           `yaml:"poolSize"`
}

// StoreConfig controls optional anomaly persistence. The store may point at
// a different server than the one being monitored.
type StoreConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	KeyPrefix    string        `yaml:"keyPrefix"`
	MaxEvents    int64         `yaml:"maxEvents"`
	MaxGroups    int64         `yaml:"maxGroups"`
}

// EngineConfig tunes sampling, correlation and the in-memory rings.
type EngineConfig struct {
	PollInterval        time.Duration `yaml:"pollInterval"`
	CorrelationInterval time.Duration `yaml:"correlationInterval"`
	CorrelationWindow   time.Duration `yaml:"correlationWindow"`
	FreshnessTTL        time.Duration `yaml:"freshnessTTL"`
	EventRingSize       int           `yaml:"eventRingSize"`
	GroupRingSize       int           `yaml:"groupRingSize"`
	BufferCapacity      int           `yaml:"bufferCapacity"`
	WarmupSamples       int           `yaml:"warmupSamples"`
	SourceTimeout       time.Duration `yaml:"sourceTimeout"`
	StoreTimeout        time.Duration `yaml:"storeTimeout"`
}

// DetectorConfig overrides detection thresholds for one metric. Pointer
// fields distinguish "not set" from an explicit zero.
type DetectorConfig struct {
	WarningZScore       *float64       `yaml:"warningZScore"`
	CriticalZScore      *float64       `yaml:"criticalZScore"`
	WarningThreshold    *float64       `yaml:"warningThreshold"`
	CriticalThreshold   *float64       `yaml:"criticalThreshold"`
	ConsecutiveRequired *int           `yaml:"consecutiveRequired"`
	Cooldown            *time.Duration `yaml:"cooldown"`
}

// PatternsConfig controls incident pattern catalog loading.
type PatternsConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("KVMONITOR_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Valkey: ValkeyConfig{
			Addr:         "localhost:6379",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		Store: StoreConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			KeyPrefix:    "kvmonitor",
			MaxEvents:    50_000,
			MaxGroups:    5_000,
		},
		Engine: EngineConfig{
			PollInterval:        time.Second,
			CorrelationInterval: 5 * time.Second,
			CorrelationWindow:   10 * time.Second,
			FreshnessTTL:        time.Hour,
			EventRingSize:       1000,
			GroupRingSize:       100,
			BufferCapacity:      120,
			WarmupSamples:       30,
			SourceTimeout:       800 * time.Millisecond,
			StoreTimeout:        2 * time.Second,
		},
		Patterns: PatternsConfig{Path: ""},
		Logging:  LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KVMONITOR_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("KVMONITOR_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("KVMONITOR_VALKEY_ADDR"); v != "" {
		cfg.Valkey.Addr = v
	}
	if v := os.Getenv("KVMONITOR_VALKEY_USERNAME"); v != "" {
		cfg.Valkey.Username = v
	}
	if v := os.Getenv("KVMONITOR_VALKEY_PASSWORD"); v != "" {
		cfg.Valkey.Password = v
	}
	if v := os.Getenv("KVMONITOR_VALKEY_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Valkey.DB = db
		}
	}
	if v := os.Getenv("KVMONITOR_STORE_ENABLED"); v != "" {
		cfg.Store.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("KVMONITOR_STORE_ADDR"); v != "" {
		cfg.Store.Addr = v
	}
	if v := os.Getenv("KVMONITOR_STORE_USERNAME"); v != "" {
		cfg.Store.Username = v
	}
	if v := os.Getenv("KVMONITOR_STORE_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv("KVMONITOR_STORE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Store.DB = db
		}
	}
	if v := os.Getenv("KVMONITOR_STORE_KEY_PREFIX"); v != "" {
		cfg.Store.KeyPrefix = v
	}
	if v := os.Getenv("KVMONITOR_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.PollInterval = d
		}
	}
	if v := os.Getenv("KVMONITOR_CORRELATION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.CorrelationInterval = d
		}
	}
	if v := os.Getenv("KVMONITOR_CORRELATION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.CorrelationWindow = d
		}
	}
	if v := os.Getenv("KVMONITOR_FRESHNESS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.FreshnessTTL = d
		}
	}
	if v := os.Getenv("KVMONITOR_PATTERNS_PATH"); v != "" {
		cfg.Patterns.Path = v
	}
	if v := os.Getenv("KVMONITOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KVMONITOR_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
