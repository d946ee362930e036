// Package config loads meek's controller configuration using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level static configuration for the controller.
type Config struct {
	Broker    BrokerConfig    `mapstructure:"broker"`
	Topic     TopicConfig     `mapstructure:"topic"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	SQL       SQLConfig       `mapstructure:"sql"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Health    HealthConfig    `mapstructure:"health"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Stream    StreamConfig    `mapstructure:"stream"`
	TaskState TaskStateConfig `mapstructure:"task_state"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
	ModelSync ModelSyncConfig `mapstructure:"model_sync"`
}

// BrokerConfig holds MQTT broker connection settings.
type BrokerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	ClientID   string `mapstructure:"client_id"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	QoS        byte   `mapstructure:"qos"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
}

// TopicConfig holds the bus topic prefix shared by every node/controller
// topic (e.g. "meek").
type TopicConfig struct {
	Prefix string `mapstructure:"prefix"`
}

// HTTPConfig controls the Lifecycle API listener.
type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
}

// SQLConfig controls the persistence layer.
type SQLConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite3"
	DSN    string `mapstructure:"dsn"`
}

// CacheConfig controls the Redis-backed cache.
type CacheConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DispatchConfig holds the dispatcher's scoring weights and timeouts
// (spec §4.5).
type DispatchConfig struct {
	ResourceWeight  float64       `mapstructure:"resource_weight"`
	BalanceWeight   float64       `mapstructure:"balance_weight"`
	NodeWeight      float64       `mapstructure:"node_weight"`
	AcceptTimeout   time.Duration `mapstructure:"accept_timeout"`
	RetryPriorityOp int           `mapstructure:"retry_priority_drop"` // not read; pkg/retryqueue always demotes one level per failed attempt
}

// HealthConfig controls the node health tracker (spec §4.4).
type HealthConfig struct {
	Interval        time.Duration `mapstructure:"interval"`         // T
	OfflineMultiple float64       `mapstructure:"offline_multiple"` // offline threshold = T * multiple
}

// RetryConfig controls the task priority/retry queue (spec §4.8).
type RetryConfig struct {
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	MaxRetries    int           `mapstructure:"max_retries"`
	MirrorEvery   time.Duration `mapstructure:"mirror_every"`
}

// StreamConfig controls the stream monitor (spec §4.9).
type StreamConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	WorkerPool int           `mapstructure:"worker_pool"`
}

// TaskStateConfig controls the task state manager's batch writer
// (spec §4.6).
type TaskStateConfig struct {
	BatchInterval time.Duration `mapstructure:"batch_interval"`
}

// MetricsConfig controls the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	JSONOutput bool   `mapstructure:"json_output"`
}

// ModelSyncConfig controls the periodic model-marketplace sync
// (SPEC_FULL.md §6.2).
type ModelSyncConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration from a YAML file at path, applies defaults,
// and allows environment-variable overrides (MEEK_ prefix, "." replaced
// by "_", e.g. MEEK_BROKER_HOST).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("meek")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.host", "localhost")
	v.SetDefault("broker.port", 1883)
	v.SetDefault("broker.client_id", "meek-controller")
	v.SetDefault("broker.qos", 1)

	v.SetDefault("topic.prefix", "meek")

	v.SetDefault("http.listen", ":8080")

	v.SetDefault("sql.driver", "sqlite3")
	v.SetDefault("sql.dsn", "meek.db")

	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)

	v.SetDefault("dispatch.resource_weight", 0.4)
	v.SetDefault("dispatch.balance_weight", 0.4)
	v.SetDefault("dispatch.node_weight", 0.2)
	v.SetDefault("dispatch.accept_timeout", "10s")
	v.SetDefault("dispatch.retry_priority_drop", 1)

	v.SetDefault("health.interval", "20s")
	v.SetDefault("health.offline_multiple", 2.0)

	v.SetDefault("retry.base_delay", "5s")
	v.SetDefault("retry.backoff_factor", 2.0)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.mirror_every", "30s")

	v.SetDefault("stream.interval", "60s")
	v.SetDefault("stream.worker_pool", 5)

	v.SetDefault("task_state.batch_interval", "100ms")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9090")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json_output", true)

	v.SetDefault("model_sync.enabled", false)
	v.SetDefault("model_sync.interval", "1h")
}

// Validate checks invariants that defaults alone cannot guarantee.
func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return fmt.Errorf("broker.host must not be empty")
	}
	if c.Dispatch.ResourceWeight+c.Dispatch.BalanceWeight+c.Dispatch.NodeWeight <= 0 {
		return fmt.Errorf("dispatch weights must sum to a positive value")
	}
	if c.Health.OfflineMultiple <= 1 {
		return fmt.Errorf("health.offline_multiple must be > 1")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	return nil
}
